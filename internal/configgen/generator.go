// Package configgen produces chain, group and node configuration files on
// the manager filesystem from a snapshot of the recorded topology.
//
// All output goes through an afero.Fs so generation is a pure function of
// topology plus crypto parameters and can be exercised in memory.
package configgen

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/models"
)

// File names inside a node conf directory.
const (
	ConfigIniFile = "config.ini"
	NodeIDFile    = "node.nodeid"
	NodeKeyFile   = "node.key"
	SDKConfigFile = "config.yaml"
)

var genesisFilePattern = regexp.MustCompile(`^group\.(\d+)\.genesis$`)

// GenesisFileName is the genesis file of a group.
func GenesisFileName(groupID int) string {
	return fmt.Sprintf("group.%d.genesis", groupID)
}

// GroupIniFileName is the settings file of a group.
func GroupIniFileName(groupID int) string {
	return fmt.Sprintf("group.%d.ini", groupID)
}

// Topology is a snapshot of the recorded state of one chain.
type Topology struct {
	Chain    *models.Chain
	Hosts    map[int64]*models.Host
	Agencies map[int64]*models.Agency
	Fronts   []*models.Front
}

// NewTopology indexes hosts and agencies by ID.
func NewTopology(chain *models.Chain, hosts []*models.Host, agencies []*models.Agency, fronts []*models.Front) *Topology {
	t := &Topology{
		Chain:    chain,
		Hosts:    make(map[int64]*models.Host, len(hosts)),
		Agencies: make(map[int64]*models.Agency, len(agencies)),
		Fronts:   fronts,
	}
	for _, h := range hosts {
		t.Hosts[h.ID] = h
	}
	for _, a := range agencies {
		t.Agencies[a.ID] = a
	}
	return t
}

// GroupMembers returns the fronts of a group in host and slot order.
func (t *Topology) GroupMembers(groupID int) []*models.Front {
	var members []*models.Front
	for _, f := range t.Fronts {
		if f.GroupID == groupID {
			members = append(members, f)
		}
	}
	return members
}

// Options tune generated content.
type Options struct {
	// DockerDaemonPort is rendered into host SDK bundles
	DockerDaemonPort int
	// LogLevel is the node log level
	LogLevel string
}

// Generator writes configuration files for a chain.
type Generator struct {
	fs    afero.Fs
	paths *paths.Service
	opts  Options

	configIni *template.Template
	genesis   *template.Template
	groupIni  *template.Template
}

// New creates a generator writing under the layout of p.
func New(p *paths.Service, opts Options) *Generator {
	parse := func(name, text string) *template.Template {
		return template.Must(template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text))
	}
	return &Generator{
		fs:        p.Fs(),
		paths:     p,
		opts:      opts,
		configIni: parse(ConfigIniFile, configIniTemplate),
		genesis:   parse("genesis", genesisTemplate),
		groupIni:  parse("group.ini", groupIniTemplate),
	}
}

// CreateNode creates key material for the node in the given host slot and
// returns its node ID.
func (g *Generator) CreateNode(chain *models.Chain, ip string, hostIndex int) (string, error) {
	id, err := NewNodeIdentity(chain.EncryptType)
	if err != nil {
		return "", err
	}
	dir := g.paths.NodeConfDir(chain.Name, ip, hostIndex)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := afero.WriteFile(g.fs, filepath.Join(dir, NodeKeyFile), id.KeyPEM, 0o600); err != nil {
		return "", fmt.Errorf("failed to write node key: %w", err)
	}
	if err := afero.WriteFile(g.fs, filepath.Join(dir, NodeIDFile), []byte(id.NodeID+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write node id: %w", err)
	}
	return id.NodeID, nil
}

// GenerateChainConfig writes the SDK bundle of every host and the full
// configuration of every front of the topology.
func (g *Generator) GenerateChainConfig(t *Topology) error {
	for _, h := range sortedHosts(t) {
		if err := g.GenerateHostSDK(t, h); err != nil {
			return err
		}
	}
	groups := make(map[int]bool)
	for _, f := range t.Fronts {
		groups[f.GroupID] = true
	}
	for _, id := range sortedKeys(groups) {
		if err := g.GenerateGroupConfig(true, t, id, t.GroupMembers(id)); err != nil {
			return err
		}
	}
	return g.RegeneratePeerConfig(t, sortedKeys(groups))
}

type sdkConfig struct {
	Chain            string   `yaml:"chain"`
	Agency           string   `yaml:"agency"`
	Host             string   `yaml:"host"`
	EncryptType      int      `yaml:"encryptType"`
	DockerDaemonPort int      `yaml:"dockerDaemonPort"`
	ChannelPeers     []string `yaml:"channelPeers"`
}

// GenerateHostSDK writes the SDK bundle of one host.
func (g *Generator) GenerateHostSDK(t *Topology, h *models.Host) error {
	cfg := sdkConfig{
		Chain:            t.Chain.Name,
		Host:             h.IP,
		EncryptType:      t.Chain.EncryptType,
		DockerDaemonPort: g.opts.DockerDaemonPort,
		ChannelPeers:     []string{},
	}
	if a, ok := t.Agencies[h.AgencyID]; ok {
		cfg.Agency = a.Name
	}
	for _, f := range t.Fronts {
		if f.HostID == h.ID {
			cfg.ChannelPeers = append(cfg.ChannelPeers, fmt.Sprintf("%s:%d", h.IP, f.Ports().Channel))
		}
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to encode sdk config: %w", err)
	}
	dir := g.paths.SDKDir(t.Chain.Name, h.IP)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return afero.WriteFile(g.fs, filepath.Join(dir, SDKConfigFile), out, 0o644)
}

// RegeneratePeerConfig rewrites config.ini for every front in the given
// groups so their peer lists match the topology.
func (g *Generator) RegeneratePeerConfig(t *Topology, groupIDs []int) error {
	for _, groupID := range groupIDs {
		members := t.GroupMembers(groupID)
		peers, err := peerList(t, members)
		if err != nil {
			return err
		}
		for _, f := range members {
			if err := g.writeConfigIni(t, f, peers); err != nil {
				return err
			}
		}
	}
	return nil
}

// GenerateGroupConfig writes the group files of groupID into newFronts.
// A new group gets a genesis rendered from its current members; an existing
// group reuses the genesis of a member outside newFronts when one exists so
// the group keeps its original genesis block.
func (g *Generator) GenerateGroupConfig(isNew bool, t *Topology, groupID int, newFronts []*models.Front) error {
	var genesis []byte
	if !isNew {
		genesis = g.existingGenesis(t, groupID, newFronts)
	}
	if genesis == nil {
		rendered, err := g.renderGenesis(t, groupID)
		if err != nil {
			return err
		}
		genesis = rendered
	}

	var groupIni bytes.Buffer
	if err := g.groupIni.Execute(&groupIni, map[string]interface{}{
		"Chain":   t.Chain.Name,
		"GroupID": groupID,
	}); err != nil {
		return fmt.Errorf("failed to render group settings: %w", err)
	}

	for _, f := range newFronts {
		dir, err := g.confDir(t, f)
		if err != nil {
			return err
		}
		if err := g.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		if err := afero.WriteFile(g.fs, filepath.Join(dir, GenesisFileName(groupID)), genesis, 0o644); err != nil {
			return fmt.Errorf("failed to write genesis for node %s: %w", f.NodeID, err)
		}
		if err := afero.WriteFile(g.fs, filepath.Join(dir, GroupIniFileName(groupID)), groupIni.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write group settings for node %s: %w", f.NodeID, err)
		}
	}
	return nil
}

// GroupIDsFromNode lists the groups a node belongs to according to the
// genesis files present in its conf directory.
func (g *Generator) GroupIDsFromNode(confDir string) ([]int, error) {
	entries, err := afero.ReadDir(g.fs, confDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", confDir, err)
	}
	var ids []int
	for _, e := range entries {
		m := genesisFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (g *Generator) existingGenesis(t *Topology, groupID int, newFronts []*models.Front) []byte {
	fresh := make(map[string]bool, len(newFronts))
	for _, f := range newFronts {
		fresh[f.NodeID] = true
	}
	for _, f := range t.GroupMembers(groupID) {
		if fresh[f.NodeID] {
			continue
		}
		dir, err := g.confDir(t, f)
		if err != nil {
			continue
		}
		data, err := afero.ReadFile(g.fs, filepath.Join(dir, GenesisFileName(groupID)))
		if err == nil {
			return data
		}
	}
	return nil
}

func (g *Generator) renderGenesis(t *Topology, groupID int) ([]byte, error) {
	var sealers []string
	for _, f := range t.GroupMembers(groupID) {
		sealers = append(sealers, f.NodeID)
	}
	sort.Strings(sealers)

	var buf bytes.Buffer
	err := g.genesis.Execute(&buf, map[string]interface{}{
		"GroupID":   groupID,
		"Sealers":   sealers,
		"Timestamp": t.Chain.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render genesis of group %d: %w", groupID, err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeConfigIni(t *Topology, f *models.Front, peers []string) error {
	dir, err := g.confDir(t, f)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	err = g.configIni.Execute(&buf, map[string]interface{}{
		"Chain":       t.Chain.Name,
		"GroupID":     f.GroupID,
		"Ports":       f.Ports(),
		"Peers":       peers,
		"EncryptType": t.Chain.EncryptType,
		"LogLevel":    g.opts.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to render config of node %s: %w", f.NodeID, err)
	}
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return afero.WriteFile(g.fs, filepath.Join(dir, ConfigIniFile), buf.Bytes(), 0o644)
}

func (g *Generator) confDir(t *Topology, f *models.Front) (string, error) {
	h, ok := t.Hosts[f.HostID]
	if !ok {
		return "", fmt.Errorf("host %d of node %s is not in the topology", f.HostID, f.NodeID)
	}
	return g.paths.NodeConfDir(t.Chain.Name, h.IP, f.HostIndex), nil
}

func peerList(t *Topology, members []*models.Front) ([]string, error) {
	peers := make([]string, 0, len(members))
	for _, f := range members {
		h, ok := t.Hosts[f.HostID]
		if !ok {
			return nil, fmt.Errorf("host %d of node %s is not in the topology", f.HostID, f.NodeID)
		}
		peers = append(peers, fmt.Sprintf("%s:%d", h.IP, f.Ports().P2P))
	}
	return peers, nil
}

func sortedHosts(t *Topology) []*models.Host {
	hosts := make([]*models.Host, 0, len(t.Hosts))
	for _, h := range t.Hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
	return hosts
}

func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
