// Package deploy implements the chain lifecycle operations.
//
// Every mutating operation runs in three phases:
//
//  1. validation, which may probe the network but changes nothing;
//  2. one storage transaction holding the row changes and the local
//     configuration files generated from them;
//  3. scheduling of remote provisioning on the engine, after commit.
//
// Operations on the same chain are serialized by chain name; different
// chains proceed in parallel.
package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/configgen"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/internal/group"
	"evalgo.org/chainmgr/internal/keylock"
	"evalgo.org/chainmgr/internal/netutil"
	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// HostChecker verifies hosts before they are recorded.
type HostChecker interface {
	CheckReachable(ctx context.Context, ip string, creds models.SSHCredentials, timeout time.Duration) error
	CheckImagePresent(ctx context.Context, ips []string, creds models.SSHCredentials, version string) error
}

// Scheduler accepts asynchronous provisioning work.
type Scheduler interface {
	ScheduleDeploy(chain *models.Chain) error
	ScheduleAddNodes(chain *models.Chain, host *models.Host, newHost bool, newFronts []*models.Front, affectedGroups []int) error
	ScheduleRestartAffected(chain *models.Chain, groupIDs []int, tr engine.Transition) error
	ScheduleStartNode(chain *models.Chain, host *models.Host, front *models.Front, tr engine.Transition) error
	ScheduleStopNode(chain *models.Chain, host *models.Host, front *models.Front) error
	ScheduleRemoveNode(chainName string, host *models.Host, hostIndex int, nodeID string) error
	ScheduleUpgrade(chain *models.Chain, version string) error
	ScheduleTeardown(chainName string, hosts []*models.Host, fronts []*models.Front) error
}

// LocalChecker recognises the manager's own addresses.
type LocalChecker interface {
	IsLocal(ip string) (bool, error)
}

// ProbeFunc checks that a TCP address accepts connections within timeout.
type ProbeFunc func(ctx context.Context, addr string, timeout time.Duration) error

// Dependencies are the collaborators of the Service.
type Dependencies struct {
	Store     *storage.Storage
	Paths     *paths.Service
	Generator *configgen.Generator
	Groups    *group.Manager
	Hosts     HostChecker
	Engine    Scheduler
	Local     LocalChecker
	// Probe defaults to netutil.CheckAddress
	Probe ProbeFunc
	Log   logrus.FieldLogger
}

// Service is the orchestrator of chain lifecycle operations.
type Service struct {
	deploy config.DeployConfig
	ssh    config.SSHConfig

	store  *storage.Storage
	paths  *paths.Service
	gen    *configgen.Generator
	groups *group.Manager
	hosts  HostChecker
	engine Scheduler
	local  LocalChecker
	probe  ProbeFunc
	log    logrus.FieldLogger

	chainLocks *keylock.Map
}

// New assembles a Service.
func New(cfg *config.Config, deps Dependencies) *Service {
	probe := deps.Probe
	if probe == nil {
		probe = netutil.CheckAddress
	}
	return &Service{
		deploy:     cfg.Deploy,
		ssh:        cfg.SSH,
		store:      deps.Store,
		paths:      deps.Paths,
		gen:        deps.Generator,
		groups:     deps.Groups,
		hosts:      deps.Hosts,
		engine:     deps.Engine,
		local:      deps.Local,
		probe:      probe,
		log:        deps.Log,
		chainLocks: keylock.New(),
	}
}

func (s *Service) defaultCredentials() models.SSHCredentials {
	return models.SSHCredentials{User: s.ssh.DefaultUser, Port: s.ssh.DefaultPort}
}

// lockChain serializes operations on one chain.
func (s *Service) lockChain(name string) func() {
	return s.chainLocks.Lock(name)
}

// loadChain resolves a chain by name outside any transaction.
func (s *Service) loadChain(ctx context.Context, name string) (*models.Chain, error) {
	chain, err := s.store.Repos().GetChainByName(ctx, name)
	if err != nil {
		return nil, storeErr(err, "chain %s", name)
	}
	return chain, nil
}

// loadTopology snapshots the recorded state of a chain.
func loadTopology(ctx context.Context, r *storage.Repos, chain *models.Chain) (*configgen.Topology, error) {
	hosts, err := r.ListHosts(ctx, chain.ID)
	if err != nil {
		return nil, err
	}
	agencies, err := r.ListAgencies(ctx, chain.ID)
	if err != nil {
		return nil, err
	}
	fronts, err := r.ListFronts(ctx, chain.ID)
	if err != nil {
		return nil, err
	}
	return configgen.NewTopology(chain, hosts, agencies, fronts), nil
}

// restorePeerConfig regenerates peer configuration from the committed rows
// after a rolled back transaction rewrote it.
func (s *Service) restorePeerConfig(ctx context.Context, chainName string, groupIDs []int) {
	r := s.store.Repos()
	chain, err := r.GetChainByName(ctx, chainName)
	if err != nil {
		return
	}
	topo, err := loadTopology(ctx, r, chain)
	if err == nil {
		err = s.gen.RegeneratePeerConfig(topo, groupIDs)
	}
	if err != nil {
		s.log.WithField("chain", chainName).Errorf("failed to restore peer configuration: %v", err)
	}
}

// scheduled reports a scheduling failure after commit. The recorded state is
// kept; the operator retries through start or add operations.
func (s *Service) scheduled(chainName string, err error) error {
	if err == nil {
		return nil
	}
	s.log.WithField("chain", chainName).Errorf("failed to schedule provisioning: %v", err)
	return apperr.Wrap(apperr.ProvisioningFailure, err, "provisioning of chain %s was not scheduled", chainName)
}

// storeErr maps storage errors onto error kinds.
func storeErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFoundf(format+" not found", args...)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Internal, err, "storage failure loading "+format, args...)
}

// configErr wraps a local file generation failure.
func configErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.ConfigIOFailure, err, format, args...)
}

func joinGroups(groups ...[]int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, g := range groups {
		for _, id := range g {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
