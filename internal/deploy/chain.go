package deploy

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/configgen"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

var chainNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// DeployRequest describes a new chain.
type DeployRequest struct {
	ChainName   string   `json:"chainName" validate:"required"`
	HostSpecs   []string `json:"hosts" validate:"required,min=1"`
	TagID       int64    `json:"tagId" validate:"required"`
	RootDir     string   `json:"rootDir" validate:"required"`
	SignAddr    string   `json:"signAddr" validate:"required"`
	ImageSource string   `json:"imageSource" validate:"required"`
	EncryptType int      `json:"encryptType" validate:"oneof=0 1"`
}

func validateChainName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.InvalidArgumentf("chain name is required")
	}
	if !chainNamePattern.MatchString(name) {
		return apperr.InvalidArgumentf("invalid chain name %q", name)
	}
	return nil
}

// resolveTag loads the tag an operation refers to.
func (s *Service) resolveTag(ctx context.Context, tagID int64) (*models.Tag, error) {
	tag, err := s.store.Repos().GetTag(ctx, tagID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.InvalidArgumentf("unknown tag %d", tagID)
	}
	if err != nil {
		return nil, storeErr(err, "tag %d", tagID)
	}
	if strings.TrimSpace(tag.Value) == "" {
		return nil, apperr.InvalidArgumentf("tag %d has no image value", tagID)
	}
	return tag, nil
}

// checkNotSelf rejects addresses of the manager itself.
func (s *Service) checkNotSelf(ip string) error {
	local, err := s.local.IsLocal(ip)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to inspect local addresses")
	}
	if local {
		return apperr.PreconditionFailedf("host %s is the manager itself", ip)
	}
	return nil
}

func (s *Service) checkReachable(ctx context.Context, ip string, creds models.SSHCredentials) error {
	if err := s.hosts.CheckReachable(ctx, ip, creds, s.ssh.ConnectTimeout); err != nil {
		if apperr.KindOf(err) != apperr.Internal {
			return err
		}
		return apperr.Wrap(apperr.ConnectivityFailure, err, "host %s is not reachable over ssh", ip)
	}
	return nil
}

func (s *Service) checkImage(ctx context.Context, ips []string, creds models.SSHCredentials, version string) error {
	if err := s.hosts.CheckImagePresent(ctx, ips, creds, version); err != nil {
		if apperr.KindOf(err) != apperr.Internal {
			return err
		}
		return apperr.Wrap(apperr.PreconditionFailed, err, "image %s is not present", version)
	}
	return nil
}

// DeployChain records a new chain with its hosts, agencies, groups and
// fronts, generates its configuration and schedules provisioning.
func (s *Service) DeployChain(ctx context.Context, req DeployRequest) (*models.Chain, error) {
	if err := validateChainName(req.ChainName); err != nil {
		return nil, err
	}
	source, err := models.ParseImageSource(req.ImageSource)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidArgument, err, "invalid image source")
	}
	if strings.TrimSpace(req.RootDir) == "" || !path.IsAbs(req.RootDir) {
		return nil, apperr.InvalidArgumentf("root directory must be an absolute path")
	}
	if strings.TrimSpace(req.SignAddr) == "" {
		return nil, apperr.InvalidArgumentf("signing helper address is required")
	}
	if req.EncryptType != 0 && req.EncryptType != 1 {
		return nil, apperr.InvalidArgumentf("invalid encrypt type %d", req.EncryptType)
	}
	specs, err := configgen.ParseHostSpecs(req.HostSpecs, s.deploy.MaxNodesPerHost)
	if err != nil {
		return nil, err
	}

	unlock := s.lockChain(req.ChainName)
	defer unlock()

	tag, err := s.resolveTag(ctx, req.TagID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Repos().GetChainByName(ctx, req.ChainName); err == nil {
		return nil, apperr.ConstraintViolationf("chain %s already exists", req.ChainName)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, storeErr(err, "chain %s", req.ChainName)
	}

	ips := make([]string, 0, len(specs))
	for _, spec := range specs {
		if err := s.checkNotSelf(spec.IP); err != nil {
			return nil, err
		}
		ips = append(ips, spec.IP)
	}
	if err := s.probe(ctx, req.SignAddr, s.deploy.SignCheckTimeout); err != nil {
		return nil, apperr.Wrap(apperr.ConnectivityFailure, err, "signing helper %s is not reachable", req.SignAddr)
	}
	creds := s.defaultCredentials()
	for _, ip := range ips {
		if err := s.checkReachable(ctx, ip, creds); err != nil {
			return nil, err
		}
	}
	if !source.SelfProvisions() {
		if err := s.checkImage(ctx, ips, creds, tag.Value); err != nil {
			return nil, err
		}
	}

	// Leftovers of an earlier chain with the same name are moved aside.
	if stale, err := s.paths.ArchiveChain(req.ChainName); err != nil {
		return nil, configErr(err, "failed to move stale files of chain %s aside", req.ChainName)
	} else if stale != "" {
		s.log.WithField("chain", req.ChainName).Warnf("moved stale chain files to %s", stale)
	}

	chain := &models.Chain{
		Name:        req.ChainName,
		Version:     tag.Value,
		EncryptType: req.EncryptType,
		RootDir:     req.RootDir,
		SignAddr:    req.SignAddr,
		ImageSource: source,
		Status:      models.ChainDeploying,
	}
	err = s.store.Atomic(ctx, "deploy chain "+req.ChainName, func(r *storage.Repos) error {
		if err := r.InsertChain(ctx, chain); err != nil {
			return err
		}
		for _, spec := range specs {
			agency, err := s.ensureAgency(ctx, r, chain, spec.Agency)
			if err != nil {
				return err
			}
			host := &models.Host{
				ChainID:  chain.ID,
				AgencyID: agency.ID,
				IP:       spec.IP,
				SSHUser:  creds.User,
				SSHPort:  creds.Port,
				RootDir:  chain.RootDir,
				Status:   models.HostAdded,
			}
			if err := r.InsertHost(ctx, host); err != nil {
				return err
			}
			if _, _, err := s.addFronts(ctx, r, chain, host, spec.GroupID, spec.Count); err != nil {
				return err
			}
			if _, _, err := s.groups.ReserveCapacity(ctx, r, chain.ID, spec.GroupID, spec.Count); err != nil {
				return err
			}
		}

		topo, err := loadTopology(ctx, r, chain)
		if err != nil {
			return err
		}
		return configErr(s.gen.GenerateChainConfig(topo), "failed to generate configuration of chain %s", chain.Name)
	})
	if err != nil {
		if rmErr := s.paths.Fs().RemoveAll(s.paths.ChainRoot(req.ChainName)); rmErr != nil {
			s.log.WithField("chain", req.ChainName).Errorf("failed to remove partial configuration: %v", rmErr)
		}
		return nil, err
	}

	s.log.WithField("chain", chain.Name).Infof("chain recorded with %d hosts, scheduling provisioning", len(specs))
	return chain, s.scheduled(chain.Name, s.engine.ScheduleDeploy(chain))
}

// ensureAgency returns the agency of the chain with the given name,
// creating it when missing.
func (s *Service) ensureAgency(ctx context.Context, r *storage.Repos, chain *models.Chain, name string) (*models.Agency, error) {
	agency, err := r.GetAgencyByName(ctx, chain.ID, name)
	if err == nil {
		return agency, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	agency = &models.Agency{
		ChainID:     chain.ID,
		Name:        name,
		EncryptType: chain.EncryptType,
		Fingerprint: configgen.AgencyFingerprint(chain.Name, name),
	}
	if err := r.InsertAgency(ctx, agency); err != nil {
		return nil, err
	}
	return agency, nil
}

// addFronts allocates n slots on host and records a new front with fresh
// key material in each. first is the lowest allocated slot, or -1 when
// allocation failed.
func (s *Service) addFronts(ctx context.Context, r *storage.Repos, chain *models.Chain, host *models.Host, groupID, n int) (first int, fronts []*models.Front, err error) {
	first, err = r.AllocateSlots(ctx, host.ID, n)
	if err != nil {
		return -1, nil, err
	}
	fronts = make([]*models.Front, 0, n)
	for i := 0; i < n; i++ {
		idx := first + i
		nodeID, err := s.gen.CreateNode(chain, host.IP, idx)
		if err != nil {
			return first, nil, configErr(err, "failed to create node %d on %s", idx, host.IP)
		}
		f := &models.Front{
			NodeID:    nodeID,
			ChainID:   chain.ID,
			HostID:    host.ID,
			AgencyID:  host.AgencyID,
			GroupID:   groupID,
			HostIndex: idx,
			Status:    models.FrontAdding,
			ImageTag:  chain.Version,
		}
		if err := r.InsertFront(ctx, f); err != nil {
			return first, nil, err
		}
		fronts = append(fronts, f)
	}
	return first, fronts, nil
}

// DeleteChain removes every record of a chain and moves its configuration
// aside. Containers and remote directories are torn down afterwards on a
// best-effort basis.
func (s *Service) DeleteChain(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.InvalidArgumentf("chain name is required")
	}
	unlock := s.lockChain(name)
	defer unlock()

	chain, err := s.loadChain(ctx, name)
	if err != nil {
		return err
	}
	r := s.store.Repos()
	hosts, err := r.ListHosts(ctx, chain.ID)
	if err != nil {
		return storeErr(err, "hosts of chain %s", name)
	}
	fronts, err := r.ListFronts(ctx, chain.ID)
	if err != nil {
		return storeErr(err, "fronts of chain %s", name)
	}

	var archived string
	err = s.store.Atomic(ctx, "delete chain "+name, func(r *storage.Repos) error {
		if err := r.DeleteChain(ctx, chain.ID); err != nil {
			return err
		}
		a, err := s.paths.ArchiveChain(name)
		if err != nil {
			return configErr(err, "failed to move configuration of chain %s aside", name)
		}
		archived = a
		return nil
	})
	if err != nil {
		if restoreErr := s.paths.RestoreChain(name, archived); restoreErr != nil {
			s.log.WithField("chain", name).Errorf("failed to restore configuration from %s: %v", archived, restoreErr)
		}
		return err
	}
	if err := s.paths.PurgeArchivedChain(archived); err != nil {
		s.log.WithField("chain", name).Warnf("failed to purge %s: %v", archived, err)
	}

	s.log.WithField("chain", name).Info("chain deleted")
	if err := s.engine.ScheduleTeardown(name, hosts, fronts); err != nil {
		s.log.WithField("chain", name).Warnf("remote teardown not scheduled: %v", err)
	}
	return nil
}

// Upgrade moves a chain to the image of tagID and schedules reinstallation
// of its fronts.
func (s *Service) Upgrade(ctx context.Context, tagID int64, chainName string) (*models.Chain, error) {
	if strings.TrimSpace(chainName) == "" {
		return nil, apperr.InvalidArgumentf("chain name is required")
	}
	unlock := s.lockChain(chainName)
	defer unlock()

	tag, err := s.resolveTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	chain, err := s.loadChain(ctx, chainName)
	if err != nil {
		return nil, err
	}
	if tag.Value == chain.Version {
		return nil, apperr.ConstraintViolationf("chain %s already runs %s", chainName, tag.Value)
	}
	if !chain.ImageSource.SelfProvisions() {
		hosts, err := s.store.Repos().ListHosts(ctx, chain.ID)
		if err != nil {
			return nil, storeErr(err, "hosts of chain %s", chainName)
		}
		for _, h := range hosts {
			if err := s.checkImage(ctx, []string{h.IP}, h.Credentials(), tag.Value); err != nil {
				return nil, err
			}
		}
	}

	previous := *chain
	err = s.store.Atomic(ctx, "upgrade chain "+chainName, func(r *storage.Repos) error {
		if err := r.UpdateChainVersion(ctx, chain.ID, tag.Value); err != nil {
			return err
		}
		return r.UpdateChainStatus(ctx, chain.ID, models.ChainUpgrading)
	})
	if err != nil {
		return nil, err
	}
	chain.Version = tag.Value
	chain.Status = models.ChainUpgrading

	if err := s.engine.ScheduleUpgrade(chain, tag.Value); err != nil {
		restoreErr := s.store.Atomic(ctx, "revert upgrade of "+chainName, func(r *storage.Repos) error {
			if err := r.UpdateChainVersion(ctx, chain.ID, previous.Version); err != nil {
				return err
			}
			return r.UpdateChainStatus(ctx, chain.ID, previous.Status)
		})
		if restoreErr != nil {
			s.log.WithField("chain", chainName).Errorf("failed to revert version: %v", restoreErr)
		}
		return nil, s.scheduled(chainName, err)
	}

	s.log.WithField("chain", chainName).Infof("upgrading from %s to %s", previous.Version, tag.Value)
	return chain, nil
}

// Progress reports how many fronts of a chain are running.
func (s *Service) Progress(ctx context.Context, chainName string) (*models.Progress, error) {
	if strings.TrimSpace(chainName) == "" {
		return nil, apperr.InvalidArgumentf("chain name is required")
	}
	chain, err := s.loadChain(ctx, chainName)
	if err != nil {
		return nil, err
	}
	fronts, err := s.store.Repos().ListFronts(ctx, chain.ID)
	if err != nil {
		return nil, storeErr(err, "fronts of chain %s", chainName)
	}

	p := &models.Progress{Chain: chain.Name, Status: string(chain.Status), Total: len(fronts)}
	for _, f := range fronts {
		switch f.Status {
		case models.FrontRunning:
			p.Running++
		case models.FrontFailed:
			p.Failed++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Running * 100 / p.Total
	}
	return p, nil
}

// ListChains returns every chain.
func (s *Service) ListChains(ctx context.Context) ([]*models.Chain, error) {
	chains, err := s.store.Repos().ListChains(ctx)
	if err != nil {
		return nil, storeErr(err, "chains")
	}
	return chains, nil
}

// GetChain returns one chain by name.
func (s *Service) GetChain(ctx context.Context, name string) (*models.Chain, error) {
	return s.loadChain(ctx, name)
}

// ChainDetail is a chain with its recorded topology.
type ChainDetail struct {
	*models.Chain
	Hosts    []*models.Host   `json:"hosts"`
	Agencies []*models.Agency `json:"agencies"`
	Groups   []*models.Group  `json:"groups"`
	Fronts   []*models.Front  `json:"fronts"`
}

// DescribeChain returns a chain with its hosts, agencies, groups and fronts.
func (s *Service) DescribeChain(ctx context.Context, name string) (*ChainDetail, error) {
	chain, err := s.loadChain(ctx, name)
	if err != nil {
		return nil, err
	}
	r := s.store.Repos()
	d := &ChainDetail{Chain: chain}
	if d.Hosts, err = r.ListHosts(ctx, chain.ID); err != nil {
		return nil, storeErr(err, "hosts of chain %s", name)
	}
	if d.Agencies, err = r.ListAgencies(ctx, chain.ID); err != nil {
		return nil, storeErr(err, "agencies of chain %s", name)
	}
	if d.Groups, err = r.ListGroups(ctx, chain.ID); err != nil {
		return nil, storeErr(err, "groups of chain %s", name)
	}
	if d.Fronts, err = r.ListFronts(ctx, chain.ID); err != nil {
		return nil, storeErr(err, "fronts of chain %s", name)
	}
	return d, nil
}
