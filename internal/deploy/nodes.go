package deploy

import (
	"context"
	"errors"
	"strings"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/internal/netutil"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// AddNodesRequest describes nodes to add to an existing chain.
type AddNodesRequest struct {
	ChainName string `json:"chainName" validate:"required"`
	IP        string `json:"ip" validate:"required,ipv4"`
	Num       int    `json:"num" validate:"required,gt=0"`
	// Agency is required when IP is not yet a host of the chain
	Agency  string `json:"agency"`
	GroupID int    `json:"groupId" validate:"gte=0"`
	// ImageSource defaults to the image source of the chain
	ImageSource string `json:"imageSource"`
}

// AddNodes adds Num fronts on IP, creating the host and its agency when
// the address is new to the chain.
func (s *Service) AddNodes(ctx context.Context, req AddNodesRequest) ([]*models.Front, error) {
	if strings.TrimSpace(req.ChainName) == "" {
		return nil, apperr.InvalidArgumentf("chain name is required")
	}
	if req.Num <= 0 {
		return nil, apperr.InvalidArgumentf("node count must be positive, got %d", req.Num)
	}
	if req.Num > s.deploy.MaxNodesPerHost {
		return nil, apperr.ConstraintViolationf("%d nodes exceeds the maximum of %d per host", req.Num, s.deploy.MaxNodesPerHost)
	}
	if req.GroupID < 0 {
		return nil, apperr.InvalidArgumentf("invalid group id %d", req.GroupID)
	}
	groupID := req.GroupID
	if groupID == 0 {
		groupID = models.DefaultGroupID
	}
	if !netutil.ValidIPv4(req.IP) {
		return nil, apperr.InvalidArgumentf("invalid ip %q", req.IP)
	}

	unlock := s.lockChain(req.ChainName)
	defer unlock()

	chain, err := s.loadChain(ctx, req.ChainName)
	if err != nil {
		return nil, err
	}
	source := chain.ImageSource
	if strings.TrimSpace(req.ImageSource) != "" {
		if source, err = models.ParseImageSource(req.ImageSource); err != nil {
			return nil, apperr.Wrap(apperr.InvalidArgument, err, "invalid image source")
		}
	}
	if err := s.checkNotSelf(req.IP); err != nil {
		return nil, err
	}

	r := s.store.Repos()
	host, err := r.GetHostByIP(ctx, chain.ID, req.IP)
	newHost := errors.Is(err, storage.ErrNotFound)
	if err != nil && !newHost {
		return nil, storeErr(err, "host %s", req.IP)
	}

	creds := s.defaultCredentials()
	if !newHost {
		creds = host.Credentials()
		n, err := r.CountFrontsByHost(ctx, host.ID)
		if err != nil {
			return nil, storeErr(err, "fronts of host %s", req.IP)
		}
		if n+req.Num > s.deploy.MaxNodesPerHost {
			return nil, apperr.ConstraintViolationf("host %s has %d nodes, adding %d exceeds the maximum of %d",
				req.IP, n, req.Num, s.deploy.MaxNodesPerHost)
		}
	} else if strings.TrimSpace(req.Agency) == "" {
		return nil, apperr.InvalidArgumentf("agency is required for new host %s", req.IP)
	}
	if err := s.checkReachable(ctx, req.IP, creds); err != nil {
		return nil, err
	}
	if newHost && !source.SelfProvisions() {
		if err := s.checkImage(ctx, []string{req.IP}, creds, chain.Version); err != nil {
			return nil, err
		}
	}

	var fronts []*models.Front
	firstSlot := -1
	err = s.store.Atomic(ctx, "add nodes to "+chain.Name, func(r *storage.Repos) error {
		if newHost {
			agency, err := s.ensureAgency(ctx, r, chain, strings.TrimSpace(req.Agency))
			if err != nil {
				return err
			}
			host = &models.Host{
				ChainID:  chain.ID,
				AgencyID: agency.ID,
				IP:       req.IP,
				SSHUser:  creds.User,
				SSHPort:  creds.Port,
				RootDir:  chain.RootDir,
				Status:   models.HostAdded,
			}
			if err := r.InsertHost(ctx, host); err != nil {
				return err
			}
		}

		_, isNewGroup, err := s.groups.ReserveCapacity(ctx, r, chain.ID, groupID, req.Num)
		if err != nil {
			return err
		}
		if firstSlot, fronts, err = s.addFronts(ctx, r, chain, host, groupID, req.Num); err != nil {
			return err
		}

		topo, err := loadTopology(ctx, r, chain)
		if err != nil {
			return err
		}
		if err := s.gen.GenerateHostSDK(topo, host); err != nil {
			return configErr(err, "failed to generate sdk bundle for %s", host.IP)
		}
		if err := s.gen.GenerateGroupConfig(isNewGroup, topo, groupID, fronts); err != nil {
			return configErr(err, "failed to generate group %d configuration", groupID)
		}
		return configErr(s.gen.RegeneratePeerConfig(topo, []int{groupID}), "failed to regenerate peer configuration")
	})
	if err != nil {
		s.rollbackAddedNodes(ctx, chain.Name, req.IP, newHost, firstSlot, req.Num, groupID)
		return nil, err
	}

	s.log.WithField("chain", chain.Name).Infof("recorded %d nodes on %s", len(fronts), req.IP)
	return fronts, s.scheduled(chain.Name, s.engine.ScheduleAddNodes(chain, host, newHost, fronts, []int{groupID}))
}

// rollbackAddedNodes removes the files written by a failed AddNodes
// transaction. A new host loses its whole directory; on an existing host the
// allocated slots are removed and the SDK bundle is regenerated from the
// committed rows.
func (s *Service) rollbackAddedNodes(ctx context.Context, chainName, ip string, newHost bool, firstSlot, n, groupID int) {
	log := s.log.WithField("chain", chainName).WithField("ip", ip)
	fs := s.paths.Fs()
	if newHost {
		if err := fs.RemoveAll(s.paths.HostRoot(chainName, ip)); err != nil {
			log.Errorf("failed to remove host directory: %v", err)
		}
	} else if firstSlot >= 0 {
		for idx := firstSlot; idx < firstSlot+n; idx++ {
			if err := fs.RemoveAll(s.paths.NodeRoot(chainName, ip, idx)); err != nil {
				log.Errorf("failed to remove node directory %d: %v", idx, err)
			}
		}
	}
	s.restorePeerConfig(ctx, chainName, []int{groupID})
	if newHost {
		return
	}

	r := s.store.Repos()
	chain, err := r.GetChainByName(ctx, chainName)
	if err != nil {
		log.Errorf("failed to reload chain for sdk restore: %v", err)
		return
	}
	host, err := r.GetHostByIP(ctx, chain.ID, ip)
	if err != nil {
		log.Errorf("failed to reload host for sdk restore: %v", err)
		return
	}
	topo, err := loadTopology(ctx, r, chain)
	if err == nil {
		err = s.gen.GenerateHostSDK(topo, host)
	}
	if err != nil {
		log.Errorf("failed to restore sdk bundle: %v", err)
	}
}

// frontContext is a front with its chain and host, resolved under the chain lock.
type frontContext struct {
	chain *models.Chain
	host  *models.Host
	front *models.Front
}

// lockFront resolves nodeID and takes the lock of its chain. The front is
// read again after locking so the caller sees its current status.
func (s *Service) lockFront(ctx context.Context, nodeID string) (*frontContext, func(), error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, nil, apperr.InvalidArgumentf("node id is required")
	}
	r := s.store.Repos()
	f, err := r.GetFrontByNodeID(ctx, nodeID)
	if err != nil {
		return nil, nil, storeErr(err, "node %s", nodeID)
	}
	chain, err := r.GetChain(ctx, f.ChainID)
	if err != nil {
		return nil, nil, storeErr(err, "chain of node %s", nodeID)
	}

	unlock := s.lockChain(chain.Name)
	fc := &frontContext{chain: chain}
	if fc.front, err = r.GetFrontByNodeID(ctx, nodeID); err != nil {
		unlock()
		return nil, nil, storeErr(err, "node %s", nodeID)
	}
	if fc.host, err = r.GetHost(ctx, fc.front.HostID); err != nil {
		unlock()
		return nil, nil, storeErr(err, "host of node %s", nodeID)
	}
	return fc, unlock, nil
}

// StartNode starts a stopped node, restarts a running one and reinstalls a
// failed one. tr selects the statuses recorded on the way; the zero value
// means engine.StartTransition.
func (s *Service) StartNode(ctx context.Context, nodeID string, tr engine.Transition) error {
	if tr.IsZero() {
		tr = engine.StartTransition
	}
	if err := tr.Validate(); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, err, "invalid transition")
	}
	fc, unlock, err := s.lockFront(ctx, nodeID)
	if err != nil {
		return err
	}
	defer unlock()

	st := fc.front.Status
	if st != models.FrontAdding && !models.CanTransition(st, tr.Before) {
		return apperr.PreconditionFailedf("node %s is %s and cannot move to %s", nodeID, st, tr.Before)
	}
	s.log.WithField("nodeId", nodeID).Infof("starting node from %s (%s/%s/%s)", st, tr.Before, tr.Success, tr.Failure)
	return s.scheduled(fc.chain.Name, s.engine.ScheduleStartNode(fc.chain, fc.host, fc.front, tr))
}

// StopNode stops a running node.
func (s *Service) StopNode(ctx context.Context, nodeID string) error {
	fc, unlock, err := s.lockFront(ctx, nodeID)
	if err != nil {
		return err
	}
	defer unlock()

	if st := fc.front.Status; !models.CanTransition(st, models.FrontStopping) {
		return apperr.PreconditionFailedf("node %s is %s and cannot be stopped", nodeID, st)
	}
	s.log.WithField("nodeId", nodeID).Info("stopping node")
	return s.scheduled(fc.chain.Name, s.engine.ScheduleStopNode(fc.chain, fc.host, fc.front))
}

// DeleteNodeRequest selects a node to delete and the records to drop with it.
type DeleteNodeRequest struct {
	NodeID string `json:"nodeId" validate:"required"`
	// DeleteHost drops the host when no node remains on it
	DeleteHost bool `json:"deleteHost"`
	// DeleteAgency drops the agency when no host remains under it
	DeleteAgency bool `json:"deleteAgency"`
}

// DeleteNode removes a stopped or failed node, shrinks its groups and
// refreshes the peers of the remaining members.
func (s *Service) DeleteNode(ctx context.Context, req DeleteNodeRequest) error {
	fc, unlock, err := s.lockFront(ctx, req.NodeID)
	if err != nil {
		return err
	}
	defer unlock()

	chain, host, front := fc.chain, fc.host, fc.front
	if front.Status.IsRunning() {
		return apperr.PreconditionFailedf("node %s is %s, stop it first", front.NodeID, front.Status)
	}
	if err := models.ValidateTransition(front.Status, models.FrontDeleting); err != nil {
		return apperr.Wrap(apperr.PreconditionFailed, err, "node %s cannot be deleted", front.NodeID)
	}

	affected, err := s.groups.AffectedGroups(chain.Name, host.IP, front)
	if err != nil {
		return configErr(err, "failed to read groups of node %s", front.NodeID)
	}
	affected = joinGroups(affected, []int{front.GroupID})

	var archived string
	var hostDeleted bool
	err = s.store.Atomic(ctx, "delete node "+front.NodeID, func(r *storage.Repos) error {
		if err := r.DeleteFront(ctx, front.ID); err != nil {
			return err
		}
		if err := s.groups.Recount(ctx, r, chain.ID, affected); err != nil {
			return err
		}

		if req.DeleteHost {
			n, err := r.CountFrontsByHost(ctx, host.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := r.DeleteHost(ctx, host.ID); err != nil {
					return err
				}
				hostDeleted = true
			}
		}
		if req.DeleteAgency {
			n, err := r.CountHostsByAgency(ctx, host.AgencyID)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := r.DeleteAgency(ctx, host.AgencyID); err != nil {
					return err
				}
			}
		}

		topo, err := loadTopology(ctx, r, chain)
		if err != nil {
			return err
		}
		if err := s.gen.RegeneratePeerConfig(topo, affected); err != nil {
			return configErr(err, "failed to regenerate peer configuration")
		}
		a, err := s.paths.ArchiveNodeDirectory(chain.Name, host.IP, front.HostIndex, front.NodeID)
		if err != nil {
			return configErr(err, "failed to move node %s aside", front.NodeID)
		}
		archived = a
		return nil
	})
	if err != nil {
		if restoreErr := s.paths.RestoreNodeDirectory(archived, chain.Name, host.IP, front.HostIndex); restoreErr != nil {
			s.log.WithField("nodeId", front.NodeID).Errorf("failed to restore node directory: %v", restoreErr)
		}
		s.restorePeerConfig(ctx, chain.Name, affected)
		return err
	}

	log := s.log.WithField("chain", chain.Name).WithField("nodeId", front.NodeID)
	log.Infof("node deleted (host deleted: %t)", hostDeleted)
	if err := s.engine.ScheduleRemoveNode(chain.Name, host, front.HostIndex, front.NodeID); err != nil {
		log.Warnf("remote removal not scheduled: %v", err)
	}
	return s.scheduled(chain.Name, s.engine.ScheduleRestartAffected(chain, affected, engine.RestartTransition))
}

// ListFronts returns the fronts of a chain.
func (s *Service) ListFronts(ctx context.Context, chainName string) ([]*models.Front, error) {
	chain, err := s.loadChain(ctx, chainName)
	if err != nil {
		return nil, err
	}
	fronts, err := s.store.Repos().ListFronts(ctx, chain.ID)
	if err != nil {
		return nil, storeErr(err, "fronts of chain %s", chainName)
	}
	return fronts, nil
}

// GetFront returns one front by node ID.
func (s *Service) GetFront(ctx context.Context, nodeID string) (*models.Front, error) {
	if strings.TrimSpace(nodeID) == "" {
		return nil, apperr.InvalidArgumentf("node id is required")
	}
	f, err := s.store.Repos().GetFrontByNodeID(ctx, nodeID)
	if err != nil {
		return nil, storeErr(err, "node %s", nodeID)
	}
	return f, nil
}
