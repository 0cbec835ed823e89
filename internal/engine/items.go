package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// ScheduleDeploy bootstraps every host of a freshly deployed chain and
// installs and starts all of its fronts.
func (e *Engine) ScheduleDeploy(chain *models.Chain) error {
	return e.submit(models.OptionDeployChain, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		r := e.store.Repos()
		hosts, err := r.ListHosts(ctx, chain.ID)
		if err != nil {
			return err
		}
		fronts, err := r.ListFronts(ctx, chain.ID)
		if err != nil {
			return err
		}
		byHost := frontsByHost(fronts)

		var g errgroup.Group
		for _, h := range hosts {
			g.Go(func() error {
				return e.provisionHost(ctx, log, chain, h, true, byHost[h.ID])
			})
		}
		err = g.Wait()
		e.settleChain(ctx, log, chain.ID)
		return err
	})
}

// ScheduleAddNodes provisions newFronts on host, then pushes configuration
// to and restarts the other running fronts of affectedGroups. A host that is
// new or not READY is bootstrapped again.
func (e *Engine) ScheduleAddNodes(chain *models.Chain, host *models.Host, newHost bool, newFronts []*models.Front, affectedGroups []int) error {
	return e.submit(models.OptionModifyChain, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		fronts := e.reload(ctx, log, newFronts)
		host = e.currentHost(ctx, log, host)
		addErr := e.provisionHost(ctx, log, chain, host, newHost || host.Status != models.HostReady, fronts)

		skip := make(map[string]bool, len(newFronts))
		for _, f := range newFronts {
			skip[f.NodeID] = true
		}
		restartErr := e.restartAffected(ctx, log, chain, affectedGroups, skip, RestartTransition)

		e.settleChain(ctx, log, chain.ID)
		return errors.Join(addErr, restartErr)
	})
}

// ScheduleRestartAffected pushes configuration to every front of groupIDs
// and restarts those that are running, following tr.
func (e *Engine) ScheduleRestartAffected(chain *models.Chain, groupIDs []int, tr Transition) error {
	return e.submit(models.OptionModifyChain, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		return e.restartAffected(ctx, log, chain, groupIDs, nil, tr)
	})
}

// ScheduleStartNode drives one front toward tr.Success. A FAILED front is
// reinstalled from scratch; any other front is restarted. The host is
// bootstrapped first when it is not READY.
func (e *Engine) ScheduleStartNode(chain *models.Chain, host *models.Host, front *models.Front, tr Transition) error {
	return e.submit(models.OptionStartNode, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		fronts := e.reload(ctx, log, []*models.Front{front})
		if len(fronts) == 0 {
			return nil
		}
		f := fronts[0]
		log = log.WithFields(logrus.Fields{"ip": host.IP, "nodeId": f.NodeID})

		return e.withHost(host, func() error {
			if h := e.currentHost(ctx, log, host); h.Status != models.HostReady {
				if err := e.bootstrapHost(ctx, log, chain, h); err != nil {
					return e.failFront(ctx, log, f, models.FrontFailed, err)
				}
			}
			if f.Status == models.FrontFailed {
				if !e.setStatus(ctx, log, f, models.FrontAdding) {
					return nil
				}
			}
			if f.Status == models.FrontAdding {
				return e.installFront(ctx, log, chain, host, f)
			}
			return e.restartFront(ctx, log, chain, host, f, tr)
		})
	})
}

// ScheduleStopNode drives one front to STOPPED.
func (e *Engine) ScheduleStopNode(chain *models.Chain, host *models.Host, front *models.Front) error {
	return e.submit(models.OptionStopNode, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		fronts := e.reload(ctx, log, []*models.Front{front})
		if len(fronts) == 0 {
			return nil
		}
		f := fronts[0]
		log = log.WithFields(logrus.Fields{"ip": host.IP, "nodeId": f.NodeID})

		return e.withHost(host, func() error {
			if !e.setStatus(ctx, log, f, models.FrontStopping) {
				return nil
			}
			if err := e.rt.Stop(ctx, chain.Name, host, f.HostIndex); err != nil {
				return e.failFront(ctx, log, f, models.FrontFailed, err)
			}
			e.setStatus(ctx, log, f, models.FrontStopped)
			return nil
		})
	})
}

// ScheduleRemoveNode removes the container of a deleted front and moves its
// directory aside on the host. host is a snapshot; its row may be gone.
func (e *Engine) ScheduleRemoveNode(chainName string, host *models.Host, hostIndex int, nodeID string) error {
	return e.submit(models.OptionModifyChain, chainName, func(ctx context.Context, log logrus.FieldLogger) error {
		log = log.WithFields(logrus.Fields{"ip": host.IP, "nodeId": nodeID})
		return e.withHost(host, func() error {
			rmErr := e.rt.Remove(ctx, chainName, host, hostIndex)
			if rmErr != nil {
				log.Warnf("failed to remove container: %v", rmErr)
			}
			mvErr := e.prov.MoveNodeAside(ctx, chainName, host, hostIndex, nodeID)
			if mvErr != nil {
				log.Warnf("failed to move node directory aside: %v", mvErr)
			}
			return errors.Join(rmErr, mvErr)
		})
	})
}

// ScheduleUpgrade reinstalls every settled front of the chain with the
// image of version. Running and failed fronts are started again; stopped
// fronts stay stopped. Fronts not installed yet only record the new tag.
func (e *Engine) ScheduleUpgrade(chain *models.Chain, version string) error {
	return e.submit(models.OptionUpgradeChain, chain.Name, func(ctx context.Context, log logrus.FieldLogger) error {
		r := e.store.Repos()
		hosts, err := r.ListHosts(ctx, chain.ID)
		if err != nil {
			return err
		}
		fronts, err := r.ListFronts(ctx, chain.ID)
		if err != nil {
			return err
		}
		byHost := frontsByHost(fronts)

		var g errgroup.Group
		for _, h := range hosts {
			g.Go(func() error {
				hlog := log.WithField("ip", h.IP)
				return e.withHost(h, func() error {
					var errs []error
					for _, f := range e.reload(ctx, hlog, byHost[h.ID]) {
						errs = append(errs, e.upgradeFront(ctx, hlog.WithField("nodeId", f.NodeID), chain, h, f, version))
					}
					return errors.Join(errs...)
				})
			})
		}
		err = g.Wait()
		e.settleChain(ctx, log, chain.ID)
		return err
	})
}

// ScheduleTeardown removes the containers of a deleted chain and moves its
// directories aside on every host. hosts and fronts are snapshots taken
// before the rows were deleted.
func (e *Engine) ScheduleTeardown(chainName string, hosts []*models.Host, fronts []*models.Front) error {
	return e.submit(models.OptionModifyChain, chainName, func(ctx context.Context, log logrus.FieldLogger) error {
		byHost := frontsByHost(fronts)

		var g errgroup.Group
		for _, h := range hosts {
			g.Go(func() error {
				hlog := log.WithField("ip", h.IP)
				return e.withHost(h, func() error {
					var errs []error
					for _, f := range byHost[h.ID] {
						if err := e.rt.Remove(ctx, chainName, h, f.HostIndex); err != nil {
							hlog.Warnf("failed to remove container of node %s: %v", f.NodeID, err)
							errs = append(errs, err)
						}
					}
					if err := e.prov.MoveChainAside(ctx, chainName, h); err != nil {
						hlog.Warnf("failed to move chain directory aside: %v", err)
						errs = append(errs, err)
					}
					return errors.Join(errs...)
				})
			})
		}
		return g.Wait()
	})
}

// provisionHost pushes the host bundle and installs fronts on host. With
// bootstrap set the host status is driven through INITIALIZING to READY.
func (e *Engine) provisionHost(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, host *models.Host, bootstrap bool, fronts []*models.Front) error {
	log = log.WithField("ip", host.IP)
	return e.withHost(host, func() error {
		if bootstrap {
			if err := e.bootstrapHost(ctx, log, chain, host); err != nil {
				for _, f := range fronts {
					_ = e.failFront(ctx, log.WithField("nodeId", f.NodeID), f, models.FrontFailed, err)
				}
				return err
			}
		} else if err := e.prov.PushHostBundle(ctx, chain, host); err != nil {
			log.Warnf("failed to refresh host bundle: %v", err)
		}

		var errs []error
		for _, f := range fronts {
			errs = append(errs, e.installFront(ctx, log.WithField("nodeId", f.NodeID), chain, host, f))
		}
		return errors.Join(errs...)
	})
}

// bootstrapHost pushes the host bundle, driving the host through
// INITIALIZING to READY or FAILED. The caller holds the host lock.
func (e *Engine) bootstrapHost(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, host *models.Host) error {
	e.setHostStatus(ctx, log, host, models.HostInitializing)
	if err := e.prov.PushHostBundle(ctx, chain, host); err != nil {
		e.setHostStatus(ctx, log, host, models.HostFailed)
		return apperr.Wrap(apperr.ProvisioningFailure, err, "bootstrap of host %s failed", host.IP)
	}
	e.setHostStatus(ctx, log, host, models.HostReady)
	return nil
}

// installFront walks an ADDING front through CONFIG_READY and STARTING to
// RUNNING. The caller holds the host lock. The image tag is read again so
// an upgrade recorded since scheduling is installed.
func (e *Engine) installFront(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, host *models.Host, f *models.Front) error {
	if fresh, err := e.store.Repos().GetFrontByNodeID(ctx, f.NodeID); err == nil {
		f.ImageTag = fresh.ImageTag
	}
	if err := e.prov.PushNodeConfig(ctx, chain, host, f.HostIndex); err != nil {
		return e.failFront(ctx, log, f, models.FrontFailed, err)
	}
	if !e.setStatus(ctx, log, f, models.FrontConfigReady) {
		return nil
	}
	if err := e.rt.Install(ctx, chain, host, f, f.ImageTag); err != nil {
		return e.failFront(ctx, log, f, models.FrontFailed, err)
	}
	if !e.setStatus(ctx, log, f, models.FrontStarting) {
		return nil
	}
	if err := e.rt.Start(ctx, chain.Name, host, f.HostIndex); err != nil {
		return e.failFront(ctx, log, f, models.FrontFailed, err)
	}
	e.setStatus(ctx, log, f, models.FrontRunning)
	return nil
}

// restartFront restarts one front following tr. The caller holds the host lock.
func (e *Engine) restartFront(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, host *models.Host, f *models.Front, tr Transition) error {
	if !e.setStatus(ctx, log, f, tr.Before) {
		return nil
	}
	if err := e.rt.Restart(ctx, chain.Name, host, f.HostIndex); err != nil {
		return e.failFront(ctx, log, f, tr.Failure, err)
	}
	e.setStatus(ctx, log, f, tr.Success)
	return nil
}

func (e *Engine) upgradeFront(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, host *models.Host, f *models.Front, version string) error {
	r := e.store.Repos()
	switch f.Status {
	case models.FrontStopped:
		if err := e.rt.Install(ctx, chain, host, f, version); err != nil {
			return e.failFront(ctx, log, f, models.FrontFailed, err)
		}
		return e.recordImageTag(ctx, log, r, f, version)
	case models.FrontRunning, models.FrontFailed:
		if !e.setStatus(ctx, log, f, models.FrontStarting) {
			return nil
		}
		if err := e.rt.Install(ctx, chain, host, f, version); err != nil {
			return e.failFront(ctx, log, f, models.FrontFailed, err)
		}
		if err := e.recordImageTag(ctx, log, r, f, version); err != nil {
			return err
		}
		if err := e.rt.Start(ctx, chain.Name, host, f.HostIndex); err != nil {
			return e.failFront(ctx, log, f, models.FrontFailed, err)
		}
		e.setStatus(ctx, log, f, models.FrontRunning)
		return nil
	case models.FrontAdding:
		// not installed yet; installFront picks the new tag up
		return e.recordImageTag(ctx, log, r, f, version)
	default:
		// CONFIG_READY, STARTING or STOPPING under the host lock means the
		// item driving the front was interrupted.
		if err := e.recordImageTag(ctx, log, r, f, version); err != nil {
			return err
		}
		return e.failFront(ctx, log, f, models.FrontFailed,
			fmt.Errorf("node was left %s and is reinstalled with %s on its next start", f.Status, version))
	}
}

func (e *Engine) restartAffected(ctx context.Context, log logrus.FieldLogger, chain *models.Chain, groupIDs []int, skip map[string]bool, tr Transition) error {
	r := e.store.Repos()
	fronts, err := r.ListFrontsByGroups(ctx, chain.ID, groupIDs)
	if err != nil {
		return err
	}
	byHost := frontsByHost(fronts)

	var g errgroup.Group
	for hostID, hostFronts := range byHost {
		host, err := r.GetHost(ctx, hostID)
		if err != nil {
			log.Warnf("host %d of affected nodes not found: %v", hostID, err)
			continue
		}
		g.Go(func() error {
			hlog := log.WithField("ip", host.IP)
			return e.withHost(host, func() error {
				var errs []error
				for _, f := range hostFronts {
					if skip[f.NodeID] {
						continue
					}
					flog := hlog.WithField("nodeId", f.NodeID)
					if err := e.prov.PushNodeConfig(ctx, chain, host, f.HostIndex); err != nil {
						errs = append(errs, e.failFront(ctx, flog, f, tr.Failure, err))
						continue
					}
					if f.Status != models.FrontRunning {
						continue
					}
					errs = append(errs, e.restartFront(ctx, flog, chain, host, f, tr))
				}
				return errors.Join(errs...)
			})
		})
	}
	return g.Wait()
}

// setStatus records f -> to when the transition is legal. Illegal
// transitions are logged and leave f untouched.
func (e *Engine) setStatus(ctx context.Context, log logrus.FieldLogger, f *models.Front, to models.FrontStatus) bool {
	if err := models.ValidateTransition(f.Status, to); err != nil {
		log.WithField("nodeId", f.NodeID).Warnf("skipping node: %v", err)
		return false
	}
	if err := e.store.Repos().UpdateFrontStatus(context.WithoutCancel(ctx), f.ID, to); err != nil {
		log.WithField("nodeId", f.NodeID).Errorf("failed to record status %s: %v", to, err)
		return false
	}
	f.Status = to
	return true
}

// failFront records the failure status on f and returns cause wrapped as a
// provisioning failure.
func (e *Engine) failFront(ctx context.Context, log logrus.FieldLogger, f *models.Front, failure models.FrontStatus, cause error) error {
	log.Errorf("provisioning failed: %v", cause)
	if f.Status != failure {
		e.setStatus(ctx, log, f, failure)
	}
	if apperr.IsKind(cause, apperr.ProvisioningFailure) {
		return cause
	}
	return apperr.Wrap(apperr.ProvisioningFailure, cause, "node %s", f.NodeID)
}

func (e *Engine) setHostStatus(ctx context.Context, log logrus.FieldLogger, host *models.Host, status models.HostStatus) {
	if err := e.store.Repos().UpdateHostStatus(context.WithoutCancel(ctx), host.ID, status); err != nil {
		log.Errorf("failed to record host status %s: %v", status, err)
		return
	}
	host.Status = status
}

func (e *Engine) recordImageTag(ctx context.Context, log logrus.FieldLogger, r *storage.Repos, f *models.Front, version string) error {
	if err := r.UpdateFrontImageTag(context.WithoutCancel(ctx), f.ID, version); err != nil {
		log.Errorf("failed to record image tag: %v", err)
		return fmt.Errorf("record image tag of %s: %w", f.NodeID, err)
	}
	f.ImageTag = version
	return nil
}

// settleChain updates the aggregate chain status once no front is moving.
func (e *Engine) settleChain(ctx context.Context, log logrus.FieldLogger, chainID int64) {
	r := e.store.Repos()
	ctx = context.WithoutCancel(ctx)
	fronts, err := r.ListFronts(ctx, chainID)
	if err != nil {
		log.Errorf("failed to load nodes for chain status: %v", err)
		return
	}
	status, ok := models.SettledChainStatus(fronts)
	if !ok {
		return
	}
	if err := r.UpdateChainStatus(ctx, chainID, status); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Errorf("failed to record chain status: %v", err)
	}
}

// currentHost returns the stored state of host, or host itself when it
// cannot be read.
func (e *Engine) currentHost(ctx context.Context, log logrus.FieldLogger, host *models.Host) *models.Host {
	fresh, err := e.store.Repos().GetHost(ctx, host.ID)
	if err != nil {
		log.Warnf("failed to reload host %s: %v", host.IP, err)
		return host
	}
	return fresh
}

// reload refreshes front snapshots from the store, dropping fronts deleted
// since the work was scheduled.
func (e *Engine) reload(ctx context.Context, log logrus.FieldLogger, fronts []*models.Front) []*models.Front {
	r := e.store.Repos()
	out := make([]*models.Front, 0, len(fronts))
	for _, f := range fronts {
		fresh, err := r.GetFrontByNodeID(ctx, f.NodeID)
		if err != nil {
			log.WithField("nodeId", f.NodeID).Warnf("node no longer available: %v", err)
			continue
		}
		out = append(out, fresh)
	}
	return out
}

func frontsByHost(fronts []*models.Front) map[int64][]*models.Front {
	m := make(map[int64][]*models.Front)
	for _, f := range fronts {
		m[f.HostID] = append(m[f.HostID], f)
	}
	return m
}
