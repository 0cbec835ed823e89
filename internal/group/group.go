// Package group keeps consensus group membership counters in step with the
// fronts assigned to each group.
package group

import (
	"context"
	"errors"
	"fmt"
	"os"

	"evalgo.org/chainmgr/internal/configgen"
	"evalgo.org/chainmgr/internal/paths"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// Manager computes group membership deltas.
type Manager struct {
	gen   *configgen.Generator
	paths *paths.Service
}

// NewManager creates a group manager reading node configuration through gen.
func NewManager(gen *configgen.Generator, p *paths.Service) *Manager {
	return &Manager{gen: gen, paths: p}
}

// ReserveCapacity adds additional members to a group of the chain, creating
// the group when it does not exist yet. It reports whether the group is new.
func (m *Manager) ReserveCapacity(ctx context.Context, r *storage.Repos, chainID int64, groupID, additional int) (*models.Group, bool, error) {
	g, err := r.GetGroup(ctx, chainID, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		g = &models.Group{ChainID: chainID, GroupID: groupID, NodeCount: additional}
		if err := r.InsertGroup(ctx, g); err != nil {
			return nil, false, err
		}
		return g, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load group %d: %w", groupID, err)
	}

	g.NodeCount += additional
	if err := r.UpdateGroupCount(ctx, g.ID, g.NodeCount); err != nil {
		return nil, false, err
	}
	return g, false, nil
}

// Recount sets the node count of each group to its live front count and
// removes groups left without members.
func (m *Manager) Recount(ctx context.Context, r *storage.Repos, chainID int64, groupIDs []int) error {
	for _, groupID := range groupIDs {
		g, err := r.GetGroup(ctx, chainID, groupID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		n, err := r.CountFrontsByGroup(ctx, chainID, groupID)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := r.DeleteGroup(ctx, g.ID); err != nil {
				return err
			}
			continue
		}
		if n != g.NodeCount {
			if err := r.UpdateGroupCount(ctx, g.ID, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// AffectedGroups returns the groups a node belongs to according to its
// generated configuration on the manager. When the configuration is gone the
// recorded group of the front is used.
func (m *Manager) AffectedGroups(chainName, ip string, front *models.Front) ([]int, error) {
	confDir := m.paths.NodeConfDir(chainName, ip, front.HostIndex)
	ids, err := m.gen.GroupIDsFromNode(confDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []int{front.GroupID}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []int{front.GroupID}, nil
	}
	return ids, nil
}
