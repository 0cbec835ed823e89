package storage

import (
	"context"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const frontColumns = `id, node_id, chain_id, host_id, agency_id, group_id, host_index, status, image_tag, created_at, updated_at`

// InsertFront records a new front and sets its ID.
func (r *Repos) InsertFront(ctx context.Context, f *models.Front) error {
	f.CreatedAt = now()
	f.UpdatedAt = f.CreatedAt
	id, err := r.insert(ctx,
		`INSERT INTO front (node_id, chain_id, host_id, agency_id, group_id, host_index, status, image_tag, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.NodeID, f.ChainID, f.HostID, f.AgencyID, f.GroupID, f.HostIndex, f.Status, f.ImageTag, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert front %s: %w", f.NodeID, err)
	}
	f.ID = id
	return nil
}

// GetFrontByNodeID looks up a front by node ID.
func (r *Repos) GetFrontByNodeID(ctx context.Context, nodeID string) (*models.Front, error) {
	var f models.Front
	if err := r.get(ctx, &f, `SELECT `+frontColumns+` FROM front WHERE node_id = ?`, nodeID); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFronts returns the fronts of a chain ordered by host and slot.
func (r *Repos) ListFronts(ctx context.Context, chainID int64) ([]*models.Front, error) {
	var fronts []*models.Front
	err := r.selectAll(ctx, &fronts,
		`SELECT `+frontColumns+` FROM front WHERE chain_id = ? ORDER BY host_id, host_index`, chainID)
	if err != nil {
		return nil, err
	}
	return fronts, nil
}

// ListFrontsByHost returns the fronts placed on one host.
func (r *Repos) ListFrontsByHost(ctx context.Context, hostID int64) ([]*models.Front, error) {
	var fronts []*models.Front
	err := r.selectAll(ctx, &fronts,
		`SELECT `+frontColumns+` FROM front WHERE host_id = ? ORDER BY host_index`, hostID)
	if err != nil {
		return nil, err
	}
	return fronts, nil
}

// ListFrontsByGroups returns the fronts of a chain that belong to any of the given groups.
func (r *Repos) ListFrontsByGroups(ctx context.Context, chainID int64, groupIDs []int) ([]*models.Front, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query, args, err := inClause(
		`SELECT `+frontColumns+` FROM front WHERE chain_id = ? AND group_id IN (?) ORDER BY host_id, host_index`,
		chainID, groupIDs)
	if err != nil {
		return nil, err
	}
	var fronts []*models.Front
	if err := r.selectAll(ctx, &fronts, query, args...); err != nil {
		return nil, err
	}
	return fronts, nil
}

// CountFrontsByHost returns how many fronts occupy a host.
func (r *Repos) CountFrontsByHost(ctx context.Context, hostID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM front WHERE host_id = ?`, hostID)
}

// CountFrontsByGroup returns how many fronts of a chain belong to a group.
func (r *Repos) CountFrontsByGroup(ctx context.Context, chainID int64, groupID int) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM front WHERE chain_id = ? AND group_id = ?`, chainID, groupID)
}

// UpdateFrontStatus sets the status of a front.
func (r *Repos) UpdateFrontStatus(ctx context.Context, id int64, status models.FrontStatus) error {
	return r.exec(ctx, `UPDATE front SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
}

// UpdateFrontImageTag records the image tag a front runs.
func (r *Repos) UpdateFrontImageTag(ctx context.Context, id int64, tag string) error {
	return r.exec(ctx, `UPDATE front SET image_tag = ?, updated_at = ? WHERE id = ?`, tag, now(), id)
}

// DeleteFront removes a front row.
func (r *Repos) DeleteFront(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM front WHERE id = ?`, id)
}
