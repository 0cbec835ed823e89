package storage

import (
	"context"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const groupColumns = `id, chain_id, group_id, node_count, created_at, updated_at`

// GetGroup looks up a group of a chain.
func (r *Repos) GetGroup(ctx context.Context, chainID int64, groupID int) (*models.Group, error) {
	var g models.Group
	err := r.get(ctx, &g, `SELECT `+groupColumns+` FROM node_group WHERE chain_id = ? AND group_id = ?`, chainID, groupID)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGroup records a new group and sets its ID.
func (r *Repos) InsertGroup(ctx context.Context, g *models.Group) error {
	g.CreatedAt = now()
	g.UpdatedAt = g.CreatedAt
	id, err := r.insert(ctx,
		`INSERT INTO node_group (chain_id, group_id, node_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		g.ChainID, g.GroupID, g.NodeCount, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group %d: %w", g.GroupID, err)
	}
	g.ID = id
	return nil
}

// UpdateGroupCount sets the node count of a group.
func (r *Repos) UpdateGroupCount(ctx context.Context, id int64, count int) error {
	return r.exec(ctx, `UPDATE node_group SET node_count = ?, updated_at = ? WHERE id = ?`, count, now(), id)
}

// ListGroups returns the groups of a chain ordered by group ID.
func (r *Repos) ListGroups(ctx context.Context, chainID int64) ([]*models.Group, error) {
	var groups []*models.Group
	err := r.selectAll(ctx, &groups, `SELECT `+groupColumns+` FROM node_group WHERE chain_id = ? ORDER BY group_id`, chainID)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// DeleteGroup removes a group row.
func (r *Repos) DeleteGroup(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM node_group WHERE id = ?`, id)
}
