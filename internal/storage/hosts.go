package storage

import (
	"context"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const hostColumns = `id, chain_id, agency_id, ip, ssh_user, ssh_port, root_dir, status, created_at, updated_at`

// InsertHost records a new host and sets its ID.
func (r *Repos) InsertHost(ctx context.Context, h *models.Host) error {
	h.CreatedAt = now()
	h.UpdatedAt = h.CreatedAt
	id, err := r.insert(ctx,
		`INSERT INTO host (chain_id, agency_id, ip, ssh_user, ssh_port, root_dir, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ChainID, h.AgencyID, h.IP, h.SSHUser, h.SSHPort, h.RootDir, h.Status, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert host %s: %w", h.IP, err)
	}
	h.ID = id
	return nil
}

// GetHost looks up a host by ID.
func (r *Repos) GetHost(ctx context.Context, id int64) (*models.Host, error) {
	var h models.Host
	if err := r.get(ctx, &h, `SELECT `+hostColumns+` FROM host WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetHostByIP looks up the host with the given IP inside a chain.
func (r *Repos) GetHostByIP(ctx context.Context, chainID int64, ip string) (*models.Host, error) {
	var h models.Host
	if err := r.get(ctx, &h, `SELECT `+hostColumns+` FROM host WHERE chain_id = ? AND ip = ?`, chainID, ip); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHosts returns the hosts of a chain ordered by ID.
func (r *Repos) ListHosts(ctx context.Context, chainID int64) ([]*models.Host, error) {
	var hosts []*models.Host
	if err := r.selectAll(ctx, &hosts, `SELECT `+hostColumns+` FROM host WHERE chain_id = ? ORDER BY id`, chainID); err != nil {
		return nil, err
	}
	return hosts, nil
}

// UpdateHostStatus sets the bootstrap status of a host.
func (r *Repos) UpdateHostStatus(ctx context.Context, id int64, status models.HostStatus) error {
	return r.exec(ctx, `UPDATE host SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
}

// AllocateSlots reserves n consecutive host slots and returns the first one.
// Slots are never reused, so a node directory moved aside on a host cannot
// collide with a node added later.
func (r *Repos) AllocateSlots(ctx context.Context, hostID int64, n int) (int, error) {
	var next int
	if err := r.get(ctx, &next, `SELECT next_index FROM host WHERE id = ?`, hostID); err != nil {
		return 0, err
	}
	if err := r.exec(ctx, `UPDATE host SET next_index = ?, updated_at = ? WHERE id = ?`, next+n, now(), hostID); err != nil {
		return 0, err
	}
	return next, nil
}

// DeleteHost removes a host row.
func (r *Repos) DeleteHost(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM host WHERE id = ?`, id)
}
