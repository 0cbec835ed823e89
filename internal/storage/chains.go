package storage

import (
	"context"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const chainColumns = `id, name, version, encrypt_type, root_dir, sign_addr, image_source, status, created_at, updated_at`

// InsertChain records a new chain and sets its ID.
func (r *Repos) InsertChain(ctx context.Context, c *models.Chain) error {
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	id, err := r.insert(ctx,
		`INSERT INTO chain (name, version, encrypt_type, root_dir, sign_addr, image_source, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Version, c.EncryptType, c.RootDir, c.SignAddr, c.ImageSource, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chain %s: %w", c.Name, err)
	}
	c.ID = id
	return nil
}

// GetChainByName looks up a chain by its unique name.
func (r *Repos) GetChainByName(ctx context.Context, name string) (*models.Chain, error) {
	var c models.Chain
	if err := r.get(ctx, &c, `SELECT `+chainColumns+` FROM chain WHERE name = ?`, name); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChain looks up a chain by ID.
func (r *Repos) GetChain(ctx context.Context, id int64) (*models.Chain, error) {
	var c models.Chain
	if err := r.get(ctx, &c, `SELECT `+chainColumns+` FROM chain WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChains returns every chain ordered by name.
func (r *Repos) ListChains(ctx context.Context) ([]*models.Chain, error) {
	var chains []*models.Chain
	if err := r.selectAll(ctx, &chains, `SELECT `+chainColumns+` FROM chain ORDER BY name`); err != nil {
		return nil, err
	}
	return chains, nil
}

// UpdateChainVersion records the version most recently applied to a chain.
func (r *Repos) UpdateChainVersion(ctx context.Context, id int64, version string) error {
	return r.exec(ctx, `UPDATE chain SET version = ?, updated_at = ? WHERE id = ?`, version, now(), id)
}

// UpdateChainStatus sets the aggregate chain status.
func (r *Repos) UpdateChainStatus(ctx context.Context, id int64, status models.ChainStatus) error {
	return r.exec(ctx, `UPDATE chain SET status = ?, updated_at = ? WHERE id = ?`, status, now(), id)
}

// DeleteChain removes a chain and every row that belongs to it.
func (r *Repos) DeleteChain(ctx context.Context, id int64) error {
	stmts := []string{
		`DELETE FROM front WHERE chain_id = ?`,
		`DELETE FROM node_group WHERE chain_id = ?`,
		`DELETE FROM host WHERE chain_id = ?`,
		`DELETE FROM agency WHERE chain_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := r.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete rows of chain %d: %w", id, err)
		}
	}
	return r.exec(ctx, `DELETE FROM chain WHERE id = ?`, id)
}
