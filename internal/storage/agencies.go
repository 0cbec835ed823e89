package storage

import (
	"context"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const agencyColumns = `id, chain_id, name, encrypt_type, fingerprint, created_at`

// InsertAgency records a new agency and sets its ID.
func (r *Repos) InsertAgency(ctx context.Context, a *models.Agency) error {
	a.CreatedAt = now()
	id, err := r.insert(ctx,
		`INSERT INTO agency (chain_id, name, encrypt_type, fingerprint, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ChainID, a.Name, a.EncryptType, a.Fingerprint, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agency %s: %w", a.Name, err)
	}
	a.ID = id
	return nil
}

// GetAgency looks up an agency by ID.
func (r *Repos) GetAgency(ctx context.Context, id int64) (*models.Agency, error) {
	var a models.Agency
	if err := r.get(ctx, &a, `SELECT `+agencyColumns+` FROM agency WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgencyByName looks up an agency by name inside a chain.
func (r *Repos) GetAgencyByName(ctx context.Context, chainID int64, name string) (*models.Agency, error) {
	var a models.Agency
	if err := r.get(ctx, &a, `SELECT `+agencyColumns+` FROM agency WHERE chain_id = ? AND name = ?`, chainID, name); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgencies returns the agencies of a chain.
func (r *Repos) ListAgencies(ctx context.Context, chainID int64) ([]*models.Agency, error) {
	var agencies []*models.Agency
	if err := r.selectAll(ctx, &agencies, `SELECT `+agencyColumns+` FROM agency WHERE chain_id = ? ORDER BY id`, chainID); err != nil {
		return nil, err
	}
	return agencies, nil
}

// CountHostsByAgency returns how many hosts still belong to an agency.
func (r *Repos) CountHostsByAgency(ctx context.Context, agencyID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM host WHERE agency_id = ?`, agencyID)
}

// DeleteAgency removes an agency row.
func (r *Repos) DeleteAgency(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM agency WHERE id = ?`, id)
}
