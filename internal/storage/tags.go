package storage

import (
	"context"
	"errors"
	"fmt"

	"evalgo.org/chainmgr/models"
)

const tagColumns = `id, type, value, created_at`

// GetTag looks up a tag by ID.
func (r *Repos) GetTag(ctx context.Context, id int64) (*models.Tag, error) {
	var t models.Tag
	if err := r.get(ctx, &t, `SELECT `+tagColumns+` FROM tag WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTags returns every tag, newest first.
func (r *Repos) ListTags(ctx context.Context) ([]*models.Tag, error) {
	var tags []*models.Tag
	if err := r.selectAll(ctx, &tags, `SELECT `+tagColumns+` FROM tag ORDER BY id DESC`); err != nil {
		return nil, err
	}
	return tags, nil
}

// InsertTag records a new tag and sets its ID.
func (r *Repos) InsertTag(ctx context.Context, t *models.Tag) error {
	t.CreatedAt = now()
	id, err := r.insert(ctx, `INSERT INTO tag (type, value, created_at) VALUES (?, ?, ?)`, t.Type, t.Value, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tag %s: %w", t.Value, err)
	}
	t.ID = id
	return nil
}

// EnsureTag returns the tag with the given type and value, creating it if needed.
func (r *Repos) EnsureTag(ctx context.Context, tagType, value string) (*models.Tag, error) {
	var t models.Tag
	err := r.get(ctx, &t, `SELECT `+tagColumns+` FROM tag WHERE type = ? AND value = ?`, tagType, value)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	t = models.Tag{Type: tagType, Value: value}
	if err := r.InsertTag(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
