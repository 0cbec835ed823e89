package deploy

import (
	"context"
	"strings"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// ListTags returns the known image tags, newest first.
func (s *Service) ListTags(ctx context.Context) ([]*models.Tag, error) {
	tags, err := s.store.Repos().ListTags(ctx)
	if err != nil {
		return nil, storeErr(err, "tags")
	}
	return tags, nil
}

// AddTag records an image version. Adding a known value returns the
// existing tag.
func (s *Service) AddTag(ctx context.Context, value string) (*models.Tag, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, apperr.InvalidArgumentf("tag value is required")
	}
	if strings.ContainsAny(value, " :/@") {
		return nil, apperr.InvalidArgumentf("invalid tag value %q", value)
	}
	var tag *models.Tag
	err := s.store.Atomic(ctx, "add tag "+value, func(r *storage.Repos) error {
		var err error
		tag, err = r.EnsureTag(ctx, models.TagTypeDockerImage, value)
		return err
	})
	if err != nil {
		return nil, storeErr(err, "tag %s", value)
	}
	return tag, nil
}
