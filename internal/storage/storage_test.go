package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/chainmgr/internal/logging"
	"evalgo.org/chainmgr/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), time.Second, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedChain inserts a chain with one agency and one host.
func seedChain(t *testing.T, r *Repos) (*models.Chain, *models.Agency, *models.Host) {
	t.Helper()
	ctx := context.Background()
	c := &models.Chain{Name: "chainA", Version: "v2.7.2", RootDir: "/opt", SignAddr: "127.0.0.1:5004",
		ImageSource: models.ImageManual, Status: models.ChainDeploying}
	require.NoError(t, r.InsertChain(ctx, c))
	a := &models.Agency{ChainID: c.ID, Name: "agency1"}
	require.NoError(t, r.InsertAgency(ctx, a))
	h := &models.Host{ChainID: c.ID, AgencyID: a.ID, IP: "10.0.0.1", SSHUser: "root", SSHPort: 22,
		RootDir: "/opt", Status: models.HostAdded}
	require.NoError(t, r.InsertHost(ctx, h))
	return c, a, h
}

func TestChainRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()

	c, _, _ := seedChain(t, r)
	assert.NotZero(t, c.ID)

	got, err := r.GetChainByName(ctx, "chainA")
	require.NoError(t, err)
	assert.Equal(t, "v2.7.2", got.Version)
	assert.Equal(t, models.ImageManual, got.ImageSource)

	require.NoError(t, r.UpdateChainVersion(ctx, c.ID, "v2.8.0"))
	got, err = r.GetChain(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2.8.0", got.Version)

	_, err = r.GetChainByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateChainNameRejected(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	seedChain(t, r)

	err := r.InsertChain(context.Background(), &models.Chain{Name: "chainA", Version: "v1", RootDir: "/",
		SignAddr: "x", ImageSource: models.ImagePull, Status: models.ChainDeploying})
	assert.Error(t, err)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, "test", func(r *Repos) error {
		seedChain(t, r)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	chains, err := s.Repos().ListChains(ctx)
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestAtomicRollsBackOnPanic(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	err := s.Atomic(ctx, "test", func(r *Repos) error {
		seedChain(t, r)
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	chains, err := s.Repos().ListChains(ctx)
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestAtomicCommits(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, "test", func(r *Repos) error {
		seedChain(t, r)
		return nil
	}))

	chains, err := s.Repos().ListChains(ctx)
	require.NoError(t, err)
	assert.Len(t, chains, 1)
}

func TestAllocateSlotsIsMonotonic(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()
	_, _, h := seedChain(t, r)

	first, err := r.AllocateSlots(ctx, h.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, first)

	next, err := r.AllocateSlots(ctx, h.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestFrontQueries(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()
	c, a, h := seedChain(t, r)

	for i, group := range []int{1, 1, 2} {
		f := &models.Front{NodeID: string(rune('a' + i)), ChainID: c.ID, HostID: h.ID, AgencyID: a.ID,
			GroupID: group, HostIndex: i, Status: models.FrontAdding, ImageTag: "v2.7.2"}
		require.NoError(t, r.InsertFront(ctx, f))
	}

	n, err := r.CountFrontsByHost(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.CountFrontsByGroup(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fronts, err := r.ListFrontsByGroups(ctx, c.ID, []int{2})
	require.NoError(t, err)
	require.Len(t, fronts, 1)
	assert.Equal(t, "c", fronts[0].NodeID)

	fronts, err = r.ListFrontsByGroups(ctx, c.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, fronts)

	f, err := r.GetFrontByNodeID(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, r.UpdateFrontStatus(ctx, f.ID, models.FrontConfigReady))
	require.NoError(t, r.UpdateFrontImageTag(ctx, f.ID, "v2.8.0"))
	f, err = r.GetFrontByNodeID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.FrontConfigReady, f.Status)
	assert.Equal(t, "v2.8.0", f.ImageTag)

	require.NoError(t, r.DeleteFront(ctx, f.ID))
	assert.ErrorIs(t, r.DeleteFront(ctx, f.ID), ErrNotFound)
}

func TestDuplicateSlotRejected(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()
	c, a, h := seedChain(t, r)

	f := &models.Front{NodeID: "n1", ChainID: c.ID, HostID: h.ID, AgencyID: a.ID, GroupID: 1, Status: models.FrontAdding}
	require.NoError(t, r.InsertFront(ctx, f))
	dup := &models.Front{NodeID: "n2", ChainID: c.ID, HostID: h.ID, AgencyID: a.ID, GroupID: 1, Status: models.FrontAdding}
	assert.Error(t, r.InsertFront(ctx, dup))
}

func TestGroupsAndAgencies(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()
	c, a, h := seedChain(t, r)

	g := &models.Group{ChainID: c.ID, GroupID: 1, NodeCount: 2}
	require.NoError(t, r.InsertGroup(ctx, g))
	require.NoError(t, r.UpdateGroupCount(ctx, g.ID, 3))
	got, err := r.GetGroup(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.NodeCount)

	n, err := r.CountHostsByAgency(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.DeleteHost(ctx, h.ID))
	n, err = r.CountHostsByAgency(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	byName, err := r.GetAgencyByName(ctx, c.ID, "agency1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)
}

func TestDeleteChainRemovesChildren(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()
	c, a, h := seedChain(t, r)
	require.NoError(t, r.InsertGroup(ctx, &models.Group{ChainID: c.ID, GroupID: 1, NodeCount: 1}))
	require.NoError(t, r.InsertFront(ctx, &models.Front{NodeID: "n1", ChainID: c.ID, HostID: h.ID,
		AgencyID: a.ID, GroupID: 1, Status: models.FrontRunning}))

	require.NoError(t, r.DeleteChain(ctx, c.ID))

	_, err := r.GetChain(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetHost(ctx, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetFrontByNodeID(ctx, "n1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureTag(t *testing.T) {
	s := newTestStorage(t)
	r := s.Repos()
	ctx := context.Background()

	first, err := r.EnsureTag(ctx, models.TagTypeDockerImage, "v2.7.2")
	require.NoError(t, err)
	again, err := r.EnsureTag(ctx, models.TagTypeDockerImage, "v2.7.2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	tags, err := r.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}
