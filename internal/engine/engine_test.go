package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/logging"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// fakeRemote implements Provisioner and Runtime, recording calls and
// failing on demand.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []string
	failOn    map[string]bool
	active    map[string]int
	maxActive map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failOn: map[string]bool{}, active: map[string]int{}, maxActive: map[string]int{}}
}

func (f *fakeRemote) do(ip, call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.active[ip]++
	if f.active[ip] > f.maxActive[ip] {
		f.maxActive[ip] = f.active[ip]
	}
	fail := f.failOn[call]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.active[ip]--
	f.mu.Unlock()
	if fail {
		return errors.New("injected failure: " + call)
	}
	return nil
}

func (f *fakeRemote) fail(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[call] = true
}

func (f *fakeRemote) clearFail(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failOn, call)
}

func (f *fakeRemote) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRemote) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeRemote) PushHostBundle(_ context.Context, _ *models.Chain, host *models.Host) error {
	return f.do(host.IP, "bundle "+host.IP)
}

func (f *fakeRemote) PushNodeConfig(_ context.Context, _ *models.Chain, host *models.Host, idx int) error {
	return f.do(host.IP, fmt.Sprintf("config %s/%d", host.IP, idx))
}

func (f *fakeRemote) MoveNodeAside(_ context.Context, _ string, host *models.Host, idx int, _ string) error {
	return f.do(host.IP, fmt.Sprintf("moveaside %s/%d", host.IP, idx))
}

func (f *fakeRemote) MoveChainAside(_ context.Context, chain string, host *models.Host) error {
	return f.do(host.IP, fmt.Sprintf("movechain %s %s", chain, host.IP))
}

func (f *fakeRemote) Install(_ context.Context, _ *models.Chain, host *models.Host, front *models.Front, version string) error {
	return f.do(host.IP, fmt.Sprintf("install %s/%d %s", host.IP, front.HostIndex, version))
}

func (f *fakeRemote) Start(_ context.Context, _ string, host *models.Host, idx int) error {
	return f.do(host.IP, fmt.Sprintf("start %s/%d", host.IP, idx))
}

func (f *fakeRemote) Stop(_ context.Context, _ string, host *models.Host, idx int) error {
	return f.do(host.IP, fmt.Sprintf("stop %s/%d", host.IP, idx))
}

func (f *fakeRemote) Restart(_ context.Context, _ string, host *models.Host, idx int) error {
	return f.do(host.IP, fmt.Sprintf("restart %s/%d", host.IP, idx))
}

func (f *fakeRemote) Remove(_ context.Context, _ string, host *models.Host, idx int) error {
	return f.do(host.IP, fmt.Sprintf("remove %s/%d", host.IP, idx))
}

type fixture struct {
	engine  *Engine
	remote  *fakeRemote
	store   *storage.Storage
	reg     *prometheus.Registry
	chain   *models.Chain
	hosts   []*models.Host
	fronts  []*models.Front
	metrics *Metrics
}

// newFixture records a chain with two hosts: two fronts on the first and one
// on the second, all in group 1.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), 5*time.Second, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	r := store.Repos()
	chain := &models.Chain{Name: "chainA", Version: "v1", RootDir: "/opt", SignAddr: "x",
		ImageSource: models.ImageManual, Status: models.ChainDeploying}
	require.NoError(t, r.InsertChain(ctx, chain))
	agency := &models.Agency{ChainID: chain.ID, Name: "agency1"}
	require.NoError(t, r.InsertAgency(ctx, agency))

	f := &fixture{remote: newFakeRemote(), store: store, chain: chain, reg: prometheus.NewRegistry()}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		h := &models.Host{ChainID: chain.ID, AgencyID: agency.ID, IP: ip, SSHUser: "root", SSHPort: 22,
			RootDir: "/opt", Status: models.HostAdded}
		require.NoError(t, r.InsertHost(ctx, h))
		f.hosts = append(f.hosts, h)
	}
	for i, hostIdx := range []int{0, 0, 1} {
		slot := 0
		if i == 1 {
			slot = 1
		}
		front := &models.Front{NodeID: fmt.Sprintf("node%d", i), ChainID: chain.ID, HostID: f.hosts[hostIdx].ID,
			AgencyID: agency.ID, GroupID: 1, HostIndex: slot, Status: models.FrontAdding, ImageTag: "v1"}
		require.NoError(t, r.InsertFront(ctx, front))
		f.fronts = append(f.fronts, front)
	}

	f.metrics = NewMetrics(f.reg)
	f.engine = New(config.EngineConfig{Workers: 4, ItemTimeout: time.Minute}, store, f.remote, f.remote, f.metrics, logging.Discard())
	return f
}

func (f *fixture) status(t *testing.T, nodeID string) models.FrontStatus {
	t.Helper()
	front, err := f.store.Repos().GetFrontByNodeID(context.Background(), nodeID)
	require.NoError(t, err)
	return front.Status
}

func (f *fixture) setStatus(t *testing.T, nodeID string, status models.FrontStatus) {
	t.Helper()
	front, err := f.store.Repos().GetFrontByNodeID(context.Background(), nodeID)
	require.NoError(t, err)
	require.NoError(t, f.store.Repos().UpdateFrontStatus(context.Background(), front.ID, status))
}

func TestDeployBringsFrontsToRunning(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.ScheduleDeploy(f.chain))
	f.engine.Wait()

	for _, front := range f.fronts {
		assert.Equal(t, models.FrontRunning, f.status(t, front.NodeID))
	}
	for _, h := range f.hosts {
		host, err := f.store.Repos().GetHost(context.Background(), h.ID)
		require.NoError(t, err)
		assert.Equal(t, models.HostReady, host.Status)
	}
	chain, err := f.store.Repos().GetChain(context.Background(), f.chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainRunning, chain.Status)

	assert.True(t, f.remote.called("install 10.0.0.1/1 v1"))
	assert.Equal(t, 1, f.remote.maxActive["10.0.0.1"])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.items.WithLabelValues("deploy_chain", "success")))
}

func TestDeployHostBootstrapFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.fail("bundle 10.0.0.2")

	require.NoError(t, f.engine.ScheduleDeploy(f.chain))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node0"))
	assert.Equal(t, models.FrontRunning, f.status(t, "node1"))
	assert.Equal(t, models.FrontFailed, f.status(t, "node2"))

	host, err := f.store.Repos().GetHost(context.Background(), f.hosts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.HostFailed, host.Status)

	chain, err := f.store.Repos().GetChain(context.Background(), f.chain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChainPartial, chain.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.items.WithLabelValues("deploy_chain", "failure")))
}

func TestInstallFailureMarksFrontFailed(t *testing.T) {
	f := newFixture(t)
	f.remote.fail("start 10.0.0.1/1")

	require.NoError(t, f.engine.ScheduleDeploy(f.chain))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node0"))
	assert.Equal(t, models.FrontFailed, f.status(t, "node1"))
}

func TestStopAndStartNode(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	host := f.hosts[0]

	require.NoError(t, f.engine.ScheduleStopNode(f.chain, host, f.fronts[0]))
	f.engine.Wait()
	assert.Equal(t, models.FrontStopped, f.status(t, "node0"))
	assert.True(t, f.remote.called("stop 10.0.0.1/0"))

	require.NoError(t, f.engine.ScheduleStartNode(f.chain, host, f.fronts[0], StartTransition))
	f.engine.Wait()
	assert.Equal(t, models.FrontRunning, f.status(t, "node0"))
	assert.True(t, f.remote.called("restart 10.0.0.1/0"))
}

func TestStartFailedNodeReinstalls(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node2", models.FrontFailed)

	require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[1], f.fronts[2], StartTransition))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node2"))
	assert.True(t, f.remote.called("config 10.0.0.2/0"))
	assert.True(t, f.remote.called("install 10.0.0.2/0 v1"))
}

func TestIllegalTransitionIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node0", models.FrontStopping)
	f.setStatus(t, "node0", models.FrontStopped)

	require.NoError(t, f.engine.ScheduleStopNode(f.chain, f.hosts[0], f.fronts[0]))
	f.engine.Wait()

	assert.Equal(t, models.FrontStopped, f.status(t, "node0"))
	assert.False(t, f.remote.called("stop 10.0.0.1/0"))
}

func TestRestartAffectedOnlyRestartsRunning(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node2", models.FrontFailed)

	require.NoError(t, f.engine.ScheduleRestartAffected(f.chain, []int{1}, StartTransition))
	f.engine.Wait()

	assert.True(t, f.remote.called("restart 10.0.0.1/0"))
	assert.False(t, f.remote.called("restart 10.0.0.2/0"))
	assert.True(t, f.remote.called("config 10.0.0.2/0"))
	assert.Equal(t, models.FrontRunning, f.status(t, "node0"))
	assert.Equal(t, models.FrontAdding, f.status(t, "node1"))
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node1", models.FrontRunning)
	f.setStatus(t, "node1", models.FrontStopping)
	f.setStatus(t, "node1", models.FrontStopped)
	f.setStatus(t, "node2", models.FrontRunning)

	require.NoError(t, f.engine.ScheduleUpgrade(f.chain, "v2"))
	f.engine.Wait()

	for nodeID, want := range map[string]models.FrontStatus{
		"node0": models.FrontRunning,
		"node1": models.FrontStopped,
		"node2": models.FrontRunning,
	} {
		front, err := f.store.Repos().GetFrontByNodeID(context.Background(), nodeID)
		require.NoError(t, err)
		assert.Equal(t, want, front.Status, nodeID)
		assert.Equal(t, "v2", front.ImageTag, nodeID)
	}
	assert.False(t, f.remote.called("start 10.0.0.1/1"))
}

func TestAddNodes(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node2", models.FrontRunning)

	require.NoError(t, f.engine.ScheduleAddNodes(f.chain, f.hosts[0], false, []*models.Front{f.fronts[1]}, []int{1}))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node1"))
	assert.True(t, f.remote.called("restart 10.0.0.1/0"))
	assert.True(t, f.remote.called("restart 10.0.0.2/0"))
	assert.False(t, f.remote.called("restart 10.0.0.1/1"))
}

func TestRemoveNodeAndTeardown(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.ScheduleRemoveNode("chainA", f.hosts[0], 1, "node1"))
	require.NoError(t, f.engine.ScheduleTeardown("chainA", f.hosts, f.fronts))
	f.engine.Wait()

	assert.True(t, f.remote.called("remove 10.0.0.1/1"))
	assert.True(t, f.remote.called("moveaside 10.0.0.1/1"))
	assert.True(t, f.remote.called("remove 10.0.0.2/0"))
	assert.True(t, f.remote.called("movechain chainA 10.0.0.2"))
}

func TestShutdownRejectsNewWork(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Shutdown(context.Background()))

	err := f.engine.ScheduleDeploy(f.chain)
	assert.ErrorIs(t, err, ErrClosed)
}

func (f *fixture) front(t *testing.T, nodeID string) *models.Front {
	t.Helper()
	front, err := f.store.Repos().GetFrontByNodeID(context.Background(), nodeID)
	require.NoError(t, err)
	return front
}

func (f *fixture) hostStatus(t *testing.T, i int) models.HostStatus {
	t.Helper()
	host, err := f.store.Repos().GetHost(context.Background(), f.hosts[i].ID)
	require.NoError(t, err)
	return host.Status
}

func TestUpgradeReachesNodesNotYetInstalled(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node2", models.FrontRunning)

	require.NoError(t, f.engine.ScheduleUpgrade(f.chain, "v2"))
	f.engine.Wait()
	assert.Equal(t, models.FrontAdding, f.status(t, "node1"))
	assert.Equal(t, "v2", f.front(t, "node1").ImageTag)

	require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[0], f.fronts[1], StartTransition))
	f.engine.Wait()

	node1 := f.front(t, "node1")
	assert.Equal(t, models.FrontRunning, node1.Status)
	assert.Equal(t, "v2", node1.ImageTag)
	assert.True(t, f.remote.called("install 10.0.0.1/1 v2"))
	assert.False(t, f.remote.called("install 10.0.0.1/1 v1"))
}

func TestUpgradeFailsInterruptedNode(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node1", models.FrontConfigReady)
	f.setStatus(t, "node2", models.FrontRunning)

	require.NoError(t, f.engine.ScheduleUpgrade(f.chain, "v2"))
	f.engine.Wait()

	node1 := f.front(t, "node1")
	assert.Equal(t, models.FrontFailed, node1.Status)
	assert.Equal(t, "v2", node1.ImageTag)

	require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[0], f.fronts[1], StartTransition))
	f.engine.Wait()
	assert.Equal(t, models.FrontRunning, f.status(t, "node1"))
	assert.True(t, f.remote.called("install 10.0.0.1/1 v2"))
}

func TestAddNodesPicksUpUpgradeRecordedMeanwhile(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node2", models.FrontRunning)
	require.NoError(t, f.store.Repos().UpdateFrontImageTag(context.Background(), f.fronts[1].ID, "v2"))

	// the snapshot handed to the engine still carries v1
	require.NoError(t, f.engine.ScheduleAddNodes(f.chain, f.hosts[0], false, []*models.Front{f.fronts[1]}, []int{1}))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node1"))
	assert.True(t, f.remote.called("install 10.0.0.1/1 v2"))
	assert.False(t, f.remote.called("install 10.0.0.1/1 v1"))
}

func TestStartNodeRetriesHostBootstrap(t *testing.T) {
	f := newFixture(t)
	f.remote.fail("bundle 10.0.0.2")
	require.NoError(t, f.engine.ScheduleDeploy(f.chain))
	f.engine.Wait()
	require.Equal(t, models.HostFailed, f.hostStatus(t, 1))
	require.Equal(t, models.FrontFailed, f.status(t, "node2"))

	f.remote.clearFail("bundle 10.0.0.2")
	require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[1], f.fronts[2], StartTransition))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node2"))
	assert.Equal(t, models.HostReady, f.hostStatus(t, 1))
	assert.Equal(t, 2, f.remote.count("bundle 10.0.0.2"))
}

func TestStartNodeHostBootstrapStillFailing(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node2", models.FrontFailed)
	require.NoError(t, f.store.Repos().UpdateHostStatus(context.Background(), f.hosts[1].ID, models.HostFailed))
	f.remote.fail("bundle 10.0.0.2")

	require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[1], f.fronts[2], StartTransition))
	f.engine.Wait()

	assert.Equal(t, models.FrontFailed, f.status(t, "node2"))
	assert.Equal(t, models.HostFailed, f.hostStatus(t, 1))
	assert.False(t, f.remote.called("install 10.0.0.2/0 v1"))
}

func TestAddNodesBootstrapsHostNotReady(t *testing.T) {
	f := newFixture(t)
	f.setStatus(t, "node0", models.FrontRunning)
	f.setStatus(t, "node1", models.FrontRunning)
	require.NoError(t, f.store.Repos().UpdateHostStatus(context.Background(), f.hosts[1].ID, models.HostFailed))

	require.NoError(t, f.engine.ScheduleAddNodes(f.chain, f.hosts[1], false, []*models.Front{f.fronts[2]}, []int{1}))
	f.engine.Wait()

	assert.Equal(t, models.FrontRunning, f.status(t, "node2"))
	assert.Equal(t, models.HostReady, f.hostStatus(t, 1))
	assert.True(t, f.remote.called("bundle 10.0.0.2"))
}

func TestRestartFollowsTransition(t *testing.T) {
	tests := []struct {
		name string
		tr   Transition
		want models.FrontStatus
	}{
		{"start marks failed", StartTransition, models.FrontFailed},
		{"restart leaves stopped", RestartTransition, models.FrontStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.setStatus(t, "node0", models.FrontRunning)
			f.remote.fail("restart 10.0.0.1/0")

			require.NoError(t, f.engine.ScheduleRestartAffected(f.chain, []int{1}, tt.tr))
			f.engine.Wait()
			assert.Equal(t, tt.want, f.status(t, "node0"))

			f.remote.clearFail("restart 10.0.0.1/0")
			f.setStatus(t, "node0", models.FrontRunning)
			require.NoError(t, f.engine.ScheduleStartNode(f.chain, f.hosts[0], f.fronts[0], tt.tr))
			f.engine.Wait()
			assert.Equal(t, tt.tr.Success, f.status(t, "node0"))
		})
	}
}

func TestTransitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		tr      Transition
		wantErr bool
	}{
		{"start", StartTransition, false},
		{"restart", RestartTransition, false},
		{"unknown status", Transition{Before: "BOOTING", Success: models.FrontRunning, Failure: models.FrontFailed}, true},
		{"unreachable success", Transition{Before: models.FrontStarting, Success: models.FrontDeleted, Failure: models.FrontFailed}, true},
		{"unreachable failure", Transition{Before: models.FrontStopping, Success: models.FrontStopped, Failure: models.FrontRunning}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.True(t, Transition{}.IsZero())
	assert.False(t, StartTransition.IsZero())
}
