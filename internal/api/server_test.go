package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/auth"
	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/deploy"
	"evalgo.org/chainmgr/internal/engine"
	"evalgo.org/chainmgr/internal/logging"
	"evalgo.org/chainmgr/models"
)

// fakeOrchestrator returns canned values and remembers the last request.
type fakeOrchestrator struct {
	mu         sync.Mutex
	deployReq  deploy.DeployRequest
	addReq     deploy.AddNodesRequest
	deleteReq  deploy.DeleteNodeRequest
	upgradeTag int64
	startTr    engine.Transition
	err        error
	fronts     []*models.Front
}

func (f *fakeOrchestrator) DeployChain(_ context.Context, req deploy.DeployRequest) (*models.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.Chain{ID: 1, Name: req.ChainName, Status: models.ChainDeploying}, nil
}

func (f *fakeOrchestrator) DeleteChain(context.Context, string) error { return f.err }

func (f *fakeOrchestrator) AddNodes(_ context.Context, req deploy.AddNodesRequest) ([]*models.Front, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addReq = req
	if f.err != nil {
		return nil, f.err
	}
	return []*models.Front{{NodeID: "ab", Status: models.FrontAdding}}, nil
}

func (f *fakeOrchestrator) Upgrade(_ context.Context, tagID int64, name string) (*models.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upgradeTag = tagID
	if f.err != nil {
		return nil, f.err
	}
	return &models.Chain{Name: name, Status: models.ChainUpgrading}, nil
}

func (f *fakeOrchestrator) StartNode(_ context.Context, _ string, tr engine.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startTr = tr
	return f.err
}

func (f *fakeOrchestrator) StopNode(context.Context, string) error { return f.err }

func (f *fakeOrchestrator) DeleteNode(_ context.Context, req deploy.DeleteNodeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteReq = req
	return f.err
}

func (f *fakeOrchestrator) Progress(_ context.Context, name string) (*models.Progress, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Progress{Chain: name, Total: 4, Running: 2, Percent: 50}, nil
}

func (f *fakeOrchestrator) ListChains(context.Context) ([]*models.Chain, error) {
	return []*models.Chain{{Name: "a"}, {Name: "b"}, {Name: "c"}}, f.err
}

func (f *fakeOrchestrator) DescribeChain(_ context.Context, name string) (*deploy.ChainDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &deploy.ChainDetail{Chain: &models.Chain{Name: name}}, nil
}

func (f *fakeOrchestrator) ListFronts(context.Context, string) ([]*models.Front, error) {
	return f.fronts, f.err
}

func (f *fakeOrchestrator) ListTags(context.Context) ([]*models.Tag, error) {
	return []*models.Tag{{ID: 1, Value: "v2.7.2"}}, f.err
}

func (f *fakeOrchestrator) AddTag(_ context.Context, value string) (*models.Tag, error) {
	return &models.Tag{ID: 2, Value: value}, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, sec config.SecurityConfig) (*Server, *fakeOrchestrator) {
	t.Helper()
	orch := &fakeOrchestrator{}
	cfg := &config.Config{Security: sec}
	srv := New(cfg, Dependencies{Orchestrator: orch, Health: fakePinger{}, Log: logging.Discard()})
	return srv, orch
}

func do(t *testing.T, srv *Server, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, config.SecurityConfig{})
	rec := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	srv.health = fakePinger{err: errors.New("closed")}
	rec = do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeployChainEndpoint(t *testing.T) {
	srv, orch := newTestServer(t, config.SecurityConfig{})

	body := `{"chainName":"chainA","hosts":["10.0.0.1:2"],"tagId":1,"rootDir":"/opt","signAddr":"10.0.0.9:5004","imageSource":"pull"}`
	rec := do(t, srv, http.MethodPost, "/api/v1/chains", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"10.0.0.1:2"}, orch.deployReq.HostSpecs)

	var chain models.Chain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, models.ChainDeploying, chain.Status)
}

func TestDeployChainValidation(t *testing.T) {
	srv, _ := newTestServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodPost, "/api/v1/chains", `{"chainName":"chainA","tagId":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "is required", apiErr.FieldError["hosts"])
	assert.Contains(t, apiErr.FieldError, "rootDir")

	rec = do(t, srv, http.MethodPost, "/api/v1/chains", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.PreconditionFailedf("node is RUNNING"), http.StatusPreconditionFailed},
		{apperr.NotFoundf("node missing"), http.StatusNotFound},
		{apperr.ConnectivityFailuref("host down"), http.StatusBadGateway},
		{apperr.ConstraintViolationf("host full"), http.StatusConflict},
	}
	for _, tt := range tests {
		srv, orch := newTestServer(t, config.SecurityConfig{})
		orch.err = tt.err
		rec := do(t, srv, http.MethodPost, "/api/v1/nodes/abcdef/stop", "", nil)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestNodeEndpoints(t *testing.T) {
	srv, orch := newTestServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodPost, "/api/v1/nodes/abcdef/start", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, orch.startTr.IsZero())

	rec = do(t, srv, http.MethodPost, "/api/v1/nodes/abcdef/start", `{"before":"starting","success":"RUNNING","failure":"stopped"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, engine.RestartTransition, orch.startTr)

	rec = do(t, srv, http.MethodPost, "/api/v1/nodes/abcdef/start", `{"failure":"gone"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/nodes/abcdef?deleteHost=true&deleteAgency=1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, deploy.DeleteNodeRequest{NodeID: "abcdef", DeleteHost: true, DeleteAgency: true}, orch.deleteReq)

	rec = do(t, srv, http.MethodDelete, "/api/v1/nodes/abcdef?deleteHost=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/nodes/not-hex/start", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddNodesEndpoint(t *testing.T) {
	srv, orch := newTestServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodPost, "/api/v1/chains/chainA/nodes", `{"ip":"10.0.0.3","num":2,"agency":"agencyA"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "chainA", orch.addReq.ChainName)
	assert.Equal(t, 2, orch.addReq.Num)

	rec = do(t, srv, http.MethodPost, "/api/v1/chains/chainA/nodes", `{"ip":"not-an-ip","num":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpgradeAndProgressEndpoints(t *testing.T) {
	srv, orch := newTestServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodPost, "/api/v1/chains/chainA/upgrade", `{"tagId":7}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(7), orch.upgradeTag)

	rec = do(t, srv, http.MethodGet, "/api/v1/chains/chainA/progress", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 50, p.Percent)
}

func TestListEndpoints(t *testing.T) {
	srv, orch := newTestServer(t, config.SecurityConfig{})
	orch.fronts = []*models.Front{
		{NodeID: "a1", Status: models.FrontRunning},
		{NodeID: "a2", Status: models.FrontStopped},
		{NodeID: "a3", Status: models.FrontRunning},
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/chains?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chains ChainsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chains))
	assert.Equal(t, 2, chains.Count)

	rec = do(t, srv, http.MethodGet, "/api/v1/chains/chainA/fronts?status=running", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fronts FrontsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fronts))
	assert.Equal(t, 2, fronts.Total)

	rec = do(t, srv, http.MethodPost, "/api/v1/tags", `{"value":"v2.8.0"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/v1/tags", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	sec := config.SecurityConfig{AuthEnabled: true, JWTSecret: "s3cret", JWTExpiration: time.Hour}
	srv, _ := newTestServer(t, sec)
	jwtSvc := auth.NewJWTService(sec)

	rec := do(t, srv, http.MethodGet, "/api/v1/chains", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	viewer, err := jwtSvc.GenerateToken("v", []models.Role{models.RoleViewer}, 0)
	require.NoError(t, err)
	hdr := http.Header{"Authorization": {"Bearer " + viewer}}

	rec = do(t, srv, http.MethodGet, "/api/v1/chains", "", hdr)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/v1/chains/chainA", "", hdr)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, config.SecurityConfig{})
	do(t, srv, http.MethodGet, "/api/v1/tags", "", nil)

	rec := do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chainmgr_http_requests_total{code="200",method="GET",route="/api/v1/tags"} 1`)
}
