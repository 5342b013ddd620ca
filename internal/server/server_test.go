package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/corral/internal/catalog"
	"github.com/shepherd-project/corral/internal/config"
	"github.com/shepherd-project/corral/internal/kernel"
	"github.com/shepherd-project/corral/internal/logger"
	"github.com/shepherd-project/corral/internal/storage"
	"github.com/shepherd-project/corral/internal/types"
)

type testEnv struct {
	server *Server
	kernel *kernel.Kernel
}

// newTestEnv creates a started kernel behind a server with its own
// Prometheus registry and directory
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewMemoryStore()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	log := logger.NewWriterLogger(io.Discard, "error", false)

	k, err := kernel.New(kernel.Options{
		Name:       "grid",
		Store:      store,
		Logger:     log,
		Registerer: reg,
		Directory:  kernel.NewDirectory(),
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())
	t.Cleanup(func() { _ = k.Stop(context.Background()) })

	cfg := ConfigFrom(&config.DefaultConfig().Server)
	cfg.DeployTimeout = 2 * time.Second
	s := NewServer(cfg, k, catalog.Builtin(), reg, log)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testEnv{server: s, kernel: k}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.GetEngine().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) *types.ApiResponse[T] {
	t.Helper()
	var resp types.ApiResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return &resp
}

func TestServerInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[InfoResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Corral", resp.Data.Name)
	assert.Equal(t, "grid", resp.Data.Grid)
	assert.Equal(t, env.kernel.NodeID().String(), resp.Data.NodeID)
	assert.Equal(t, "started", resp.Data.State)
	assert.Equal(t, []string{"echo", "ticker"}, resp.Data.ServiceTypes)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, env.kernel.NodeID().String(), resp.Metadata.NodeID)

	w = env.do(t, http.MethodDelete, "/api/services/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, env.kernel.NodeID().String(), decode[struct{}](t, w).Metadata.NodeID)
}

func TestDeployListCancel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/services", DeployRequest{Name: "echo", Type: "echo", Mode: ModeNode})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]map[string]interface{}](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "echo", list.Data[0]["name"])
	assert.Equal(t, "node_singleton", list.Data[0]["mode"])

	w = env.do(t, http.MethodDelete, "/api/services/echo", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/services/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history types.PaginatedResponse[storage.DeploymentRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Data, 1)
	assert.Equal(t, storage.StatusCancelled, history.Data[0].Status)
}

func TestDeployErrors(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/services", DeployRequest{Name: "taken", Type: "echo", Mode: ModeCluster}).Code)

	tests := []struct {
		name   string
		req    DeployRequest
		status int
		code   types.ErrorCode
	}{
		{"missing name", DeployRequest{Type: "echo", Mode: ModeNode}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown type", DeployRequest{Name: "x", Type: "nope", Mode: ModeNode}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"bad mode", DeployRequest{Name: "x", Type: "echo", Mode: "everywhere"}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"affinity without key", DeployRequest{Name: "x", Type: "echo", Mode: ModeAffinity}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"conflict", DeployRequest{Name: "taken", Type: "echo", Mode: ModeMultiple, TotalCount: 2}, http.StatusConflict, types.ErrConflict},
		{"no counts", DeployRequest{Name: "x", Type: "echo", Mode: ModeCustom}, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown node", DeployRequest{Name: "x", Type: "echo", Mode: ModeNode, NodeIDs: []string{uuid.NewString()}}, http.StatusUnprocessableEntity, types.ErrDeploymentFailed},
		{"bad node id", DeployRequest{Name: "x", Type: "echo", Mode: ModeNode, NodeIDs: []string{"not-a-uuid"}}, http.StatusBadRequest, types.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/services", tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[struct{}](t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestDeployAffinityAndCustom(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/services", DeployRequest{
		Name: "aff", Type: "echo", Mode: ModeAffinity, CacheName: "orders", AffinityKey: "42",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/services", DeployRequest{
		Name: "custom", Type: "ticker", Mode: ModeCustom, MaxPerNode: 2,
		Params:  map[string]string{"interval": "1h"},
		NodeIDs: []string{env.kernel.NodeID().String()},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/services?nodes="+env.kernel.NodeID().String(), nil)
	list := decode[[]map[string]interface{}](t, w)
	assert.Len(t, list.Data, 2)

	w = env.do(t, http.MethodDelete, "/api/services", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/services", nil)
	assert.Empty(t, decode[[]map[string]interface{}](t, w).Data)
}

func TestCancelMissingIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/api/services/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, types.ErrServiceNotFound, decode[struct{}](t, w).Error.Code)
}

func TestStoppedKernelIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.kernel.Stop(context.Background()))

	w := env.do(t, http.MethodGet, "/api/services", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/api/services?nodes="+env.kernel.NodeID().String(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, types.ErrLifecycleUnavailable, decode[struct{}](t, w).Error.Code)
}

func TestHandleEncodeAndResolve(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/handle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]string](t, w).Data["token"]
	require.NotEmpty(t, token)

	w = env.do(t, http.MethodPost, "/api/handle/resolve", ResolveRequest{Token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolved := decode[ResolveResponse](t, w).Data
	assert.True(t, resolved.Canonical)
	assert.Equal(t, "grid", resolved.Grid)
	assert.Equal(t, env.kernel.NodeID().String(), resolved.NodeID)

	w = env.do(t, http.MethodPost, "/api/handle/resolve", ResolveRequest{Token: "%%%"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	foreign := base64.StdEncoding.EncodeToString([]byte{0x0a, 0x07, 0x0a, 0x05, 'o', 't', 'h', 'e', 'r'})
	w = env.do(t, http.MethodPost, "/api/handle/resolve", ResolveRequest{Token: foreign})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrReconstruction, decode[struct{}](t, w).Error.Code)
}

func TestHistoryParams(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/services/history?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/services/history?offset=-1", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/services/history?active=true", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodDelete, "/api/services/missing", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `corral_services_operations_total{op="cancel",result="ok"} 1`)
	assert.Contains(t, body, `corral_gateway_active_readers{grid="grid"} 0`)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.GetEngine())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscription happens after the upgrade; wait until it is in place
	time.Sleep(50 * time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/services", DeployRequest{Name: "echo", Type: "echo", Mode: ModeNode})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "deployed", ev.Type)
	assert.Equal(t, "echo", ev.Data.(map[string]interface{})["name"])
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.Host = "127.0.0.1"
	env.server.config.Port = 0

	require.NoError(t, env.server.Start())
	assert.Error(t, env.server.Start())

	resp, err := http.Get("http://" + env.server.Addr().String() + "/api/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))
}
