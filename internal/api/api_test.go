package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/shepherd-project/corral/internal/gateway"
	"github.com/shepherd-project/corral/internal/registry"
	"github.com/shepherd-project/corral/internal/services"
	"github.com/shepherd-project/corral/internal/types"
)

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"argument", &services.ArgumentError{Op: "cancel", Arg: "name"}, types.ErrInvalidRequest},
		{"unavailable", &gateway.UnavailableError{State: gateway.StateStopped}, types.ErrLifecycleUnavailable},
		{"reconstruction", &services.ObjectReconstructionError{Cause: errors.New("x")}, types.ErrReconstruction},
		{"not found", &registry.RegistryError{Code: registry.CodeNotFound}, types.ErrServiceNotFound},
		{"conflict", fmt.Errorf("wrapped: %w", &registry.RegistryError{Code: registry.CodeConflict}), types.ErrConflict},
		{"invalid config", &registry.RegistryError{Code: registry.CodeInvalidConfiguration}, types.ErrInvalidRequest},
		{"no nodes", &registry.RegistryError{Code: registry.CodeNoNodes}, types.ErrDeploymentFailed},
		{"storage", &registry.RegistryError{Code: registry.CodeStorage}, types.ErrInternalError},
		{"other", errors.New("boom"), types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), CORSMiddleware([]string{"http://ui.local"}))
	r.GET("/ping", func(c *gin.Context) { Success(c, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("X-Request-ID", "req-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Body.String(), `"requestId":"req-1"`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://evil.local")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNodeIDInMetadata(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), NodeID("node-1"))
	r.GET("/ok", func(c *gin.Context) { Success(c, "pong") })
	r.GET("/page", func(c *gin.Context) { Paginated(c, []string{"a"}, 1, 10, 0) })
	r.GET("/fail", func(c *gin.Context) { BadRequest(c, "nope") })

	for _, path := range []string{"/ok", "/page", "/fail"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Contains(t, w.Body.String(), `"nodeId":"node-1"`, path)
	}

	bare := gin.New()
	bare.GET("/ok", func(c *gin.Context) { Success(c, "pong") })
	w := httptest.NewRecorder()
	bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.NotContains(t, w.Body.String(), "nodeId")
}
