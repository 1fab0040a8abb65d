package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) Result { return Result{Status: StatusHealthy} }

func TestOverall(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		check    Check
		want     Status
	}{
		{"healthy", true, healthy, StatusHealthy},
		{"critical failure", true, PingCheck(func(context.Context) error { return errors.New("down") }), StatusUnhealthy},
		{"optional failure", false, PingCheck(func(context.Context) error { return errors.New("down") }), StatusDegraded},
		{"degraded", true, CountCheck(func() int { return 0 }, 1), StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("a", true, healthy)
			c.Register("b", tt.critical, tt.check)
			c.Run(context.Background())
			assert.Equal(t, tt.want, c.Overall())
		})
	}
}

func TestOverallUnknownBeforeRun(t *testing.T) {
	c := NewChecker()
	c.Register("store", true, healthy)
	assert.Equal(t, StatusUnknown, c.Overall())
	assert.Equal(t, []string{"store"}, c.Names())
}

func TestRunRecoversPanic(t *testing.T) {
	c := NewChecker()
	c.Register("boom", true, func(context.Context) Result { panic("oops") })
	res := c.Run(context.Background())["boom"]
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "oops", res.Error)
}

func TestRunTimesOut(t *testing.T) {
	c := NewChecker()
	c.Register("slow", true, func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return Result{Status: StatusHealthy}
	})
	c.components["slow"].timeout = 20 * time.Millisecond
	res := c.Run(context.Background())["slow"]
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "check timed out", res.Message)
}

func TestSocketCheck(t *testing.T) {
	dir := t.TempDir()
	missing := SocketCheck(filepath.Join(dir, "none.sock"))(context.Background())
	assert.Equal(t, StatusUnhealthy, missing.Status)

	path := filepath.Join(dir, "h.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, StatusHealthy, SocketCheck(path)(context.Background()).Status)
}

func TestRoutes(t *testing.T) {
	c := NewChecker()
	c.Register("store", true, healthy)
	r := chi.NewRouter()
	c.Routes(r, func() map[string]any { return map[string]any{"connections": 2} })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "store")
	assert.EqualValues(t, 2, resp.Extra["connections"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
