package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsServer(t *testing.T) {
	cfg := testConfig(true, false, "", 0)

	provider, err := Setup(cfg, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(cfg.Metrics, provider)
	assert.NotNil(t, ms)
	assert.Equal(t, ":9090", ms.server.Addr)
}

func TestMetricsServer_ServesPrometheusAndShutsDown(t *testing.T) {
	cfg := testConfig(true, false, "", 0)

	provider, err := Setup(cfg, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ms := NewMetricsServer(cfg.Metrics, provider)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + cfg.Metrics.Path)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "# TYPE")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ms.Shutdown(ctx))
	assert.Equal(t, http.ErrServerClosed, <-errCh)
}

func TestNewMetricsServer_NilProvider(t *testing.T) {
	ms := NewMetricsServer(models.MetricsConfig{Port: 9090, Path: "/metrics"}, nil)
	assert.NotNil(t, ms)
}
