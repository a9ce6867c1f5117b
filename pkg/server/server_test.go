package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, mutate func(*types.Config)) (*Server, *httptest.Server) {
	t.Helper()
	config := &types.Config{
		DatabaseDSN: filepath.Join(t.TempDir(), "ohmage_oauth.db"),
		Streams:     []string{"steps"},
		Surveys:     []string{"mood@1"},
	}
	if mutate != nil {
		mutate(config)
	}

	s, err := New(context.Background(), config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	ts := httptest.NewServer(s.GetHandler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestDefaults(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, "8080", s.config.Port)
	assert.Nil(t, s.rateLimiter)
}

func TestInvalidStaticSchemas(t *testing.T) {
	_, err := New(context.Background(), &types.Config{
		DatabaseDSN: filepath.Join(t.TempDir(), "ohmage_oauth.db"),
		Streams:     []string{"steps@latest"},
	}, zap.NewNop())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ohmage_oauth_codes_issued_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestOAuthMetadata(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()

	var metadata types.OAuthMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, ts.URL, metadata.Issuer)
	assert.Equal(t, ts.URL+"/oauth/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, ts.URL+"/oauth/token", metadata.TokenEndpoint)
	assert.Equal(t, []string{"code"}, metadata.ResponseTypesSupported)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/oauth/token", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Shared-Secret")
}

func TestRateLimit(t *testing.T) {
	s, ts := newTestServer(t, func(c *types.Config) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	resp, err := http.Get(ts.URL + "/oauth/authorize?client_id=unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/oauth/authorize?client_id=unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body types.OAuthError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "too_many_requests", body.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RateLimitHits.WithLabelValues("authorize")))
}

func TestUnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/oauth/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccessLogOmitsQuery(t *testing.T) {
	s, _ := newTestServer(t, nil)
	var buf bytes.Buffer
	s.accessLog = &buf

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorization?email=alice@example.com&password=hunter2secret&code=x&granted=true", nil)
	w := httptest.NewRecorder()
	s.GetHandler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	line := buf.String()
	assert.Contains(t, line, `"GET /oauth/authorization HTTP/1.1" 401`)
	assert.NotContains(t, line, "hunter2secret")
	assert.NotContains(t, line, "alice@example.com")
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case <-s.done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
