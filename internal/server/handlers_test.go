package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/polyrelay/polyrelay/internal/config"
	"github.com/polyrelay/polyrelay/internal/models"
	"github.com/polyrelay/polyrelay/internal/pool"
	"github.com/polyrelay/polyrelay/internal/quota"
	"github.com/polyrelay/polyrelay/internal/storage"
)

type staticIssuer struct{}

func (staticIssuer) Issue(ctx context.Context, cfg models.AccountConfig) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
}

func testAccount(id string) models.AccountConfig {
	return models.AccountConfig{
		AccountID:  id,
		SecureCSes: "ses-" + id,
		CSesIdx:    "idx-" + id,
		ConfigID:   "cfg-" + id,
	}
}

func setupTestServer(t *testing.T, accounts ...models.AccountConfig) (*Server, *storage.Bridge) {
	t.Helper()

	bridge, err := storage.Open(storage.Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })
	require.NoError(t, bridge.SaveAccounts(accounts))

	p, err := pool.New(accounts, pool.Options{
		Cooldowns: quota.Durations{
			Text:   time.Minute,
			Images: time.Minute,
			Videos: time.Minute,
		},
		SessionTTL: time.Hour,
		Issuer:     staticIssuer{},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	srv, err := New(cfg, zap.NewNop(), bridge, p)
	require.NoError(t, err)
	return srv, bridge
}

func doRequest(srv *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv, _ := setupTestServer(t, testAccount("a"))

	w := doRequest(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sqlite", body["storage"])
}

func TestPoolStatus(t *testing.T) {
	srv, _ := setupTestServer(t, testAccount("a"), testAccount("b"))

	rec, ok := srv.Pool().Account("b")
	require.True(t, ok)
	rec.Tracker().Cooldown(quota.ClassText, time.Now())

	w := doRequest(srv, http.MethodGet, "/v1/pool/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total     int `json:"total"`
		Available int `json:"available"`
		Accounts  []struct {
			ID       string `json:"id"`
			Cooldown string `json:"cooldown"`
			Quota    struct {
				LimitedCount int `json:"limited_count"`
				TotalCount   int `json:"total_count"`
			} `json:"quota"`
		} `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Accounts, 2)

	byID := make(map[string]int)
	for i, acc := range body.Accounts {
		byID[acc.ID] = i
	}
	cooling := body.Accounts[byID["b"]]
	assert.Equal(t, "all classes cooling", cooling.Cooldown)
	assert.Equal(t, 3, cooling.Quota.LimitedCount)

	healthy := body.Accounts[byID["a"]]
	assert.Empty(t, healthy.Cooldown)
	assert.Zero(t, healthy.Quota.LimitedCount)
}

func TestPoolReload(t *testing.T) {
	srv, bridge := setupTestServer(t, testAccount("a"))

	// Storage now carries an extra account the running pool does not know
	require.NoError(t, bridge.SaveAccounts([]models.AccountConfig{
		testAccount("a"), testAccount("b"),
	}))

	w := doRequest(srv, http.MethodPost, "/v1/pool/reload")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["accounts"])
	assert.Equal(t, 2, srv.Pool().Len())

	// The reload leaves a history record behind
	entries, err := bridge.LoadTaskHistory(10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "pool_reload", entries[0].Kind)
	assert.True(t, entries[0].Success)
}

func TestPoolHistory_InvalidLimit(t *testing.T) {
	srv, _ := setupTestServer(t, testAccount("a"))

	w := doRequest(srv, http.MethodGet, "/v1/pool/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLogs(t *testing.T) {
	srv, _ := setupTestServer(t, testAccount("a"))

	w := doRequest(srv, http.MethodGet, "/v1/logs")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "logs")
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := setupTestServer(t, testAccount("a"))

	w := doRequest(srv, http.MethodGet, "/ping")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
