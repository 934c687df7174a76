package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesmith/internal/clock"
	"coursesmith/internal/config"
	"coursesmith/internal/license"
	"coursesmith/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticFP struct{ id string }

func (f *staticFP) CurrentFingerprint() string { return f.id }

type serverFixture struct {
	router  http.Handler
	primary *store.MemoryStore
	manager *license.Manager
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()

	primary := store.NewMemoryStore()
	mirror := store.NewFileStore(filepath.Join(dir, "licenses.json"), logger)
	failover := store.NewFailover(primary, mirror, logger)

	fp := &staticFP{id: "F1"}
	cache := license.NewSessionCache(filepath.Join(dir, "session.dat"), "unit-test-salt", fp, logger)
	clk := clock.Fixed{T: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	manager := license.NewManager(failover, clk, fp, cache, logger, nil)

	cfg := config.Default().Server
	cfg.RateLimitRPS = 1000 // headroom for the non-ratelimit tests
	cfg.RateLimitBurst = 1000

	router := NewRouter(cfg, RouterDeps{
		License: NewLicenseHandler(manager, nil, logger),
		Health:  NewHealthHandler(primary, "test", logger),
	})

	return &serverFixture{router: router, primary: primary, manager: manager}
}

func (fx *serverFixture) seedLicense(t *testing.T) {
	t.Helper()
	until := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, fx.primary.Insert(context.Background(), &store.LicenseRecord{
		LicenseKey:   "CS-AAAA-1111",
		Email:        "a@x.com",
		Tier:         license.TierEnterprise,
		ValidUntil:   &until,
		BoundDevices: []string{},
		MaxDevices:   3,
		CreatedAt:    time.Now().UTC(),
	}))
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestValidateEndpoint_Success(t *testing.T) {
	fx := newServerFixture(t)
	fx.seedLicense(t)

	rec := postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "a@x.com",
		"license_key": "CS-AAAA-1111",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result license.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, license.TierEnterprise, result.Tier)
	assert.NotEmpty(t, result.Token)
	require.NotNil(t, result.TierLimits)
	assert.Equal(t, 300, result.TierLimits.MaxPages)
}

func TestValidateEndpoint_Denied(t *testing.T) {
	fx := newServerFixture(t)
	fx.seedLicense(t)

	rec := postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "wrong@x.com",
		"license_key": "CS-AAAA-1111",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var result license.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, license.ReasonEmailMismatch, result.Reason)
	assert.Nil(t, result.TierLimits)
	assert.NotContains(t, rec.Body.String(), "tier_limits",
		"failure results must not carry entitlement data")
}

func TestValidateEndpoint_BadPayload(t *testing.T) {
	fx := newServerFixture(t)

	rec := postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"license_key": "CS-AAAA-1111",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "not-an-email",
		"license_key": "CS-AAAA-1111",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateEndpoint_StoreOutage(t *testing.T) {
	fx := newServerFixture(t)
	fx.primary.Unreachable = true

	rec := postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "a@x.com",
		"license_key": "CS-AAAA-1111",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	fx.seedLicense(t)

	req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Validated)

	postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "a@x.com",
		"license_key": "CS-AAAA-1111",
	})

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Validated)
	require.NotNil(t, status.Session)
	assert.Equal(t, "a@x.com", status.Session.Email)
}

func TestLogoutEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	fx.seedLicense(t)

	postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "a@x.com",
		"license_key": "CS-AAAA-1111",
	})
	require.NotNil(t, fx.manager.CurrentSession())

	rec := postJSON(t, fx.router, "/api/license/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, fx.manager.CurrentSession())
}

func TestRestoreEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	fx.seedLicense(t)

	// Nothing cached yet.
	rec := postJSON(t, fx.router, "/api/license/restore", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Validate with remember, then restore.
	postJSON(t, fx.router, "/api/license/validate", map[string]any{
		"email":       "a@x.com",
		"license_key": "CS-AAAA-1111",
		"remember":    true,
	})

	rec = postJSON(t, fx.router, "/api/license/restore", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result license.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
}

func TestHealthzEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "reachable", health.Store)

	fx.primary.Unreachable = true
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status, "offline operation keeps the process healthy")
	assert.Equal(t, "unreachable", health.Store)
}

func TestRateLimit(t *testing.T) {
	fx := newServerFixture(t)
	logger := testLogger()

	cfg := config.Default().Server
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 2

	router := NewRouter(cfg, RouterDeps{
		License: NewLicenseHandler(fx.manager, nil, logger),
		Health:  NewHealthHandler(fx.primary, "test", logger),
	})

	body := map[string]any{"email": "a@x.com", "license_key": "CS-AAAA-1111"}

	limited := false
	for i := 0; i < 5; i++ {
		rec := postJSON(t, router, "/api/license/validate", body)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst exhaustion must trip the limiter")
}
