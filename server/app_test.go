package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vouch/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiSecret   = "api-secret"
	adminSecret = "admin-secret"
)

func newApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Auth.APISecret = apiSecret
	cfg.Auth.AdminSecret = adminSecret
	cfg.Logging.Level = "error"

	app := &App{}
	app.Initialize(cfg)
	return app
}

func do(t *testing.T, app *App, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	app := newApp(t)
	rec := do(t, app, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticated(t *testing.T) {
	app := newApp(t)

	rec := do(t, app, http.MethodPost, "/api/v1/heartbeat", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode(t, rec)["code"])

	// api secret does not open the admin surface
	rec = do(t, app, http.MethodPost, "/api/v1/admin/gigs", apiSecret, map[string]any{"gigId": "g1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClaimAndHeartbeatFlow(t *testing.T) {
	app := newApp(t)

	rec := do(t, app, http.MethodPost, "/api/v1/admin/gigs", adminSecret,
		map[string]any{"gigId": "g1", "name": "Beta wave 1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, app, http.MethodPost, "/api/v1/admin/gigs/g1/testers", adminSecret,
		map[string]any{"testerId": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, app, http.MethodPost, "/api/v1/admin/claimcodes", adminSecret,
		map[string]any{"gigId": "g1", "testerId": "alice", "packageName": "com.example.app"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	code, _ := decode(t, rec)["claimCode"].(string)
	require.NotEmpty(t, code)

	rec = do(t, app, http.MethodPost, "/api/v1/claims/verify", apiSecret, map[string]any{
		"claimCode":   code,
		"installId":   "inst-1",
		"deviceId":    "dev-1",
		"packageName": "com.example.app",
		"isEmulator":  false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "g1", out["gigId"])
	assert.Equal(t, "alice", out["testerId"])

	// reuse is rejected with the taxonomy code on the wire
	rec = do(t, app, http.MethodPost, "/api/v1/claims/verify", apiSecret, map[string]any{
		"claimCode":   code,
		"installId":   "inst-1",
		"deviceId":    "dev-1",
		"packageName": "com.example.app",
		"isEmulator":  false,
	})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "failed_precondition", decode(t, rec)["code"])

	rec = do(t, app, http.MethodPost, "/api/v1/heartbeat", apiSecret, map[string]any{
		"gigId":      "g1",
		"testerId":   "alice",
		"deviceId":   "dev-1",
		"installId":  "inst-1",
		"sessionId":  "sess-1",
		"isEmulator": false,
		"timestamps": []string{time.Now().UTC().Format(time.RFC3339)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode(t, rec)
	assert.Equal(t, false, out["completed"])
	assert.Equal(t, false, out["multiAccountDetected"])
	assert.Equal(t, false, out["deviceMismatch"])

	// a second tester on the same device gets flagged and locked
	rec = do(t, app, http.MethodPost, "/api/v1/admin/gigs/g1/testers", adminSecret,
		map[string]any{"testerId": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, app, http.MethodPost, "/api/v1/heartbeat", apiSecret, map[string]any{
		"gigId":      "g1",
		"testerId":   "bob",
		"deviceId":   "dev-1",
		"installId":  "inst-2",
		"sessionId":  "sess-2",
		"isEmulator": false,
		"timestamps": []string{time.Now().UTC().Format(time.RFC3339)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode(t, rec)
	assert.Equal(t, true, out["multiAccountDetected"])
	assert.Equal(t, false, out["deviceMismatch"])

	rec = do(t, app, http.MethodGet, "/api/v1/admin/devices/dev-1", adminSecret, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dev := decode(t, rec)
	assert.Equal(t, true, dev["flagged"])
	assert.ElementsMatch(t, []any{"alice", "bob"}, dev["testerIds"])
}

func TestHeartbeatUnknownTester(t *testing.T) {
	app := newApp(t)
	rec := do(t, app, http.MethodPost, "/api/v1/heartbeat", apiSecret, map[string]any{
		"gigId":      "g1",
		"testerId":   "ghost",
		"deviceId":   "dev-1",
		"installId":  "inst-1",
		"sessionId":  "sess-1",
		"isEmulator": false,
		"timestamps": []string{time.Now().UTC().Format(time.RFC3339)},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, fmt.Sprintf("body: %s", rec.Body.String()))
	assert.Equal(t, "not_found", decode(t, rec)["code"])
}

func TestEmulatorFlagRequired(t *testing.T) {
	app := newApp(t)

	// heartbeat with every field but the emulator flag
	rec := do(t, app, http.MethodPost, "/api/v1/heartbeat", apiSecret, map[string]any{
		"gigId":      "g1",
		"testerId":   "alice",
		"deviceId":   "dev-1",
		"installId":  "inst-1",
		"sessionId":  "sess-1",
		"timestamps": []string{time.Now().UTC().Format(time.RFC3339)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_argument", decode(t, rec)["code"])

	rec = do(t, app, http.MethodPost, "/api/v1/claims/verify", apiSecret, map[string]any{
		"claimCode":   "whatever",
		"installId":   "inst-1",
		"deviceId":    "dev-1",
		"packageName": "com.example.app",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "invalid_argument", decode(t, rec)["code"])
}
