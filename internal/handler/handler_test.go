package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/keygate/internal/audit"
	"github.com/prn-tf/keygate/internal/auth"
	"github.com/prn-tf/keygate/internal/config"
	"github.com/prn-tf/keygate/internal/domain"
	"github.com/prn-tf/keygate/internal/lifecycle"
	"github.com/prn-tf/keygate/internal/lock"
	"github.com/prn-tf/keygate/internal/metrics"
	"github.com/prn-tf/keygate/internal/pkg/crypto"
	"github.com/prn-tf/keygate/internal/repository"
	"github.com/prn-tf/keygate/internal/repository/sqlite"
	"github.com/prn-tf/keygate/internal/service"
)

const adminToken = "test-admin-token"

type testEnv struct {
	handler http.Handler
	metrics *metrics.Metrics
}

type failingChecker struct{}

func (failingChecker) Health(context.Context) error { return errors.New("database is down") }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(sqlite.MemoryPath), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	repos := &repository.Repositories{
		Keys:  sqlite.NewKeyRepository(db),
		Audit: sqlite.NewAuditRepository(db),
	}

	authorizer, err := auth.NewTokenAuthorizer(config.AdminConfig{Token: adminToken})
	require.NoError(t, err)

	m := metrics.New()
	svc := service.NewKeyService(
		repos,
		audit.NewSyncRecorder(repos.Audit, m, zerolog.Nop()),
		lifecycle.NewEngine(nil, crypto.NewKeyGenerator(nil)),
		lock.NewGuard(lock.NewNoOpLocker(), lock.Options{}),
		authorizer,
		m,
		config.KeysConfig{
			DefaultValidityDays: 365,
			DefaultMaxResets:    2,
			MaxBatch:            10,
			MaxValidityDays:     3650,
			GenerateAttempts:    5,
		},
		zerolog.Nop(),
	)

	router := NewRouter(RouterConfig{
		KeyHandler:  NewKeyHandler(svc),
		Database:    db,
		Metrics:     m,
		Version:     "test",
		MaxBodySize: 4096,
		Logger:      zerolog.Nop(),
	})
	return &testEnv{handler: router.Handler(), metrics: m}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, header http.Header) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (e *testEnv) generate(t *testing.T, amount int) []string {
	t.Helper()
	code, body := e.do(t, http.MethodGet, fmt.Sprintf("/generate?admin_token=%s&amount=%d", adminToken, amount), nil, nil)
	require.Equal(t, http.StatusOK, code, body)

	raw := body["keys"].([]any)
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = k.(string)
	}
	return keys
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body["endpoints"], "check")

	code, body = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealth_Unhealthy(t *testing.T) {
	router := NewRouter(RouterConfig{
		KeyHandler: NewKeyHandler(nil),
		Database:   failingChecker{},
		Logger:     zerolog.Nop(),
	})

	rec := httptest.NewRecorder()
	router.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key := env.generate(t, 1)[0]
	assert.True(t, crypto.ValidLicenseKey(key), key)

	// Unactivated keys ask for activation.
	code, body := env.do(t, http.MethodGet, "/check?key="+key+"&hwid=pc-1", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "needs_activation", body["status"])
	assert.Equal(t, true, body["needs_activation"])

	code, body = env.do(t, http.MethodPost, "/activate", map[string]string{
		"key": key, "hwid": "pc-1", "discord_id": "owner-1",
	}, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["rebound"])

	code, body = env.do(t, http.MethodGet, "/check?key="+key+"&hwid=pc-1", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "granted", body["status"])
	assert.EqualValues(t, 365, body["days_left"])

	code, body = env.do(t, http.MethodGet, "/check?key="+key+"&hwid=pc-2", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "hwid_mismatch", body["status"])
	assert.Equal(t, true, body["needs_reset"])
	assert.Equal(t, true, body["reset_available"])

	code, body = env.do(t, http.MethodPost, "/reset", map[string]string{
		"key": key, "discord_id": "owner-1", "reason": "new pc",
	}, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["used_resets"])
	assert.EqualValues(t, 1, body["remaining_resets"])
	assert.Equal(t, false, body["by_admin"])

	code, body = env.do(t, http.MethodPost, "/activate", map[string]string{
		"key": key, "hwid": "pc-2", "discord_id": "owner-1",
	}, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["rebound"])

	code, body = env.do(t, http.MethodGet, "/info?key="+key, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["activated"])
	assert.Equal(t, "owner-1", body["discord_id"])
	assert.EqualValues(t, 1, body["hwid_resets"])
	assert.EqualValues(t, 2, body["max_resets"])
	assert.Equal(t, true, body["can_reset"])

	header := http.Header{auth.HeaderAdminToken: []string{adminToken}}
	code, body = env.do(t, http.MethodGet, "/stats", nil, header)
	require.Equal(t, http.StatusOK, code, body)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["total_keys"])
	assert.EqualValues(t, 1, stats["activated_keys"])
	assert.EqualValues(t, 0, stats["inactive_keys"])
	assert.EqualValues(t, 1, stats["total_hwid_resets"])
	logs := body["recent_logs"].([]any)
	require.NotEmpty(t, logs)
	assert.Equal(t, "key_activated", logs[0].(map[string]any)["action"])

	code, body = env.do(t, http.MethodDelete, "/delete", map[string]string{
		"key": key, "reason": "refund",
	}, header)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "refund", body["reason"])

	code, body = env.do(t, http.MethodGet, "/check?key="+key+"&hwid=pc-2", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "not_found", body["status"])
}

func TestGenerate_PostBody(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/generate", map[string]any{
		"admin_token": adminToken,
		"amount":      3,
		"days":        30,
		"max_resets":  0,
		"notes":       "  trial  ",
	}, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["keys"], 3)
	assert.EqualValues(t, 30, body["total_days"])
	assert.EqualValues(t, 0, body["max_resets"])
	assert.Equal(t, time.Now().UTC().AddDate(0, 0, 30).Format(dateLayout), body["expires_at"])
}

func TestGenerate_FormBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("amount=2&admin_token="+adminToken))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["keys"], 2)
}

func TestErrorResponses(t *testing.T) {
	env := newTestEnv(t)
	key := env.generate(t, 1)[0]

	code, _ := env.do(t, http.MethodPost, "/activate", map[string]string{
		"key": key, "hwid": "pc-1", "discord_id": "owner-1",
	}, nil)
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name       string
		method     string
		target     string
		body       any
		header     http.Header
		wantStatus int
		wantCode   string
	}{
		{
			name:       "generate without token",
			method:     http.MethodGet,
			target:     "/generate?amount=1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "generate with wrong token",
			method:     http.MethodGet,
			target:     "/generate?admin_token=nope",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "generate non-numeric amount",
			method:     http.MethodGet,
			target:     "/generate?admin_token=" + adminToken + "&amount=many",
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "generate over batch limit",
			method:     http.MethodGet,
			target:     "/generate?admin_token=" + adminToken + "&amount=11",
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "check without hwid",
			method:     http.MethodGet,
			target:     "/check?key=" + key,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "activate missing fields",
			method:     http.MethodPost,
			target:     "/activate",
			body:       map[string]string{"key": key},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "activate unknown key",
			method:     http.MethodPost,
			target:     "/activate",
			body:       map[string]string{"key": "AAAA-BBBB-CCCC-DDDD", "hwid": "pc", "discord_id": "u"},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "activate by another owner",
			method:     http.MethodPost,
			target:     "/activate",
			body:       map[string]string{"key": key, "hwid": "pc-9", "discord_id": "intruder"},
			wantStatus: http.StatusConflict,
			wantCode:   "already_activated",
		},
		{
			name:       "owner binds a second device",
			method:     http.MethodPost,
			target:     "/activate",
			body:       map[string]string{"key": key, "hwid": "pc-2", "discord_id": "owner-1"},
			wantStatus: http.StatusConflict,
			wantCode:   "hwid_bound",
		},
		{
			name:       "reset by non-owner",
			method:     http.MethodPost,
			target:     "/reset",
			body:       map[string]string{"key": key, "discord_id": "intruder"},
			wantStatus: http.StatusForbidden,
			wantCode:   "not_owner",
		},
		{
			name:       "reset without credential",
			method:     http.MethodPost,
			target:     "/reset",
			body:       map[string]string{"key": key},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "missing_credential",
		},
		{
			name:       "info unknown key",
			method:     http.MethodGet,
			target:     "/info?key=AAAA-BBBB-CCCC-DDDD",
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "stats without token",
			method:     http.MethodGet,
			target:     "/stats",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "unauthorized",
		},
		{
			name:       "delete unknown key",
			method:     http.MethodDelete,
			target:     "/delete",
			body:       map[string]string{"key": "AAAA-BBBB-CCCC-DDDD", "admin_token": adminToken},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			target:     "/nope",
			wantStatus: http.StatusNotFound,
			wantCode:   "route_not_found",
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			target:     "/activate",
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   "method_not_allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.target, tt.body, tt.header)
			assert.Equal(t, tt.wantStatus, code, body)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestActivate_ValidationFieldNames(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/activate", map[string]string{"key": "ABCD-EFGH-2345-WXYZ"}, nil)
	require.Equal(t, http.StatusBadRequest, code)
	assert.ElementsMatch(t, []any{"hwid", "discord_id"}, body["fields"])
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/activate", map[string]string{
		"key":        "ABCD-EFGH-2345-WXYZ",
		"hwid":       strings.Repeat("x", 8192),
		"discord_id": "owner",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestRequestMetrics(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/check?key=AAAA-BBBB-CCCC-DDDD&hwid=pc", nil, nil)

	n, err := testutil.GatherAndCount(env.metrics.Registry(), "keygate_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(env.metrics.Registry(), "keygate_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewErrResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, resp *ErrResponse)
	}{
		{
			name:       "validation",
			err:        domain.NewValidationError("key is required", "key"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
			check: func(t *testing.T, resp *ErrResponse) {
				assert.Equal(t, "key is required", resp.Message)
				assert.Equal(t, []string{"key"}, resp.Fields)
			},
		},
		{
			name:       "reset limit keeps counts",
			err:        &domain.ResetLimitError{Used: 3, Max: 3},
			wantStatus: http.StatusConflict,
			wantCode:   "reset_limit_exceeded",
			check: func(t *testing.T, resp *ErrResponse) {
				assert.Contains(t, resp.Message, "3/3")
			},
		},
		{
			name:       "expired",
			err:        domain.ErrKeyExpired,
			wantStatus: http.StatusConflict,
			wantCode:   "expired",
		},
		{
			name:       "storage failure hides detail",
			err:        fmt.Errorf("load key: %w: %w", domain.ErrStorageFailure, errors.New("disk I/O error")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "storage_failure",
			check: func(t *testing.T, resp *ErrResponse) {
				assert.NotContains(t, resp.Message, "disk")
			},
		},
		{
			name: "partial generation lists persisted keys",
			err: &domain.PartialGenerationError{
				Requested: 3,
				Persisted: []string{"AAAA-BBBB-CCCC-DDDD"},
				Err:       fmt.Errorf("insert key: %w", domain.ErrStorageFailure),
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "storage_failure",
			check: func(t *testing.T, resp *ErrResponse) {
				assert.Equal(t, []string{"AAAA-BBBB-CCCC-DDDD"}, resp.Persisted)
			},
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
			check: func(t *testing.T, resp *ErrResponse) {
				assert.Equal(t, "internal error", resp.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewErrResponse(tt.err)
			assert.Equal(t, tt.wantStatus, resp.HTTPStatusCode)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.False(t, resp.Success)
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestCheckResponse(t *testing.T) {
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	resp := newCheckResponse(lifecycle.CheckResult{Status: lifecycle.CheckExpired, Key: "K", ExpiresAt: expires})
	assert.True(t, resp.Success)
	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ErrKeyExpired.Error(), resp.Error)
	assert.Nil(t, resp.DaysLeft)

	resp = newCheckResponse(lifecycle.CheckResult{Status: lifecycle.CheckHWIDMismatch, ResetAvailable: false})
	require.NotNil(t, resp.ResetAvailable)
	assert.False(t, *resp.ResetAvailable)
	assert.True(t, resp.NeedsReset)
}
