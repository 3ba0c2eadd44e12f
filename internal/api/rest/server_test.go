package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glueful/audit-engine/internal/audit"
	"github.com/glueful/audit-engine/internal/export"
	"github.com/glueful/audit-engine/internal/ratelimit"
	"github.com/glueful/audit-engine/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	server *Server
	svc    *audit.Service
	store  *audit.SQLiteStore
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	store, err := audit.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := audit.DefaultSettings()
	settings.BatchingEnabled = false

	svc, err := audit.NewService(settings, audit.Deps{Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg, svc, nil)
	require.NoError(t, err)

	return &testEnv{server: srv, svc: svc, store: store}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) search(t *testing.T, filter audit.SearchFilter) []*audit.Record {
	t.Helper()
	res, err := e.svc.SearchAuditLogs(context.Background(), filter, 1, 100)
	require.NoError(t, err)
	return res.Data
}

func signToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "audit-tests",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func withAuth(t *testing.T) func(*Config) {
	return func(cfg *Config) {
		auth, err := NewAuthenticator(AuthConfig{Secret: testSecret, Issuer: "audit-tests"})
		require.NoError(t, err)
		cfg.Auth = auth
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "GET", "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks.Store)

	// Health checks are not audited
	assert.Empty(t, env.search(t, audit.SearchFilter{}))
}

func TestHealth_StoreDown(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.store.Close())

	rec := env.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("audit_events_total 1\n"))
		})
	})

	rec := env.do(t, "GET", "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audit_events_total")
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "POST", "/v1/audit/events", IngestRequest{
		Category:   "Data_Access",
		Action:     "read",
		Severity:   "warning",
		ActorID:    "alice",
		TargetID:   "doc-1",
		TargetType: "document",
		Details:    map[string]interface{}{"rows": 3},
	}, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[IngestResponse](t, rec)
	require.NotEmpty(t, resp.EventID)
	assert.False(t, resp.Suppressed)

	recs := env.search(t, audit.SearchFilter{Categories: []types.Category{types.CategoryDataAccess}})
	require.Len(t, recs, 1)

	e := recs[0].Event
	assert.Equal(t, resp.EventID, e.EventID)
	assert.Equal(t, types.SeverityWarning, e.Severity)
	assert.Equal(t, "alice", e.ActorID)
	assert.Equal(t, "doc-1", e.TargetID)
	assert.Equal(t, "POST", e.HTTPMethod)
	assert.True(t, e.VerifyIntegrity())

	// The request itself is recorded as api_access
	calls := env.search(t, audit.SearchFilter{Categories: []types.Category{types.CategoryAPIAccess}})
	require.Len(t, calls, 1)
	assert.Equal(t, "request", calls[0].Event.Action)
	assert.Equal(t, json.Number("202"), calls[0].Event.Details["status"])
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing category", IngestRequest{Action: "read"}},
		{"missing action", IngestRequest{Category: "system"}},
		{"unknown severity", IngestRequest{Category: "system", Action: "boot", Severity: "loud"}},
		{"malformed body", "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/v1/audit/events", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Bad Request", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestIngest_SuppressedByMinSeverity(t *testing.T) {
	env := newTestEnv(t, nil)

	settings := env.svc.Settings()
	settings.MinSeverity = types.SeverityError
	require.NoError(t, env.svc.ApplySettings(settings))

	rec := env.do(t, "POST", "/v1/audit/events", IngestRequest{Category: "system", Action: "tick"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[IngestResponse](t, rec).Suppressed)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, withAuth(t))

	rec := env.do(t, "GET", "/v1/audit/events", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/audit/events", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/v1/audit/events", nil, signToken(t, "bob"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// The token subject becomes the actor of ingested events and of the
	// request event
	rec = env.do(t, "POST", "/v1/audit/events", IngestRequest{Category: "system", Action: "boot"}, signToken(t, "bob"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	recs := env.search(t, audit.SearchFilter{Categories: []types.Category{types.CategorySystem}})
	require.Len(t, recs, 1)
	assert.Equal(t, "bob", recs[0].Event.ActorID)

	calls := env.search(t, audit.SearchFilter{Categories: []types.Category{types.CategoryAPIAccess}, ActorID: "bob"})
	assert.NotEmpty(t, calls)
}

func TestAuthenticator(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{Secret: "short"})
	assert.Error(t, err)

	auth, err := NewAuthenticator(AuthConfig{Secret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = auth.Validate(signToken(t, "bob"))
	assert.Error(t, err)

	auth, err = NewAuthenticator(AuthConfig{Secret: testSecret})
	require.NoError(t, err)
	claims, err := auth.Validate(signToken(t, "bob", RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)
	assert.True(t, claims.HasRole(RoleAdmin))

	_, err = auth.Validate(signToken(t, ""))
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "bob"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Validate(none)
	assert.Error(t, err)
}

func TestParseBearer(t *testing.T) {
	tok, ok := parseBearer("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = parseBearer("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		_, ok := parseBearer(h)
		assert.False(t, ok, h)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.svc.Audit(ctx, types.CategorySystem, "boot", types.SeverityInfo, map[string]interface{}{"host": "a"})
	env.svc.Audit(ctx, types.CategorySystem, "disk_full", types.SeverityCritical, map[string]interface{}{"host": "b"})
	env.svc.Audit(ctx, types.CategoryFile, "upload", types.SeverityInfo, nil)

	rec := env.do(t, "GET", "/v1/audit/events?category=system&per_page=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[audit.SearchResult](t, rec)
	assert.Equal(t, 2, res.Pagination.Total)
	assert.Equal(t, 2, res.Pagination.LastPage)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "disk_full", res.Data[0].Event.Action)

	rec = env.do(t, "GET", "/v1/audit/events?category=system,file&min_severity=critical", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[audit.SearchResult](t, rec)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "disk_full", res.Data[0].Event.Action)

	rec = env.do(t, "GET", "/v1/audit/events?category=system&q="+url.QueryEscape(`"host":"a"`), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[audit.SearchResult](t, rec)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "boot", res.Data[0].Event.Action)
}

func TestSearch_BadParameters(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, target := range []string{
		"/v1/audit/events?severity=loud",
		"/v1/audit/events?min_severity=loud",
		"/v1/audit/events?start=yesterday",
		"/v1/audit/events?page=one",
		"/v1/audit/events?start=2025-02-01T00:00:00Z&end=2025-01-01T00:00:00Z",
	} {
		rec := env.do(t, "GET", target, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := env.do(t, "GET", "/v1/audit/events?start=2025-02-01T00:00:00Z&end=2025-01-01T00:00:00Z", nil, "")
	assert.Equal(t, audit.CodeInvalidArgument, decode[ErrorResponse](t, rec).Code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, action := range []string{"boot", "tick", "halt"} {
		env.svc.Audit(ctx, types.CategorySystem, action, types.SeverityInfo, nil)
	}

	rec := env.do(t, "GET", "/v1/audit/events/export?category=system&verify=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))

	recs, err := export.ReadNDJSON(rec.Body)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "boot", recs[0].Event.Action)
	assert.Equal(t, "halt", recs[2].Event.Action)
}

func TestExport_TamperedRecord(t *testing.T) {
	env := newTestEnv(t, nil)

	event := types.NewAuditEvent(context.Background(), types.CategorySystem, "boot", types.SeverityInfo, nil)
	event.Action = "tampered"
	require.NoError(t, env.store.Insert(context.Background(), &audit.Record{
		Event:         event,
		RetentionDate: time.Now().AddDate(1, 0, 0),
	}))

	rec := env.do(t, "GET", "/v1/audit/events/export?category=system&verify=true", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, audit.CodeIntegrityViolation, decode[ErrorResponse](t, rec).Code)

	rec = env.do(t, "GET", "/v1/audit/events/export?category=system", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "\n"))
}

func TestReports(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.svc.AuthEvent(ctx, "login", "alice", nil, types.SeverityInfo)
	env.svc.AuthEvent(ctx, "login_failed", "mallory", nil, types.SeverityWarning)

	rec := env.do(t, "GET", "/v1/audit/reports", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, audit.ReportTypes(), decode[ReportTypesResponse](t, rec).ReportTypes)

	rec = env.do(t, "GET", "/v1/audit/reports/authentication?include_details=true&verify=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[audit.ComplianceReport](t, rec)
	assert.Equal(t, types.CategoryAuthentication, report.Category)
	assert.Equal(t, 2, report.Summary.TotalEvents)
	assert.Len(t, report.Records, 2)
	assert.True(t, report.Verified)

	rec = env.do(t, "GET", "/v1/audit/reports/nonsense", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/v1/audit/reports/system?include_details=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetention(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	old := types.NewAuditEvent(ctx, types.CategorySystem, "ancient", types.SeverityInfo, nil)
	require.NoError(t, env.store.Insert(ctx, &audit.Record{
		Event:         old,
		RetentionDate: time.Now().AddDate(0, 0, -1),
	}))

	rec := env.do(t, "POST", "/v1/audit/retention/enforce", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[RetentionResponse](t, rec).Purged)

	admin := env.search(t, audit.SearchFilter{Action: ActionRetentionEnforced})
	require.Len(t, admin, 1)
	assert.Equal(t, types.CategoryAdministrative, admin[0].Event.Category)
}

func TestRetention_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t, withAuth(t))

	rec := env.do(t, "POST", "/v1/audit/retention/enforce", nil, signToken(t, "bob"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, "POST", "/v1/audit/retention/enforce", nil, signToken(t, "root", RoleAdmin))
	require.Equal(t, http.StatusOK, rec.Code)

	admin := env.search(t, audit.SearchFilter{Action: ActionRetentionEnforced})
	require.Len(t, admin, 1)
	assert.Equal(t, "root", admin[0].Event.ActorID)
}

func TestRateLimit(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.Enabled = true
	cfg.IngestRPS = 1
	cfg.BurstFactor = 1

	limiter, err := ratelimit.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	env := newTestEnv(t, func(c *Config) { c.Limiter = limiter })
	body := IngestRequest{Category: "system", Action: "tick"}

	rec := env.do(t, "POST", "/v1/audit/events", body, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = env.do(t, "POST", "/v1/audit/events", body, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Searches use a separate bucket
	rec = env.do(t, "GET", "/v1/audit/events", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	throttled := env.search(t, audit.SearchFilter{Action: ActionRateLimitExceeded})
	require.Len(t, throttled, 1)
	assert.Equal(t, types.SeverityWarning, throttled[0].Event.Severity)
	assert.Equal(t, "/v1/audit/events", throttled[0].Event.Details["endpoint"])
}

type failingLimiter struct{ ratelimit.Limiter }

func (failingLimiter) Allow(context.Context, string) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, errors.New("redis down")
}

func TestRateLimit_LimiterError(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Limiter = failingLimiter{} })

	rec := env.do(t, "GET", "/v1/audit/events", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{"POST", "/v1/audit/events", "ingest:ip:1.2.3.4"},
		{"GET", "/v1/audit/events", "api:ip:1.2.3.4"},
		{"GET", "/v1/audit/reports/system", "report:ip:1.2.3.4"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, rateLimitKey(r, "ip:1.2.3.4"))
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.router.HandleFunc("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := env.do(t, "GET", "/panic", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
