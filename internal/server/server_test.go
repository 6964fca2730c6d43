package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/service"
	"github.com/ubiwhere/keygate/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server *Server
	store  *store.Store
	hasher *hash.Bcrypt
	keys   config.Keys
	issuer *service.Issuer
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	keys := config.DefaultKeys()
	keys.PublicIDLength = 16
	keys.PrivateSecretLength = 16
	keys.BcryptCost = bcrypt.MinCost
	return newTestEnvWithKeys(t, keys)
}

// newTestEnvWithKeys is newTestEnv with caller-supplied key settings, for
// exercising non-default auth schemes and query-parameter auth.
func newTestEnvWithKeys(t *testing.T, keys config.Keys) *testEnv {
	t.Helper()

	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := hash.NewBcrypt(keys.BcryptCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	srv, err := New(cfg, keys, st, logger)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	return &testEnv{
		server: srv,
		store:  st,
		hasher: hasher,
		keys:   keys,
		issuer: service.NewIssuer(st, hasher, keys, logger),
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	pwHash, err := e.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: pwHash,
		Name:         testAdminName,
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedKey issues an API key and returns the record and its plaintext.
func (e *testEnv) seedKey(t *testing.T, name string) (*model.APIKey, string) {
	t.Helper()
	k, plaintext, err := e.issuer.Issue(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("seedKey: %v", err)
	}
	return k, plaintext
}

// adminToken logs in as the default admin and returns the JWT token string.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/system/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin JWT.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes an HTTP request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, rawKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": e.keys.AuthScheme + " " + rawKey,
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("checks.store = %q, want %q", resp.Checks["store"], "ok")
	}
}

// ---------------------------------------------------------------------------
// Admin login/logout tests
// ---------------------------------------------------------------------------

func TestAdminLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token     string `json:"session_token"`
		TokenType string `json:"token_type"`
		ExpiresIn int    `json:"expires_in"`
		AdminID   int64  `json:"admin_id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Token == "" {
		t.Error("expected non-empty session_token")
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", resp.TokenType, "bearer")
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want > 0", resp.ExpiresIn)
	}
	if resp.Email != "admin@example.com" {
		t.Errorf("email = %q, want %q", resp.Email, "admin@example.com")
	}
	if resp.Name != testAdminName {
		t.Errorf("name = %q, want %q", resp.Name, testAdminName)
	}
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrongpassword",
	})
	rr := env.do(t, "POST", "/api/v1/system/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "DELETE", "/api/v1/system/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
}

// ---------------------------------------------------------------------------
// Authentication / authorization tests
// ---------------------------------------------------------------------------

func TestSystemEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	// All system admin endpoints (other than login/logout) should reject
	// unauthenticated requests with 401.
	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/system/keys"},
		{"POST", "/api/v1/system/keys"},
		{"GET", "/api/v1/system/resource-types"},
		{"POST", "/api/v1/system/resource-types"},
		{"GET", "/api/v1/system/operations"},
		{"GET", "/api/v1/system/admins"},
		{"POST", "/api/v1/system/admins"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method == "POST" {
				body = jsonBody(t, map[string]string{})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestSystemEndpoints_InvalidJWT(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/keys", nil, "invalid.jwt.token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSystemEndpoints_ExpiredJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	// Issue a token that already expired, signed with the server's secret.
	auth := service.NewAdminAuth(env.store, env.hasher, testJWTSecret, nil)
	token, err := auth.IssueJWT(context.Background(), 1, "admin@example.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/keys", nil, token)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSystemEndpoints_APIKeyNotAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	_, plaintext := env.seedKey(t, "not-an-admin")

	// API keys carry no admin session, so system endpoints reject them.
	rr := env.doAPIKey(t, "GET", "/api/v1/system/keys", nil, plaintext)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Gate endpoint through the full server stack
// ---------------------------------------------------------------------------

func TestGateEndpoint_ValidKey(t *testing.T) {
	env := newTestEnv(t)
	_, plaintext := env.seedKey(t, "gate-test")

	rr := env.doAPIKey(t, "GET", "/api/v1/gate/sensors/", nil, plaintext)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Allowed      bool   `json:"allowed"`
		ResourceType string `json:"resource_type"`
		Operation    string `json:"operation"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Allowed || resp.ResourceType != "sensors" || resp.Operation != "read" {
		t.Errorf("unexpected decision: %+v", resp)
	}
}

func TestGateEndpoint_InvalidKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAPIKey(t, "GET", "/api/v1/gate/sensors/", nil, "ubiwhere_bogus_bogus")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestGateEndpoint_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/gate/sensors/", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestGateEndpoint_RevokedKey(t *testing.T) {
	env := newTestEnv(t)
	k, plaintext := env.seedKey(t, "revoked")

	if err := env.store.DeleteAPIKey(context.Background(), k.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}

	rr := env.doAPIKey(t, "GET", "/api/v1/gate/sensors/", nil, plaintext)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestGateEndpoint_QueryParamAuth(t *testing.T) {
	keys := config.DefaultKeys()
	keys.PublicIDLength = 16
	keys.PrivateSecretLength = 16
	keys.BcryptCost = bcrypt.MinCost
	keys.EnableQueryParamAuth = true
	env := newTestEnvWithKeys(t, keys)

	_, plaintext := env.seedKey(t, "query-auth")

	rr := env.do(t, "GET", "/api/v1/gate/sensors/?api-key="+plaintext, nil, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestGateEndpoint_QueryParamAuthDisabledByDefault(t *testing.T) {
	env := newTestEnv(t)
	_, plaintext := env.seedKey(t, "query-auth-off")

	rr := env.do(t, "GET", "/api/v1/gate/sensors/?api-key="+plaintext, nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// OpenAPI document endpoint
// ---------------------------------------------------------------------------

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var doc map[string]interface{}
	decodeJSON(t, rr, &doc)

	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi version = %v, want 3.1.0", doc["openapi"])
	}
	info, ok := doc["info"].(map[string]interface{})
	if !ok {
		t.Fatal("expected info to be an object")
	}
	if info["title"] != "Keygate API" {
		t.Errorf("info.title = %v, want Keygate API", info["title"])
	}
}

// ---------------------------------------------------------------------------
// CORS headers test
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/healthz", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "Authorization,Content-Type",
	})

	// Chi's CORS handler should return a 2xx for preflight.
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}

	acaoHeader := rr.Header().Get("Access-Control-Allow-Origin")
	if acaoHeader == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

// ---------------------------------------------------------------------------
// Full workflow: login -> catalog -> issue key -> grant scopes -> gate
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// Step 1: Register a resource type.
	rtBody := jsonBody(t, map[string]interface{}{
		"name":  "sensors",
		"label": "Sensor readings",
	})
	rr := env.doAuth(t, "POST", "/api/v1/system/resource-types", rtBody, token)
	assertStatus(t, rr, http.StatusCreated)

	// Step 2: Issue an API key.
	keyBody := jsonBody(t, map[string]interface{}{
		"name": "ingest-worker",
	})
	rr = env.doAuth(t, "POST", "/api/v1/system/keys", keyBody, token)
	assertStatus(t, rr, http.StatusCreated)

	var keyResp struct {
		ID  int64  `json:"id"`
		Key string `json:"api_key"`
	}
	decodeJSON(t, rr, &keyResp)
	if keyResp.Key == "" {
		t.Fatal("expected plaintext key in response")
	}

	// Step 3: Grant read access to sensors.
	grantBody := jsonBody(t, []map[string]interface{}{
		{"resource_type": "sensors", "operations": []string{"read"}},
	})
	keyPath := "/api/v1/system/keys/" + itoa(keyResp.ID)
	rr = env.doAuth(t, "PUT", keyPath+"/grants", grantBody, token)
	assertStatus(t, rr, http.StatusOK)

	// Step 4: The key passes the gate for a granted operation.
	rr = env.doAPIKey(t, "GET", "/api/v1/gate/sensors/", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusOK)

	// Step 5: The key is refused for an ungranted operation.
	rr = env.doAPIKey(t, "DELETE", "/api/v1/gate/sensors/", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusForbidden)

	// Step 6: The key cannot access system admin endpoints.
	rr = env.doAPIKey(t, "GET", "/api/v1/system/keys", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusUnauthorized)

	// Step 7: The usage log recorded the gate traffic.
	rr = env.doAuth(t, "GET", keyPath+"/log", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var logResp struct {
		Resource []map[string]interface{} `json:"resource"`
	}
	decodeJSON(t, rr, &logResp)
	if len(logResp.Resource) == 0 {
		t.Error("expected recorded usage events")
	}

	// Step 8: Revoke the key; the gate now refuses it.
	rr = env.doAuth(t, "DELETE", keyPath, nil, token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAPIKey(t, "GET", "/api/v1/gate/sensors/", nil, keyResp.Key)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Introspection through the full server stack
// ---------------------------------------------------------------------------

func TestIntrospectEndpoint(t *testing.T) {
	env := newTestEnv(t)
	k, plaintext := env.seedKey(t, "introspect")

	body := jsonBody(t, map[string]string{"key": plaintext})
	rr := env.do(t, "POST", "/api/v1/auth/introspect", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Valid bool  `json:"valid"`
		KeyID int64 `json:"key_id"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Valid || resp.KeyID != k.ID {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// ---------------------------------------------------------------------------
// Error response format test
// ---------------------------------------------------------------------------

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	// Hit a route that will return an error (unauthenticated).
	rr := env.do(t, "GET", "/api/v1/system/keys", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)

	if errResp.Error.Code != 401 {
		t.Errorf("error.code = %d, want 401", errResp.Error.Code)
	}
	if errResp.Error.Message == "" {
		t.Error("expected non-empty error.message")
	}
}

// ---------------------------------------------------------------------------
// Request with invalid JSON body
// ---------------------------------------------------------------------------

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString("{invalid json")
	rr := env.do(t, "POST", "/api/v1/system/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}
