package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/server/middleware"
	"github.com/ubiwhere/keygate/internal/service"
	"github.com/ubiwhere/keygate/internal/store"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *store.Store
	hasher   *hash.Bcrypt
	keys     config.Keys
	issuer   *service.Issuer
	verifier *service.Verifier
	router   chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store and a
// Chi router. System routes are mounted without admin auth middleware for
// direct handler testing; gate routes carry their real key/scope middleware
// because the gate handler depends on it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := hash.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}

	keys := config.DefaultKeys()
	keys.PublicIDLength = 16
	keys.PrivateSecretLength = 16

	adminAuth := service.NewAdminAuth(st, hasher, testJWTSecret, nil)
	issuer := service.NewIssuer(st, hasher, keys, nil)
	verifier := service.NewVerifier(st, hasher, keys, nil)
	authz := service.NewAuthorizer(st, nil)

	sysHandler := NewSystemHandler(st, adminAuth, issuer, hasher, time.Hour)
	gateHandler := NewGateHandler(verifier, authz)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Post("/session", sysHandler.Login)
			r.Delete("/session", sysHandler.Logout)

			r.Get("/keys", sysHandler.ListAPIKeys)
			r.Post("/keys", sysHandler.CreateAPIKey)
			r.Delete("/keys/{keyID}", sysHandler.DeleteAPIKey)
			r.Get("/keys/{keyID}/grants", sysHandler.GetKeyGrants)
			r.Put("/keys/{keyID}/grants", sysHandler.SetKeyGrants)
			r.Get("/keys/{keyID}/log", sysHandler.ListKeyUsage)

			r.Get("/resource-types", sysHandler.ListResourceTypes)
			r.Post("/resource-types", sysHandler.CreateResourceType)
			r.Delete("/resource-types/{typeID}", sysHandler.DeleteResourceType)
			r.Get("/operations", sysHandler.ListOperations)

			r.Get("/admins", sysHandler.ListAdmins)
			r.Post("/admins", sysHandler.CreateAdmin)
		})

		r.Route("/gate/{resourceType}", func(r chi.Router) {
			r.Use(middleware.AuthenticateKey(verifier, keys))
			r.Use(middleware.RequireScope(authz))
			r.HandleFunc("/", gateHandler.Decide)
			r.HandleFunc("/*", gateHandler.Decide)
		})

		r.Post("/auth/introspect", gateHandler.Introspect)
	})

	return &testEnv{
		store:    st,
		hasher:   hasher,
		keys:     keys,
		issuer:   issuer,
		verifier: verifier,
		router:   r,
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
		Name:         "Test Admin",
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedResourceType registers a resource type and returns it.
func (e *testEnv) seedResourceType(t *testing.T, name string) *model.ResourceType {
	t.Helper()
	rt := &model.ResourceType{Name: name, Label: "Test: " + name}
	if err := e.store.CreateResourceType(context.Background(), rt); err != nil {
		t.Fatalf("seedResourceType: %v", err)
	}
	return rt
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

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// doWithKey executes a request carrying an API key in the Authorization header.
func (e *testEnv) doWithKey(t *testing.T, method, path, rawKey string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", e.keys.AuthScheme+" "+rawKey)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
