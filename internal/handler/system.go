package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/service"
	"github.com/ubiwhere/keygate/internal/store"
)

// SystemHandler serves the admin API: sessions, API key lifecycle, scope
// grants, resource types, admin accounts, and the usage log.
type SystemHandler struct {
	store     *store.Store
	adminAuth *service.AdminAuth
	issuer    *service.Issuer
	hasher    *hash.Bcrypt
	jwtExpiry time.Duration
}

// NewSystemHandler creates a new SystemHandler. A zero jwtExpiry falls back
// to 24 hours.
func NewSystemHandler(st *store.Store, adminAuth *service.AdminAuth, issuer *service.Issuer, hasher *hash.Bcrypt, jwtExpiry time.Duration) *SystemHandler {
	if jwtExpiry <= 0 {
		jwtExpiry = 24 * time.Hour
	}
	return &SystemHandler{
		store:     st,
		adminAuth: adminAuth,
		issuer:    issuer,
		hasher:    hasher,
		jwtExpiry: jwtExpiry,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/v1/system/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin, err := h.adminAuth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication error")
		return
	}

	token, err := h.adminAuth.IssueJWT(r.Context(), admin.ID, admin.Email, h.jwtExpiry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.jwtExpiry.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// API key lifecycle
// ---------------------------------------------------------------------------

// ListAPIKeys returns all issued keys. Hashed secrets never leave the model
// layer; only names, prefixes, and public identifiers are exposed.
// GET /api/v1/system/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// createKeyRequest is the expected payload for CreateAPIKey.
type createKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// createKeyResponse includes the plaintext key (shown once only).
type createKeyResponse struct {
	ID        int64      `json:"id"`
	Key       string     `json:"api_key"` // Plaintext, shown ONCE.
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	PublicID  string     `json:"public_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateAPIKey issues a new API key and returns the plaintext exactly once.
// POST /api/v1/system/keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Key name is required")
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	k, plaintext, err := h.issuer.Issue(r.Context(), req.Name, req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue API key")
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:        k.ID,
		Key:       plaintext,
		Name:      k.Name,
		Prefix:    k.Prefix,
		PublicID:  k.PublicID,
		ExpiresAt: k.ExpiresAt,
		CreatedAt: k.CreatedAt,
	})
}

// DeleteAPIKey revokes a key by deleting it; its grants cascade.
// DELETE /api/v1/system/keys/{keyID}
func (h *SystemHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "keyID")
	id, ok := pathID(idStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+idStr)
		return
	}

	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// ---------------------------------------------------------------------------
// Scope grants
// ---------------------------------------------------------------------------

// GetKeyGrants returns the scope grants of a key.
// GET /api/v1/system/keys/{keyID}/grants
func (h *SystemHandler) GetKeyGrants(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "keyID")
	id, ok := pathID(idStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+idStr)
		return
	}

	if _, err := h.store.GetAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load API key")
		return
	}

	grants, err := h.store.GetScopeGrants(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scope grants")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: grants,
		Meta:     &model.ResponseMeta{Count: len(grants)},
	})
}

// grantRequest names a resource type and the operations to permit on it.
type grantRequest struct {
	ResourceType string   `json:"resource_type"`
	Operations   []string `json:"operations"`
}

// SetKeyGrants replaces a key's scope grants wholesale. An empty list
// removes every grant, returning the key to unrestricted access.
// PUT /api/v1/system/keys/{keyID}/grants
func (h *SystemHandler) SetKeyGrants(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "keyID")
	id, ok := pathID(idStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+idStr)
		return
	}

	if _, err := h.store.GetAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load API key")
		return
	}

	var reqs []grantRequest
	if err := readJSON(r, &reqs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	grants := make([]model.ScopeGrant, 0, len(reqs))
	for _, g := range reqs {
		if g.ResourceType == "" {
			writeError(w, http.StatusBadRequest, "resource_type is required in every grant")
			return
		}
		ops := make([]model.Operation, 0, len(g.Operations))
		for _, o := range g.Operations {
			op, ok := model.ParseOperation(o)
			if !ok {
				writeError(w, http.StatusBadRequest, "Unknown operation: "+o)
				return
			}
			ops = append(ops, op)
		}
		grants = append(grants, model.ScopeGrant{ResourceType: g.ResourceType, Operations: ops})
	}

	if err := h.store.SetScopeGrants(r.Context(), id, grants); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Unknown resource type in grants")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to set scope grants")
		return
	}

	saved, err := h.store.GetScopeGrants(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scope grants")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: saved,
		Meta:     &model.ResponseMeta{Count: len(saved)},
	})
}

// ---------------------------------------------------------------------------
// Usage log
// ---------------------------------------------------------------------------

// ListKeyUsage returns the most recent usage events of a key.
// GET /api/v1/system/keys/{keyID}/log?limit=N
func (h *SystemHandler) ListKeyUsage(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "keyID")
	id, ok := pathID(idStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid key ID: "+idStr)
		return
	}

	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	events, err := h.store.ListUsageEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list usage events")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: events,
		Meta:     &model.ResponseMeta{Count: len(events), Limit: limit},
	})
}

// ---------------------------------------------------------------------------
// Resource types
// ---------------------------------------------------------------------------

// ListResourceTypes returns the resource type catalog.
// GET /api/v1/system/resource-types
func (h *SystemHandler) ListResourceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.ListResourceTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list resource types")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: types,
		Meta:     &model.ResponseMeta{Count: len(types)},
	})
}

// CreateResourceType registers a resource type in the catalog.
// POST /api/v1/system/resource-types
func (h *SystemHandler) CreateResourceType(w http.ResponseWriter, r *http.Request) {
	var rt model.ResourceType
	if err := readJSON(r, &rt); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if rt.Name == "" {
		writeError(w, http.StatusBadRequest, "Resource type name is required")
		return
	}
	if rt.Label == "" {
		rt.Label = rt.Name
	}

	if err := h.store.CreateResourceType(r.Context(), &rt); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Resource type already exists: "+rt.Name)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create resource type")
		return
	}

	writeJSON(w, http.StatusCreated, rt)
}

// DeleteResourceType removes a resource type; grants on it cascade.
// DELETE /api/v1/system/resource-types/{typeID}
func (h *SystemHandler) DeleteResourceType(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "typeID")
	id, ok := pathID(idStr)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid resource type ID: "+idStr)
		return
	}

	if err := h.store.DeleteResourceType(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Resource type not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete resource type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Resource type deleted",
	})
}

// ListOperations returns the fixed CRUD operation set.
// GET /api/v1/system/operations
func (h *SystemHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.store.ListOperations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list operations")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: ops,
		Meta:     &model.ResponseMeta{Count: len(ops)},
	})
}

// ---------------------------------------------------------------------------
// Admin accounts
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admins
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: admins,
		Meta:     &model.ResponseMeta{Count: len(admins)},
	})
}

// CreateAdmin creates a new admin account with a bcrypt-hashed password.
// POST /api/v1/system/admins
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	passwordHash, err := h.hasher.Hash(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	admin := &model.Admin{
		Email:        body.Email,
		PasswordHash: passwordHash,
		Name:         body.Name,
		IsActive:     true,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Admin with this email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create admin")
		return
	}

	writeJSON(w, http.StatusCreated, admin)
}
