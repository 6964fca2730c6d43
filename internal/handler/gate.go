package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/server/middleware"
	"github.com/ubiwhere/keygate/internal/service"
)

// maxAuditBody caps how much of a gated request body is copied into the
// usage log.
const maxAuditBody = 64 << 10

// GateHandler serves the authorization decision endpoints consumed by
// gateways and services protecting their resources with keygate keys.
type GateHandler struct {
	verifier *service.Verifier
	authz    *service.Authorizer
}

// NewGateHandler creates a new GateHandler.
func NewGateHandler(verifier *service.Verifier, authz *service.Authorizer) *GateHandler {
	return &GateHandler{verifier: verifier, authz: authz}
}

// decision is the response payload of a positive gate decision.
type decision struct {
	Allowed      bool   `json:"allowed"`
	KeyID        int64  `json:"key_id"`
	KeyName      string `json:"key_name"`
	ResourceType string `json:"resource_type"`
	Operation    string `json:"operation"`
}

// Decide answers the gate endpoint. Authentication and scope authorization
// have already run in the middleware chain; reaching this handler means the
// request is allowed. The handler's job is the decision payload and the
// usage audit event.
// ANY /api/v1/gate/{resourceType}
func (h *GateHandler) Decide(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil || principal.Key == nil {
		writeError(w, http.StatusUnauthorized, service.MsgInvalidKey)
		return
	}

	resourceType := chi.URLParam(r, "resourceType")
	op, ok := model.OperationForMethod(r.Method)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h.verifier.RecordUsage(r.Context(), h.buildUsageEvent(r, principal.Key.ID, string(op)))

	writeJSON(w, http.StatusOK, decision{
		Allowed:      true,
		KeyID:        principal.Key.ID,
		KeyName:      principal.Key.Name,
		ResourceType: resourceType,
		Operation:    string(op),
	})
}

// introspectRequest is the expected payload for Introspect.
type introspectRequest struct {
	Key          string `json:"key"`
	ResourceType string `json:"resource_type,omitempty"`
	Operation    string `json:"operation,omitempty"`
}

// introspectResponse describes a verified key and, when a resource type and
// operation were supplied, the authorization decision for them.
type introspectResponse struct {
	Valid        bool   `json:"valid"`
	KeyID        int64  `json:"key_id"`
	KeyName      string `json:"key_name"`
	Allowed      *bool  `json:"allowed,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Operation    string `json:"operation,omitempty"`
}

// Introspect performs a full verify-and-authorize decision for callers that
// hold a raw key but cannot replay an HTTP method against the gate, such as
// message brokers or batch consumers. Verification failures return 401 with
// the uniform invalid-key message; scope failures return 403.
// POST /api/v1/auth/introspect
func (h *GateHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	var req introspectRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	k, err := h.verifier.Verify(r.Context(), req.Key)
	if err != nil {
		if errors.Is(err, service.ErrInvalidKey) {
			writeError(w, http.StatusUnauthorized, service.MsgInvalidKey)
			return
		}
		writeError(w, http.StatusInternalServerError, "Verification error")
		return
	}

	resp := introspectResponse{Valid: true, KeyID: k.ID, KeyName: k.Name}

	if req.ResourceType != "" || req.Operation != "" {
		if req.ResourceType == "" || req.Operation == "" {
			writeError(w, http.StatusBadRequest, "resource_type and operation must be supplied together")
			return
		}
		op, ok := model.ParseOperation(req.Operation)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown operation: "+req.Operation)
			return
		}

		if err := h.authz.Authorize(r.Context(), k.ID, req.ResourceType, op); err != nil {
			if errors.Is(err, service.ErrInsufficientScope) {
				writeError(w, http.StatusForbidden, service.MsgInsufficientScope)
				return
			}
			writeError(w, http.StatusInternalServerError, "Authorization error")
			return
		}

		allowed := true
		resp.Allowed = &allowed
		resp.ResourceType = req.ResourceType
		resp.Operation = req.Operation

		h.verifier.RecordUsage(r.Context(), &model.KeyUsageEvent{
			APIKeyID:  k.ID,
			Endpoint:  r.URL.Path,
			Operation: req.Operation,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// buildUsageEvent captures the audited parts of a gated request: endpoint,
// operation, headers with the credential stripped, and a bounded copy of
// the body.
func (h *GateHandler) buildUsageEvent(r *http.Request, keyID int64, op string) *model.KeyUsageEvent {
	headers := r.Header.Clone()
	headers.Del("Authorization")
	headersJSON, _ := json.Marshal(headers)

	meta, _ := json.Marshal(map[string]string{
		"remote_addr": r.RemoteAddr,
		"request_id":  middleware.GetRequestID(r.Context()),
	})

	var body string
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, _ := io.ReadAll(io.LimitReader(r.Body, maxAuditBody))
		body = string(b)
	}

	return &model.KeyUsageEvent{
		APIKeyID:  keyID,
		Endpoint:  r.URL.Path,
		Operation: op,
		Headers:   string(headersJSON),
		Meta:      string(meta),
		Body:      body,
	}
}
