package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pedolone.org/internal/audit"
	"pedolone.org/internal/auth"
	"pedolone.org/internal/authz"
	"pedolone.org/internal/obs"
	"pedolone.org/internal/stream"
)

// ReadyProbe checks backing-store readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authorization engine.
type API struct {
	mux        *http.ServeMux
	svc        *authz.Service
	trail      *audit.Recorder
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

// Option configures the API.
type Option func(*API)

// WithStream enables the SSE notification endpoint.
func WithStream(st *stream.Stream) Option {
	return func(a *API) { a.stream = st }
}

// WithVersion sets the version reported by health and info endpoints.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithReadyProbe sets the readiness probe.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

func New(svc *authz.Service, trail *audit.Recorder, opts ...Option) *API {
	a := &API{
		mux:     http.NewServeMux(),
		svc:     svc,
		trail:   trail,
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// organizations and tokens
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// contracts
	a.mux.HandleFunc("/v1/inter-org-contracts", a.handleContractsCollection)
	a.mux.HandleFunc("/v1/inter-org-contracts/", a.handleContractResource)

	// data requests
	a.mux.HandleFunc("/v1/data-requests/available-organizations", a.handleAvailableOrganizations)
	a.mux.HandleFunc("/v1/data-requests/available-organizations/", a.handleAvailableOrganizations)
	a.mux.HandleFunc("/v1/data-requests/send-request", a.handleSendRequest)
	a.mux.HandleFunc("/v1/data-requests/respond", a.handleRespondRequest)
	a.mux.HandleFunc("/v1/data-requests/create-bulk-request", a.handleCreateBulkRequest)
	a.mux.HandleFunc("/v1/data-requests/approve-bulk-request/", a.handleApproveBulkRequest)
	a.mux.HandleFunc("/v1/data-requests/reject-bulk-request/", a.handleRejectBulkRequest)
	a.mux.HandleFunc("/v1/data-requests/bulk/", a.handleBulkGroupResource)
	a.mux.HandleFunc("/v1/data-requests/org", a.handleListRequests)
	a.mux.HandleFunc("/v1/data-requests/org/", a.handleListRequests)
	a.mux.HandleFunc("/v1/data-requests/stats", a.handleRequestStats)
	a.mux.HandleFunc("/v1/data-requests/stats/", a.handleRequestStats)

	// audit trail
	a.mux.HandleFunc("/v1/audit/org/", a.handleAuditTrail)

	// SSE notifications
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "pedolone-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "pedolone-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleEngineError maps engine errors onto HTTP statuses. Validation
// rejections are 403 so callers can distinguish "not allowed by contract"
// from malformed input.
func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrResourceNotAuthorized),
		errors.Is(err, authz.ErrPurposeNotAuthorized),
		errors.Is(err, authz.ErrRetentionExceeded):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, authz.ErrEmptySelection),
		errors.Is(err, authz.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrContractConflict),
		errors.Is(err, authz.ErrContractExpired),
		errors.Is(err, authz.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, authz.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}

// callerOrg returns the authenticated organization id or writes a 401.
func callerOrg(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := auth.OrgIDFromContext(r.Context())
	if !ok || strings.TrimSpace(orgID) == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return orgID, true
}

// requireOrgScope checks that the caller is the path organization or holds
// the admin role.
func requireOrgScope(w http.ResponseWriter, r *http.Request, orgID string) bool {
	caller, ok := callerOrg(w, r)
	if !ok {
		return false
	}
	if caller == orgID || auth.HasRole(r.Context(), "admin") {
		return true
	}
	writeError(w, r, http.StatusForbidden, "organization scope mismatch")
	return false
}
