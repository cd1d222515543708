package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pedolone.org/internal/auth"
)

type registerOrgRequest struct {
	Name string `json:"name"`
}

type registerOrgResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APISecret string    `json:"api_secret"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenRequest struct {
	OrgID     string `json:"org_id"`
	APISecret string `json:"api_secret"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerOrganization(w, r)
	case http.MethodGet:
		a.listOrganizations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) registerOrganization(w http.ResponseWriter, r *http.Request) {
	var req registerOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	org, secret, err := a.svc.RegisterOrganization(r.Context(), req.Name)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	// The API secret is shown exactly once.
	writeJSON(w, http.StatusCreated, registerOrgResponse{
		ID:        org.ID,
		Name:      org.Name,
		APISecret: secret,
		CreatedAt: org.CreatedAt,
	})
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerOrg(w, r); !ok {
		return
	}
	orgID := r.URL.Query().Get("id")
	if orgID != "" {
		org, err := a.svc.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleEngineError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return
	}
	counterparties, err := a.svc.AvailableOrganizations(r.Context(), mustCallerOrg(r))
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": counterparties})
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.OrgID) == "" || strings.TrimSpace(req.APISecret) == "" {
		writeError(w, r, http.StatusBadRequest, "org_id and api_secret are required")
		return
	}

	org, err := a.svc.Authenticate(r.Context(), req.OrgID, req.APISecret)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	// Roles are never caller-supplied; a secret exchange only ever yields the
	// base org scope.
	token, err := auth.GenerateToken(org.ID, org.Name, []string{"org"}, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(tokenTTL),
	})
}

func mustCallerOrg(r *http.Request) string {
	orgID, _ := auth.OrgIDFromContext(r.Context())
	return orgID
}
