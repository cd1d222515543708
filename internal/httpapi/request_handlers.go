package httpapi

import (
	"net/http"
	"strings"

	"pedolone.org/internal/authz"
)

type respondRequestRequest struct {
	RequestID       string `json:"request_id"`
	Approve         bool   `json:"approve"`
	ResponseMessage string `json:"response_message"`
}

type bulkGroupResponse struct {
	Group    authz.BulkRequestGroup `json:"group"`
	Requests []authz.AccessRequest  `json:"requests"`
}

// scopedOrg resolves the organization an endpoint operates on. A bare path is
// scoped to the caller; an /{org_id} suffix requires matching scope or the
// admin role.
func scopedOrg(w http.ResponseWriter, r *http.Request, base string) (string, bool) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, base), "/")
	if rest == "" {
		return callerOrg(w, r)
	}
	if strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return "", false
	}
	if !requireOrgScope(w, r, rest) {
		return "", false
	}
	return rest, true
}

func (a *API) handleAvailableOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID, ok := scopedOrg(w, r, "/v1/data-requests/available-organizations")
	if !ok {
		return
	}
	out, err := a.svc.AvailableOrganizations(r.Context(), orgID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (a *API) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req authz.SendRequestInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.svc.SendRequest(r.Context(), caller, req)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRespondRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req respondRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RequestID) == "" {
		writeError(w, r, http.StatusBadRequest, "request_id is required")
		return
	}

	updated, err := a.svc.RespondRequest(r.Context(), caller, req.RequestID, req.Approve, req.ResponseMessage)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleCreateBulkRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req authz.BulkRequestInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	group, requests, err := a.svc.CreateBulkRequests(r.Context(), caller, req)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bulkGroupResponse{Group: group, Requests: requests})
}

func (a *API) handleApproveBulkRequest(w http.ResponseWriter, r *http.Request) {
	a.respondBulkGroup(w, r, "/v1/data-requests/approve-bulk-request/", true)
}

func (a *API) handleRejectBulkRequest(w http.ResponseWriter, r *http.Request) {
	a.respondBulkGroup(w, r, "/v1/data-requests/reject-bulk-request/", false)
}

func (a *API) respondBulkGroup(w http.ResponseWriter, r *http.Request, prefix string, approve bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	groupID := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if groupID == "" || strings.Contains(groupID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	group, requests, err := a.svc.RespondBulkGroup(r.Context(), caller, groupID, approve)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkGroupResponse{Group: group, Requests: requests})
}

func (a *API) handleBulkGroupResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	groupID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/data-requests/bulk/"), "/")
	if groupID == "" || strings.Contains(groupID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	group, err := a.svc.GetBulkGroup(r.Context(), groupID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if caller != group.RequesterOrgID && caller != group.TargetOrgID {
		writeError(w, r, http.StatusForbidden, "organization scope mismatch")
		return
	}
	requests, err := a.svc.ListBulkRequests(r.Context(), group.ID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkGroupResponse{Group: group, Requests: requests})
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID, ok := scopedOrg(w, r, "/v1/data-requests/org")
	if !ok {
		return
	}
	requests, err := a.svc.ListRequests(r.Context(), orgID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (a *API) handleRequestStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID, ok := scopedOrg(w, r, "/v1/data-requests/stats")
	if !ok {
		return
	}
	stats, err := a.svc.RequestStats(r.Context(), orgID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
