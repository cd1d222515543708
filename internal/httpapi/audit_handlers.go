package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pedolone.org/internal/audit"
)

type auditPageResponse struct {
	Entries []audit.Entry `json:"entries"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// handleAuditTrail serves GET /v1/audit/org/{org_id} with optional
// log_type, start_date, end_date, search, limit and offset parameters.
func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	orgID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audit/org/"), "/")
	if orgID == "" || strings.Contains(orgID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !requireOrgScope(w, r, orgID) {
		return
	}
	if a.trail == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit trail disabled")
		return
	}

	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	f := audit.Filter{
		LogType: audit.LogType(strings.TrimSpace(q.Get("log_type"))),
		Search:  strings.TrimSpace(q.Get("search")),
	}
	// Date bounds are whole days, inclusive on both ends.
	if raw := strings.TrimSpace(q.Get("start_date")); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "start_date must be YYYY-MM-DD")
			return
		}
		f.From = day
	}
	if raw := strings.TrimSpace(q.Get("end_date")); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "end_date must be YYYY-MM-DD")
			return
		}
		f.To = day.Add(24*time.Hour - time.Nanosecond)
	}

	entries, total, err := a.trail.Query(r.Context(), orgID, f, audit.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, auditPageResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}
