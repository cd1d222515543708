package httpapi

import (
	"net/http"
	"strings"

	"pedolone.org/internal/authz"
)

type respondContractRequest struct {
	ContractID      string `json:"contract_id"`
	Approve         bool   `json:"approve"`
	ResponseMessage string `json:"response_message"`
	Version         int64  `json:"version"`
}

type updateContractRequest struct {
	Version int64 `json:"version"`
	authz.UpdateContractInput
}

type terminateContractRequest struct {
	Version int64 `json:"version"`
}

func (a *API) handleContractsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createContract(w, r)
	case http.MethodGet:
		caller, ok := callerOrg(w, r)
		if !ok {
			return
		}
		a.listContracts(w, r, caller)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleContractResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/inter-org-contracts/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")

	switch {
	case parts[0] == "respond" && len(parts) == 1:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.respondContract(w, r)
	case parts[0] == "org" && len(parts) == 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !requireOrgScope(w, r, parts[1]) {
			return
		}
		a.listContracts(w, r, parts[1])
	case parts[0] == "stats" && len(parts) == 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !requireOrgScope(w, r, parts[1]) {
			return
		}
		a.contractStats(w, r, parts[1])
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getContract(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "update":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.updateContract(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "terminate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.terminateContract(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createContract(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req authz.CreateContractInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := a.svc.CreateContract(r.Context(), caller, req)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/inter-org-contracts/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) respondContract(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req respondContractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ContractID) == "" {
		writeError(w, r, http.StatusBadRequest, "contract_id is required")
		return
	}

	c, err := a.svc.RespondContract(r.Context(), caller, req.ContractID, req.Approve, req.ResponseMessage, req.Version)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) getContract(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	c, err := a.svc.GetContract(r.Context(), id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	if caller != c.RequesterOrgID && caller != c.TargetOrgID {
		writeError(w, r, http.StatusForbidden, "organization scope mismatch")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateContract(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req updateContractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := a.svc.UpdateContract(r.Context(), caller, id, req.Version, req.UpdateContractInput)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) terminateContract(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerOrg(w, r)
	if !ok {
		return
	}
	var req terminateContractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := a.svc.TerminateContract(r.Context(), caller, id, req.Version)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) listContracts(w http.ResponseWriter, r *http.Request, orgID string) {
	contracts, err := a.svc.ListContracts(r.Context(), orgID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

func (a *API) contractStats(w http.ResponseWriter, r *http.Request, orgID string) {
	stats, err := a.svc.ContractStats(r.Context(), orgID)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
