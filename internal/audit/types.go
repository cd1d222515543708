package audit

import (
	"context"
	"time"
)

// LogType enumerates every authorization-relevant state transition that the
// trail records.
type LogType string

const (
	TypeContractCreation    LogType = "contract_creation"
	TypeContractUpdate      LogType = "contract_update"
	TypeContractDeletion    LogType = "contract_deletion"
	TypeDataRequestSent     LogType = "data_request_sent"
	TypeDataRequestApproved LogType = "data_request_approved"
	TypeDataRequestRejected LogType = "data_request_rejected"
	TypeBulkCSVCreated      LogType = "bulk_data_csv_created"
	TypeBulkCSVExported     LogType = "bulk_data_csv_exported"
	TypeConsent             LogType = "consent"
	TypeDataAccess          LogType = "data_access"
	TypeUserLogin           LogType = "user_login"
)

// Entry is one immutable audit record. Entries are never updated or deleted;
// they outlive the contracts and requests they reference.
type Entry struct {
	ID                  string         `json:"id"`
	LogType             LogType        `json:"log_type"`
	ActorOrgID          string         `json:"actor_org_id"`
	ActorOrgName        string         `json:"actor_org_name,omitempty"`
	CounterpartyOrgID   string         `json:"counterparty_org_id,omitempty"`
	CounterpartyOrgName string         `json:"counterparty_org_name,omitempty"`
	Resource            string         `json:"subject_resource,omitempty"`
	Purpose             string         `json:"subject_purpose,omitempty"`
	IPAddress           string         `json:"ip_address,omitempty"`
	Region              string         `json:"region,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	Details             map[string]any `json:"details,omitempty"`
}

// Filter narrows a trail query. Zero values mean "no constraint".
type Filter struct {
	LogType LogType
	From    time.Time
	To      time.Time
	Search  string
}

// Page is offset-based pagination.
type Page struct {
	Limit  int
	Offset int
}

// Store persists the trail. Append is the only mutation.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Query returns one page of matching entries, most recent first, plus the
	// total size of the filtered set.
	Query(ctx context.Context, orgID string, f Filter, p Page) ([]Entry, int, error)
}
