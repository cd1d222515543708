package authz

import (
	"sort"
	"strings"
	"time"
)

// ApprovalStatus tracks counterparty sign-off on a contract version.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// LifecycleStatus tracks whether a contract record is still in force.
type LifecycleStatus string

const (
	LifecycleActive  LifecycleStatus = "active"
	LifecycleExpired LifecycleStatus = "expired"
	LifecycleDeleted LifecycleStatus = "deleted"
)

// RequestStatus tracks the state of an access request or bulk group.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestExpired  RequestStatus = "expired"
)

// Contract types mirror the sharing modes the platform supports.
const (
	ContractTypeDataSharing = "data_sharing"
	ContractTypeFileSharing = "file_sharing"
)

// Organization is a participant in the data-sharing network.
type Organization struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResourceGrant is one (resource, purposes, retention) tuple inside a contract.
type ResourceGrant struct {
	Resource        string    `json:"resource_name"`
	Purposes        []string  `json:"purposes"`
	RetentionWindow string    `json:"retention_window"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Contract is a bilateral, versioned grant: the target org's data may be
// requested by the requester org, limited to the listed resource grants.
// Direction matters and is never inferred from caller context.
type Contract struct {
	ID              string          `json:"contract_id"`
	Name            string          `json:"contract_name"`
	Type            string          `json:"contract_type"`
	RequesterOrgID  string          `json:"requester_org_id"`
	TargetOrgID     string          `json:"target_org_id"`
	Grants          []ResourceGrant `json:"resources_allowed"`
	ApprovalStatus  ApprovalStatus  `json:"approval_status"`
	LifecycleStatus LifecycleStatus `json:"lifecycle_status"`
	ApprovalMessage string          `json:"approval_message,omitempty"`
	ResponseMessage string          `json:"response_message,omitempty"`
	Version         int64           `json:"version"`
	CreatedBy       string          `json:"created_by,omitempty"`
	PrevVersionID   string          `json:"prev_version_id,omitempty"`
	SupersededBy    string          `json:"superseded_by,omitempty"`
	Signature       string          `json:"signature,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	EndsAt          time.Time       `json:"ends_at"`
}

// UsableAt reports whether the contract may authorize requests at the given
// instant: counterparty-approved, still active, and not past its end date.
func (c Contract) UsableAt(now time.Time) bool {
	return c.ApprovalStatus == ApprovalApproved &&
		c.LifecycleStatus == LifecycleActive &&
		now.Before(c.EndsAt)
}

// EnvelopeGrant is the per-resource slice of an authorization envelope.
type EnvelopeGrant struct {
	Purposes        []string `json:"purposes"`
	RetentionWindow string   `json:"retention_window"`
}

// AuthorizationEnvelope is the union of everything the requester org may ask
// of the target org at resolution time.
type AuthorizationEnvelope struct {
	RequesterOrgID string                   `json:"requester_org_id"`
	TargetOrgID    string                   `json:"target_org_id"`
	Resources      map[string]EnvelopeGrant `json:"resources"`
	ContractIDs    []string                 `json:"contract_ids"`
	ResolvedAt     time.Time                `json:"resolved_at"`
}

// IsEmpty reports whether no resource is requestable under this envelope.
func (e AuthorizationEnvelope) IsEmpty() bool { return len(e.Resources) == 0 }

// ValidatedRequest is the immutable selection snapshot produced by the
// validator. The snapshot, not a live contract reference, is what gets
// persisted on each access request; later contract edits never alter it.
type ValidatedRequest struct {
	ContractIDs     []string  `json:"contract_ids"`
	Resources       []string  `json:"requested_resources"`
	Purposes        []string  `json:"purposes"`
	RetentionWindow string    `json:"retention_window"`
	ValidatedAt     time.Time `json:"validated_at"`
}

// Clone returns a deep copy of the snapshot.
func (v ValidatedRequest) Clone() ValidatedRequest {
	out := v
	out.ContractIDs = append([]string(nil), v.ContractIDs...)
	out.Resources = append([]string(nil), v.Resources...)
	out.Purposes = append([]string(nil), v.Purposes...)
	return out
}

// UserRef identifies a target user scoped by owning organization. Numeric
// user ids repeat across organizations, so the composite pair is the only
// safe identity.
type UserRef struct {
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`
}

// Key returns the composite dedup key for the reference.
func (u UserRef) Key() string { return u.OrgID + "/" + u.UserID }

// AccessRequest is a concrete ask for one target user's resources.
type AccessRequest struct {
	ID              string        `json:"request_id"`
	RequesterOrgID  string        `json:"requester_org_id"`
	TargetOrgID     string        `json:"target_org_id"`
	TargetUser      UserRef       `json:"target_user"`
	ContractIDs     []string      `json:"contract_ids"`
	Resources       []string      `json:"requested_resources"`
	Purposes        []string      `json:"purposes"`
	RetentionWindow string        `json:"retention_window"`
	Status          RequestStatus `json:"status"`
	IsBulk          bool          `json:"is_bulk"`
	BulkGroupID     string        `json:"bulk_group_id,omitempty"`
	Message         string        `json:"request_message,omitempty"`
	ResponseMessage string        `json:"response_message,omitempty"`
	RespondedBy     string        `json:"responded_by,omitempty"`
	RespondedAt     *time.Time    `json:"responded_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// EffectiveStatus folds clock-driven expiry into the stored status: a pending
// request past its response window reads as expired.
func (r AccessRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status == RequestPending && !now.Before(r.ExpiresAt) {
		return RequestExpired
	}
	return r.Status
}

// BulkRequestGroup ties together the per-user requests fanned out from one
// bulk submission. Counts are derived from the members and maintained under
// the store's single-writer lock, never stored independently of them.
type BulkRequestGroup struct {
	ID              string    `json:"bulk_group_id"`
	RequesterOrgID  string    `json:"requester_org_id"`
	TargetOrgID     string    `json:"target_org_id"`
	TargetUsers     []UserRef `json:"target_users"`
	Resources       []string  `json:"requested_resources"`
	Purposes        []string  `json:"purposes"`
	RetentionWindow string    `json:"retention_window"`
	PendingCount    int       `json:"pending_count"`
	ApprovedCount   int       `json:"approved_count"`
	RejectedCount   int       `json:"rejected_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// ContractStats summarizes an organization's contracts by state.
type ContractStats struct {
	Total      int `json:"total_contracts"`
	Active     int `json:"active_contracts"`
	Pending    int `json:"pending_contracts"`
	Expired    int `json:"expired_contracts"`
	Terminated int `json:"terminated_contracts"`
}

// RequestStats summarizes an organization's sent requests by state.
type RequestStats struct {
	TotalSent int `json:"total_sent"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Expired   int `json:"expired"`
}

// CounterpartyAuthorization annotates an organization with what the caller
// may currently request from it.
type CounterpartyAuthorization struct {
	OrgID            string                   `json:"org_id"`
	OrgName          string                   `json:"org_name"`
	AllowedResources map[string]EnvelopeGrant `json:"allowed_resources"`
	AllowedPurposes  []string                 `json:"allowed_purposes"`
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
