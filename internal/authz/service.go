package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pedolone.org/internal/audit"
	"pedolone.org/internal/auth"
	"pedolone.org/internal/ids"
	"pedolone.org/internal/obs"
	"pedolone.org/internal/stream"
)

// Recipients get one week to respond before a request reads as expired.
const requestResponseWindow = 7 * 24 * time.Hour

// Service exposes the command side of the authorization engine: contract
// lifecycle, request submission and fan-out, and the transitions between
// them. Reads and resolution stay on the Resolver. Every accepted or
// rejected transition is appended to the audit trail.
type Service struct {
	store    Store
	resolver *Resolver
	recorder *audit.Recorder
	events   *stream.Stream
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAuditRecorder wires the audit trail builder into the service.
func WithAuditRecorder(r *audit.Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// WithStream wires the notification stream into the service.
func WithStream(st *stream.Stream) ServiceOption {
	return func(s *Service) { s.events = st }
}

// WithServiceClock overrides the service clock. Intended for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates the engine service over the given store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz store is required")
	}
	s := &Service{
		store:    store,
		resolver: NewResolver(store),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver.now = s.now
	return s, nil
}

// Resolver returns the read-only resolver sharing this service's store.
func (s *Service) Resolver() *Resolver { return s.resolver }

// --- organizations ---

// RegisterOrganization creates an organization and returns its API secret.
// The plaintext secret is only available here; the store keeps the hash.
func (s *Service) RegisterOrganization(ctx context.Context, name string) (Organization, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, "", fmt.Errorf("%w: organization name is required", ErrInvalidRequest)
	}
	plain, err := auth.NewAPISecret()
	if err != nil {
		return Organization{}, "", err
	}
	hash, err := auth.HashSecret(plain)
	if err != nil {
		return Organization{}, "", err
	}
	org := Organization{
		ID:         ids.NewOrg(),
		Name:       name,
		SecretHash: hash,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return Organization{}, "", err
	}
	return org, plain, nil
}

// Authenticate verifies an organization's API secret.
func (s *Service) Authenticate(ctx context.Context, orgID, secret string) (Organization, error) {
	org, err := s.store.GetOrganization(ctx, strings.TrimSpace(orgID))
	if err != nil {
		return Organization{}, err
	}
	if err := auth.VerifySecret(org.SecretHash, secret); err != nil {
		return Organization{}, auth.ErrUnauthorized
	}
	s.record(ctx, audit.Entry{
		LogType:      audit.TypeUserLogin,
		ActorOrgID:   org.ID,
		ActorOrgName: org.Name,
	})
	return org, nil
}

// GetOrganization returns one organization record.
func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	return s.store.GetOrganization(ctx, strings.TrimSpace(id))
}

// --- contracts ---

// GrantInput is one proposed (resource, purposes, retention) tuple.
type GrantInput struct {
	Resource        string   `json:"resource_name"`
	Purposes        []string `json:"purpose"`
	RetentionWindow string   `json:"retention_window"`
}

// CreateContractInput carries a contract proposal.
type CreateContractInput struct {
	TargetOrgID     string       `json:"target_org_id"`
	Name            string       `json:"contract_name"`
	Type            string       `json:"contract_type"`
	Grants          []GrantInput `json:"resources_allowed"`
	ValidityWindow  string       `json:"validity_window"`
	ApprovalMessage string       `json:"approval_message"`
}

// CreateContract proposes a contract granting the target org's data to the
// requester. The contract is unusable until the counterparty approves it.
func (s *Service) CreateContract(ctx context.Context, requesterOrgID string, in CreateContractInput) (Contract, error) {
	requesterOrgID = strings.TrimSpace(requesterOrgID)
	targetOrgID := strings.TrimSpace(in.TargetOrgID)
	if requesterOrgID == "" || targetOrgID == "" {
		return Contract{}, fmt.Errorf("%w: both organization ids are required", ErrInvalidRequest)
	}
	if requesterOrgID == targetOrgID {
		return Contract{}, fmt.Errorf("%w: a contract requires two distinct organizations", ErrInvalidRequest)
	}
	requester, err := s.store.GetOrganization(ctx, requesterOrgID)
	if err != nil {
		return Contract{}, err
	}
	target, err := s.store.GetOrganization(ctx, targetOrgID)
	if err != nil {
		return Contract{}, err
	}

	contractType := strings.TrimSpace(in.Type)
	if contractType == "" {
		contractType = ContractTypeDataSharing
	}
	if contractType != ContractTypeDataSharing && contractType != ContractTypeFileSharing {
		return Contract{}, fmt.Errorf("%w: unsupported contract type %q", ErrInvalidRequest, contractType)
	}

	now := s.now()
	validity := in.ValidityWindow
	if strings.TrimSpace(validity) == "" {
		validity = DefaultRetentionWindow
	}
	validFor, err := ParseRetention(validity)
	if err != nil {
		return Contract{}, err
	}
	endsAt := now.Add(validFor)

	grants, err := buildGrants(in.Grants, now, endsAt)
	if err != nil {
		return Contract{}, err
	}

	c := Contract{
		ID:              ids.NewContract(),
		Name:            strings.TrimSpace(in.Name),
		Type:            contractType,
		RequesterOrgID:  requesterOrgID,
		TargetOrgID:     targetOrgID,
		Grants:          grants,
		ApprovalStatus:  ApprovalPending,
		LifecycleStatus: LifecycleActive,
		ApprovalMessage: strings.TrimSpace(in.ApprovalMessage),
		Version:         1,
		CreatedBy:       requesterOrgID,
		CreatedAt:       now,
		EndsAt:          endsAt,
	}
	c.Signature = signContract(c)
	if err := s.store.CreateContract(ctx, c); err != nil {
		return Contract{}, err
	}

	s.record(ctx, audit.Entry{
		LogType:             audit.TypeContractCreation,
		ActorOrgID:          requester.ID,
		ActorOrgName:        requester.Name,
		CounterpartyOrgID:   target.ID,
		CounterpartyOrgName: target.Name,
		Resource:            joinResources(grantResources(grants)),
		Purpose:             joinResources(grantPurposes(grants)),
		Details:             map[string]any{"contract_id": c.ID, "contract_type": c.Type},
	})
	s.publish(stream.Event{
		Kind:           stream.EventContractCreated,
		ActorOrgID:     requester.ID,
		RecipientOrgID: target.ID,
		SubjectID:      c.ID,
	})
	return c, nil
}

// RespondContract lets the counterparty approve or reject a pending contract
// version. Approving an edit version supersedes the prior approved version.
func (s *Service) RespondContract(ctx context.Context, actorOrgID, contractID string, approve bool, message string, expectedVersion int64) (Contract, error) {
	c, err := s.store.GetContract(ctx, strings.TrimSpace(contractID))
	if err != nil {
		return Contract{}, err
	}
	actorOrgID = strings.TrimSpace(actorOrgID)
	if actorOrgID != c.RequesterOrgID && actorOrgID != c.TargetOrgID {
		return Contract{}, fmt.Errorf("%w: organization %s is not a party to contract %s", ErrInvalidRequest, actorOrgID, c.ID)
	}
	if actorOrgID == c.CreatedBy {
		return Contract{}, fmt.Errorf("%w: the proposing organization cannot approve its own contract version", ErrInvalidRequest)
	}
	if c.ApprovalStatus != ApprovalPending {
		return Contract{}, fmt.Errorf("%w: contract %s has already been responded to", ErrConflict, c.ID)
	}

	if approve {
		c.ApprovalStatus = ApprovalApproved
	} else {
		c.ApprovalStatus = ApprovalRejected
	}
	c.ResponseMessage = strings.TrimSpace(message)
	c.Version = expectedVersion + 1
	updated, err := s.store.UpdateContract(ctx, c, expectedVersion)
	if err != nil {
		return Contract{}, err
	}
	if approve && updated.PrevVersionID != "" {
		updated, err = s.store.SupersedeContract(ctx, updated.PrevVersionID, updated)
		if err != nil {
			return Contract{}, err
		}
	}

	s.record(ctx, audit.Entry{
		LogType:           audit.TypeContractUpdate,
		ActorOrgID:        actorOrgID,
		CounterpartyOrgID: otherParty(updated, actorOrgID),
		Details: map[string]any{
			"contract_id":     updated.ID,
			"approval_status": string(updated.ApprovalStatus),
		},
	})
	s.publish(stream.Event{
		Kind:           stream.EventContractResponded,
		ActorOrgID:     actorOrgID,
		RecipientOrgID: otherParty(updated, actorOrgID),
		SubjectID:      updated.ID,
		Payload:        map[string]any{"approval_status": string(updated.ApprovalStatus)},
	})
	return updated, nil
}

// UpdateContractInput carries an edit proposal for an active contract.
type UpdateContractInput struct {
	Grants         []GrantInput `json:"resources_allowed"`
	ValidityWindow string       `json:"validity_window"`
	Message        string       `json:"approval_message"`
}

// UpdateContract proposes a new version of an approved contract. The edit is
// a fresh pending version; the prior version stays authoritative until the
// counterparty approves, so the resolver never reads a pending edit.
func (s *Service) UpdateContract(ctx context.Context, actorOrgID, contractID string, expectedVersion int64, in UpdateContractInput) (Contract, error) {
	prior, err := s.store.GetContract(ctx, strings.TrimSpace(contractID))
	if err != nil {
		return Contract{}, err
	}
	actorOrgID = strings.TrimSpace(actorOrgID)
	if actorOrgID != prior.RequesterOrgID && actorOrgID != prior.TargetOrgID {
		return Contract{}, fmt.Errorf("%w: organization %s is not a party to contract %s", ErrInvalidRequest, actorOrgID, prior.ID)
	}
	if prior.Version != expectedVersion {
		return Contract{}, fmt.Errorf("%w: contract %s is at version %d, expected %d",
			ErrContractConflict, prior.ID, prior.Version, expectedVersion)
	}
	if prior.ApprovalStatus != ApprovalApproved || prior.LifecycleStatus != LifecycleActive {
		return Contract{}, fmt.Errorf("%w: only an active approved contract can be edited", ErrConflict)
	}
	if err := s.ensureNoPendingSuccessor(ctx, prior); err != nil {
		return Contract{}, err
	}

	now := s.now()
	validity := in.ValidityWindow
	if strings.TrimSpace(validity) == "" {
		validity = DefaultRetentionWindow
	}
	validFor, err := ParseRetention(validity)
	if err != nil {
		return Contract{}, err
	}
	endsAt := now.Add(validFor)
	grants, err := buildGrants(in.Grants, now, endsAt)
	if err != nil {
		return Contract{}, err
	}

	next := Contract{
		ID:              ids.NewContract(),
		Name:            prior.Name,
		Type:            prior.Type,
		RequesterOrgID:  prior.RequesterOrgID,
		TargetOrgID:     prior.TargetOrgID,
		Grants:          grants,
		ApprovalStatus:  ApprovalPending,
		LifecycleStatus: LifecycleActive,
		ApprovalMessage: strings.TrimSpace(in.Message),
		Version:         prior.Version + 1,
		PrevVersionID:   prior.ID,
		CreatedBy:       actorOrgID,
		CreatedAt:       now,
		EndsAt:          endsAt,
	}
	next.Signature = signContract(next)
	if err := s.store.CreateContract(ctx, next); err != nil {
		return Contract{}, err
	}

	s.record(ctx, audit.Entry{
		LogType:           audit.TypeContractUpdate,
		ActorOrgID:        actorOrgID,
		CounterpartyOrgID: otherParty(next, actorOrgID),
		Resource:          joinResources(grantResources(grants)),
		Details: map[string]any{
			"contract_id":     next.ID,
			"prev_version_id": prior.ID,
			"version":         next.Version,
		},
	})
	return next, nil
}

// TerminateContract retires a contract. Either party may terminate.
func (s *Service) TerminateContract(ctx context.Context, actorOrgID, contractID string, expectedVersion int64) (Contract, error) {
	c, err := s.store.GetContract(ctx, strings.TrimSpace(contractID))
	if err != nil {
		return Contract{}, err
	}
	actorOrgID = strings.TrimSpace(actorOrgID)
	if actorOrgID != c.RequesterOrgID && actorOrgID != c.TargetOrgID {
		return Contract{}, fmt.Errorf("%w: organization %s is not a party to contract %s", ErrInvalidRequest, actorOrgID, c.ID)
	}
	if c.LifecycleStatus == LifecycleDeleted {
		return Contract{}, fmt.Errorf("%w: contract %s is already terminated", ErrConflict, c.ID)
	}
	c.LifecycleStatus = LifecycleDeleted
	c.Version = expectedVersion + 1
	updated, err := s.store.UpdateContract(ctx, c, expectedVersion)
	if err != nil {
		return Contract{}, err
	}

	s.record(ctx, audit.Entry{
		LogType:           audit.TypeContractDeletion,
		ActorOrgID:        actorOrgID,
		CounterpartyOrgID: otherParty(updated, actorOrgID),
		Details:           map[string]any{"contract_id": updated.ID},
	})
	return updated, nil
}

// GetContract returns one contract record.
func (s *Service) GetContract(ctx context.Context, id string) (Contract, error) {
	return s.store.GetContract(ctx, strings.TrimSpace(id))
}

// ListContracts returns every contract an organization is party to.
func (s *Service) ListContracts(ctx context.Context, orgID string) ([]Contract, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidRequest)
	}
	return s.store.ListContractsByOrg(ctx, orgID)
}

// ContractStats summarizes an organization's contracts by state.
func (s *Service) ContractStats(ctx context.Context, orgID string) (ContractStats, error) {
	contracts, err := s.ListContracts(ctx, orgID)
	if err != nil {
		return ContractStats{}, err
	}
	now := s.now()
	var stats ContractStats
	stats.Total = len(contracts)
	for _, c := range contracts {
		switch {
		case c.LifecycleStatus == LifecycleDeleted:
			stats.Terminated++
		case c.ApprovalStatus == ApprovalPending:
			stats.Pending++
		case !now.Before(c.EndsAt) || c.LifecycleStatus == LifecycleExpired:
			stats.Expired++
		case c.UsableAt(now):
			stats.Active++
		}
	}
	return stats, nil
}

// ResolveAuthorization delegates to the resolver.
func (s *Service) ResolveAuthorization(ctx context.Context, requesterOrgID, targetOrgID string) (AuthorizationEnvelope, error) {
	return s.resolver.ResolveAuthorization(ctx, requesterOrgID, targetOrgID)
}

// AvailableOrganizations delegates to the resolver.
func (s *Service) AvailableOrganizations(ctx context.Context, orgID string) ([]CounterpartyAuthorization, error) {
	return s.resolver.AvailableOrganizations(ctx, orgID)
}

// --- access requests ---

// SendRequestInput carries a single data-access request.
type SendRequestInput struct {
	TargetOrgID     string   `json:"target_org_id"`
	TargetUser      UserRef  `json:"target_user"`
	Resources       []string `json:"requested_resources"`
	Purposes        []string `json:"purposes"`
	RetentionWindow string   `json:"retention_window"`
	Message         string   `json:"request_message"`
}

// SendRequest validates and persists one access request. Validation runs
// server-side regardless of any client pre-filtering, and contract usability
// is re-checked when the request is committed.
func (s *Service) SendRequest(ctx context.Context, requesterOrgID string, in SendRequestInput) (AccessRequest, error) {
	if strings.TrimSpace(in.TargetUser.UserID) == "" {
		obs.CountDecision(decisionOutcome(ErrInvalidRequest))
		return AccessRequest{}, fmt.Errorf("%w: target user is required", ErrInvalidRequest)
	}
	snapshot, err := s.validate(ctx, requesterOrgID, in.TargetOrgID, in.Resources, in.Purposes, in.RetentionWindow)
	if err != nil {
		return AccessRequest{}, err
	}

	targetUser := in.TargetUser
	if strings.TrimSpace(targetUser.OrgID) == "" {
		targetUser.OrgID = strings.TrimSpace(in.TargetOrgID)
	}

	now := s.now()
	r := AccessRequest{
		ID:              ids.NewRequest(),
		RequesterOrgID:  strings.TrimSpace(requesterOrgID),
		TargetOrgID:     strings.TrimSpace(in.TargetOrgID),
		TargetUser:      targetUser,
		ContractIDs:     snapshot.ContractIDs,
		Resources:       snapshot.Resources,
		Purposes:        snapshot.Purposes,
		RetentionWindow: snapshot.RetentionWindow,
		Status:          RequestPending,
		Message:         strings.TrimSpace(in.Message),
		CreatedAt:       now,
		ExpiresAt:       now.Add(requestResponseWindow),
	}
	if err := s.store.CreateRequests(ctx, nil, []AccessRequest{r}); err != nil {
		return AccessRequest{}, err
	}

	s.recordRequestEntry(ctx, audit.TypeDataRequestSent, r, map[string]any{
		"request_id":  r.ID,
		"target_user": r.TargetUser.Key(),
	})
	s.publish(stream.Event{
		Kind:           stream.EventRequestSent,
		ActorOrgID:     r.RequesterOrgID,
		RecipientOrgID: r.TargetOrgID,
		SubjectID:      r.ID,
	})
	return r, nil
}

// RespondRequest lets the target organization approve or reject one pending
// request. For bulk members the group's derived counts are refreshed.
func (s *Service) RespondRequest(ctx context.Context, actorOrgID, requestID string, approve bool, message string) (AccessRequest, error) {
	r, err := s.store.GetRequest(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return AccessRequest{}, err
	}
	actorOrgID = strings.TrimSpace(actorOrgID)
	if actorOrgID != r.TargetOrgID {
		return AccessRequest{}, fmt.Errorf("%w: only the target organization can respond to request %s", ErrInvalidRequest, r.ID)
	}

	status := RequestRejected
	logType := audit.TypeDataRequestRejected
	if approve {
		status = RequestApproved
		logType = audit.TypeDataRequestApproved
	}
	updated, _, err := s.store.TransitionRequest(ctx, r.ID, status, actorOrgID, strings.TrimSpace(message))
	if err != nil {
		return AccessRequest{}, err
	}

	s.recordRequestEntry(ctx, logType, updated, map[string]any{
		"request_id":  updated.ID,
		"target_user": updated.TargetUser.Key(),
	})
	s.publish(stream.Event{
		Kind:           stream.EventRequestResponded,
		ActorOrgID:     actorOrgID,
		RecipientOrgID: updated.RequesterOrgID,
		SubjectID:      updated.ID,
		Payload:        map[string]any{"status": string(updated.Status)},
	})
	return updated, nil
}

// BulkRequestInput carries one bulk submission fanning out to many users.
type BulkRequestInput struct {
	TargetOrgID     string    `json:"target_org_id"`
	TargetUsers     []UserRef `json:"selected_users"`
	Resources       []string  `json:"requested_resources"`
	Purposes        []string  `json:"purposes"`
	RetentionWindow string    `json:"retention_window"`
}

// CreateBulkRequests expands one bulk submission into per-user requests
// sharing a group id. Target users are deduplicated by their composite
// (org_id, user_id) key; a bare user id is never trusted to be unique.
func (s *Service) CreateBulkRequests(ctx context.Context, requesterOrgID string, in BulkRequestInput) (BulkRequestGroup, []AccessRequest, error) {
	users := dedupeUsers(in.TargetUsers, strings.TrimSpace(in.TargetOrgID))
	if len(users) == 0 {
		obs.CountDecision(decisionOutcome(ErrEmptySelection))
		return BulkRequestGroup{}, nil, fmt.Errorf("%w: at least one target user is required", ErrEmptySelection)
	}
	snapshot, err := s.validate(ctx, requesterOrgID, in.TargetOrgID, in.Resources, in.Purposes, in.RetentionWindow)
	if err != nil {
		return BulkRequestGroup{}, nil, err
	}

	now := s.now()
	group := BulkRequestGroup{
		ID:              uuid.NewString(),
		RequesterOrgID:  strings.TrimSpace(requesterOrgID),
		TargetOrgID:     strings.TrimSpace(in.TargetOrgID),
		TargetUsers:     users,
		Resources:       snapshot.Resources,
		Purposes:        snapshot.Purposes,
		RetentionWindow: snapshot.RetentionWindow,
		CreatedAt:       now,
	}
	requests := make([]AccessRequest, 0, len(users))
	for _, u := range users {
		requests = append(requests, AccessRequest{
			ID:              ids.NewRequest(),
			RequesterOrgID:  group.RequesterOrgID,
			TargetOrgID:     group.TargetOrgID,
			TargetUser:      u,
			ContractIDs:     append([]string(nil), snapshot.ContractIDs...),
			Resources:       append([]string(nil), snapshot.Resources...),
			Purposes:        append([]string(nil), snapshot.Purposes...),
			RetentionWindow: snapshot.RetentionWindow,
			Status:          RequestPending,
			IsBulk:          true,
			BulkGroupID:     group.ID,
			CreatedAt:       now,
			ExpiresAt:       now.Add(requestResponseWindow),
		})
	}
	if err := s.store.CreateRequests(ctx, &group, requests); err != nil {
		return BulkRequestGroup{}, nil, err
	}

	// One aggregate trail entry per bulk transition; member-level entries are
	// reserved for individual responses.
	s.record(ctx, audit.Entry{
		LogType:           audit.TypeDataRequestSent,
		ActorOrgID:        group.RequesterOrgID,
		ActorOrgName:      s.orgName(ctx, group.RequesterOrgID),
		CounterpartyOrgID: group.TargetOrgID,
		CounterpartyOrgName: s.orgName(ctx, group.TargetOrgID),
		Resource:          joinResources(group.Resources),
		Purpose:           joinResources(group.Purposes),
		Details: map[string]any{
			"bulk_group_id": group.ID,
			"user_count":    len(users),
		},
	})
	s.publish(stream.Event{
		Kind:           stream.EventBulkGroupCreated,
		ActorOrgID:     group.RequesterOrgID,
		RecipientOrgID: group.TargetOrgID,
		SubjectID:      group.ID,
		Payload:        map[string]any{"user_count": len(users)},
	})
	return group, requests, nil
}

// RespondBulkGroup atomically approves or rejects every pending member of a
// bulk group. On approval the CSV materialization hand-off is recorded.
func (s *Service) RespondBulkGroup(ctx context.Context, actorOrgID, groupID string, approve bool) (BulkRequestGroup, []AccessRequest, error) {
	group, err := s.store.GetBulkGroup(ctx, strings.TrimSpace(groupID))
	if err != nil {
		return BulkRequestGroup{}, nil, err
	}
	actorOrgID = strings.TrimSpace(actorOrgID)
	if actorOrgID != group.TargetOrgID {
		return BulkRequestGroup{}, nil, fmt.Errorf("%w: only the target organization can respond to bulk group %s", ErrInvalidRequest, group.ID)
	}

	status := RequestRejected
	logType := audit.TypeDataRequestRejected
	if approve {
		status = RequestApproved
		logType = audit.TypeDataRequestApproved
	}
	updated, members, err := s.store.TransitionBulkGroup(ctx, group.ID, status, actorOrgID)
	if err != nil {
		return BulkRequestGroup{}, nil, err
	}

	details := map[string]any{
		"bulk_group_id": updated.ID,
		"member_count":  len(members),
	}
	s.record(ctx, audit.Entry{
		LogType:             logType,
		ActorOrgID:          actorOrgID,
		ActorOrgName:        s.orgName(ctx, actorOrgID),
		CounterpartyOrgID:   updated.RequesterOrgID,
		CounterpartyOrgName: s.orgName(ctx, updated.RequesterOrgID),
		Resource:            joinResources(updated.Resources),
		Purpose:             joinResources(updated.Purposes),
		Details:             details,
	})
	if approve {
		s.record(ctx, audit.Entry{
			LogType:           audit.TypeBulkCSVCreated,
			ActorOrgID:        actorOrgID,
			CounterpartyOrgID: updated.RequesterOrgID,
			Details:           details,
		})
	}
	s.publish(stream.Event{
		Kind:           stream.EventBulkGroupResolved,
		ActorOrgID:     actorOrgID,
		RecipientOrgID: updated.RequesterOrgID,
		SubjectID:      updated.ID,
		Payload:        map[string]any{"status": string(status), "member_count": len(members)},
	})
	return updated, members, nil
}

// GetRequest returns one request with clock-derived status folded in.
func (s *Service) GetRequest(ctx context.Context, id string) (AccessRequest, error) {
	r, err := s.store.GetRequest(ctx, strings.TrimSpace(id))
	if err != nil {
		return AccessRequest{}, err
	}
	r.Status = r.EffectiveStatus(s.now())
	return r, nil
}

// ListRequests returns every request an organization is party to.
func (s *Service) ListRequests(ctx context.Context, orgID string) ([]AccessRequest, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidRequest)
	}
	requests, err := s.store.ListRequestsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range requests {
		requests[i].Status = requests[i].EffectiveStatus(now)
	}
	return requests, nil
}

// GetBulkGroup returns one bulk group.
func (s *Service) GetBulkGroup(ctx context.Context, id string) (BulkRequestGroup, error) {
	return s.store.GetBulkGroup(ctx, strings.TrimSpace(id))
}

// ListBulkRequests returns the member requests of a bulk group.
func (s *Service) ListBulkRequests(ctx context.Context, groupID string) ([]AccessRequest, error) {
	return s.store.ListBulkRequests(ctx, strings.TrimSpace(groupID))
}

// RequestStats summarizes requests sent by an organization.
func (s *Service) RequestStats(ctx context.Context, orgID string) (RequestStats, error) {
	requests, err := s.store.ListRequestsByOrg(ctx, strings.TrimSpace(orgID))
	if err != nil {
		return RequestStats{}, err
	}
	now := s.now()
	var stats RequestStats
	for _, r := range requests {
		if r.RequesterOrgID != orgID {
			continue
		}
		stats.TotalSent++
		switch r.EffectiveStatus(now) {
		case RequestPending:
			stats.Pending++
		case RequestApproved:
			stats.Approved++
		case RequestRejected:
			stats.Rejected++
		case RequestExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

// --- helpers ---

// validate resolves the envelope and checks the proposed selection,
// recording the decision outcome metric either way.
func (s *Service) validate(ctx context.Context, requesterOrgID, targetOrgID string, resources, purposes []string, retention string) (ValidatedRequest, error) {
	env, err := s.resolver.ResolveAuthorization(ctx, requesterOrgID, targetOrgID)
	if err != nil {
		obs.CountDecision(decisionOutcome(err))
		return ValidatedRequest{}, err
	}
	snapshot, err := ValidateRequest(env, resources, purposes, retention)
	if err != nil {
		obs.CountDecision(decisionOutcome(err))
		return ValidatedRequest{}, err
	}
	obs.CountDecision("granted")
	return snapshot, nil
}

func (s *Service) ensureNoPendingSuccessor(ctx context.Context, prior Contract) error {
	siblings, err := s.store.ListContractsBetween(ctx, prior.RequesterOrgID, prior.TargetOrgID)
	if err != nil {
		return err
	}
	for _, c := range siblings {
		if c.PrevVersionID == prior.ID && c.ApprovalStatus == ApprovalPending {
			return fmt.Errorf("%w: contract %s already has a pending edit (%s)", ErrContractConflict, prior.ID, c.ID)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.recorder == nil {
		return
	}
	if e.ActorOrgName == "" {
		e.ActorOrgName = s.orgName(ctx, e.ActorOrgID)
	}
	if e.CounterpartyOrgName == "" && e.CounterpartyOrgID != "" {
		e.CounterpartyOrgName = s.orgName(ctx, e.CounterpartyOrgID)
	}
	if err := s.recorder.Record(ctx, e); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error",
			"msg":   "audit append failed",
			"event": string(e.LogType),
			"error": err.Error(),
		})
	}
}

func (s *Service) recordRequestEntry(ctx context.Context, logType audit.LogType, r AccessRequest, details map[string]any) {
	actor, counterparty := r.RequesterOrgID, r.TargetOrgID
	if logType != audit.TypeDataRequestSent {
		actor, counterparty = r.TargetOrgID, r.RequesterOrgID
	}
	s.record(ctx, audit.Entry{
		LogType:           logType,
		ActorOrgID:        actor,
		CounterpartyOrgID: counterparty,
		Resource:          joinResources(r.Resources),
		Purpose:           joinResources(r.Purposes),
		Details:           details,
	})
}

func (s *Service) orgName(ctx context.Context, orgID string) string {
	if orgID == "" {
		return ""
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return ""
	}
	return org.Name
}

func (s *Service) publish(e stream.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(e)
}

func buildGrants(inputs []GrantInput, now, endsAt time.Time) ([]ResourceGrant, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one resource grant is required", ErrInvalidRequest)
	}
	grants := make([]ResourceGrant, 0, len(inputs))
	seen := map[string]struct{}{}
	for _, in := range inputs {
		resource := strings.TrimSpace(in.Resource)
		if resource == "" {
			return nil, fmt.Errorf("%w: grant resource name is required", ErrInvalidRequest)
		}
		if _, dup := seen[resource]; dup {
			return nil, fmt.Errorf("%w: duplicate grant for resource %q", ErrInvalidRequest, resource)
		}
		seen[resource] = struct{}{}
		purposes := normalizeSet(in.Purposes)
		if len(purposes) == 0 {
			return nil, fmt.Errorf("%w: grant for %q needs at least one purpose", ErrInvalidRequest, resource)
		}
		window := in.RetentionWindow
		if strings.TrimSpace(window) == "" {
			window = DefaultRetentionWindow
		}
		retention, err := ParseRetention(window)
		if err != nil {
			return nil, err
		}
		expires := now.Add(retention)
		if expires.After(endsAt) {
			expires = endsAt
		}
		grants = append(grants, ResourceGrant{
			Resource:        resource,
			Purposes:        purposes,
			RetentionWindow: window,
			CreatedAt:       now,
			ExpiresAt:       expires,
		})
	}
	return grants, nil
}

func dedupeUsers(users []UserRef, defaultOrgID string) []UserRef {
	seen := map[string]struct{}{}
	out := make([]UserRef, 0, len(users))
	for _, u := range users {
		u.OrgID = strings.TrimSpace(u.OrgID)
		u.UserID = strings.TrimSpace(u.UserID)
		if u.UserID == "" {
			continue
		}
		if u.OrgID == "" {
			u.OrgID = defaultOrgID
		}
		if _, ok := seen[u.Key()]; ok {
			continue
		}
		seen[u.Key()] = struct{}{}
		out = append(out, u)
	}
	return out
}

func decisionOutcome(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, ErrResourceNotAuthorized):
		return "resource_not_authorized"
	case errors.Is(err, ErrPurposeNotAuthorized):
		return "purpose_not_authorized"
	case errors.Is(err, ErrRetentionExceeded):
		return "retention_exceeded"
	case errors.Is(err, ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}

func signContract(c Contract) string {
	payload := fmt.Sprintf("%s:%s:%s:%s", c.RequesterOrgID, c.TargetOrgID, c.Type, c.CreatedAt.Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func grantResources(grants []ResourceGrant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.Resource)
	}
	return out
}

func grantPurposes(grants []ResourceGrant) []string {
	var out []string
	for _, g := range grants {
		out = append(out, g.Purposes...)
	}
	return normalizeSet(out)
}

func joinResources(values []string) string {
	return strings.Join(values, ", ")
}

func otherParty(c Contract, orgID string) string {
	if c.RequesterOrgID == orgID {
		return c.TargetOrgID
	}
	return c.RequesterOrgID
}
