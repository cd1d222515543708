package authz

import "context"

// Store persists organizations, contracts, requests and bulk groups.
//
// Implementations must serialize writes per contract and per bulk group: two
// concurrent transitions of the same record must not interleave.
// CreateRequests must re-check that every referenced contract is still usable
// inside its own write scope, so that a contract expiring between validation
// and persistence can never leave an invalid request behind.
type Store interface {
	CreateOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)

	CreateContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id string) (Contract, error)
	ListContractsByOrg(ctx context.Context, orgID string) ([]Contract, error)
	// ListContractsBetween returns contracts granting targetOrgID's data to
	// requesterOrgID, regardless of status; the resolver filters usability.
	ListContractsBetween(ctx context.Context, requesterOrgID, targetOrgID string) ([]Contract, error)
	// UpdateContract applies the given record if the stored version still
	// equals expectedVersion, otherwise fails with ErrContractConflict.
	UpdateContract(ctx context.Context, c Contract, expectedVersion int64) (Contract, error)
	// SupersedeContract atomically activates next and retires the prior
	// version (lifecycle deleted, superseded_by set).
	SupersedeContract(ctx context.Context, priorID string, next Contract) (Contract, error)

	// CreateRequests persists the group (nil for a single request) and its
	// requests after re-verifying contract usability at commit time.
	CreateRequests(ctx context.Context, group *BulkRequestGroup, requests []AccessRequest) error
	GetRequest(ctx context.Context, id string) (AccessRequest, error)
	ListRequestsByOrg(ctx context.Context, orgID string) ([]AccessRequest, error)
	GetBulkGroup(ctx context.Context, id string) (BulkRequestGroup, error)
	ListBulkRequests(ctx context.Context, groupID string) ([]AccessRequest, error)
	// TransitionRequest moves a single pending request to the given status and
	// refreshes its group's derived counts. The returned group is zero-valued
	// for non-bulk requests.
	TransitionRequest(ctx context.Context, id string, status RequestStatus, respondedBy, message string) (AccessRequest, BulkRequestGroup, error)
	// TransitionBulkGroup atomically moves every pending member of the group.
	TransitionBulkGroup(ctx context.Context, groupID string, status RequestStatus, respondedBy string) (BulkRequestGroup, []AccessRequest, error)
}
