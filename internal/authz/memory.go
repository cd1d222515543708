package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. The single
// mutex doubles as the single-writer guarantee for contracts and bulk groups.
type InMemory struct {
	mu        sync.RWMutex
	orgs      map[string]*Organization
	contracts map[string]*Contract
	requests  map[string]*AccessRequest
	groups    map[string]*BulkRequestGroup
	now       func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:      make(map[string]*Organization),
		contracts: make(map[string]*Contract),
		requests:  make(map[string]*AccessRequest),
		groups:    make(map[string]*BulkRequestGroup),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock. Intended for tests.
func (s *InMemory) SetClock(now func() time.Time) { s.now = now }

func (s *InMemory) CreateOrganization(ctx context.Context, org Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("%w: organization %s", ErrConflict, org.ID)
	}
	for _, existing := range s.orgs {
		if existing.Name == org.Name {
			return fmt.Errorf("%w: organization name %q", ErrConflict, org.Name)
		}
	}
	cp := org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *InMemory) GetOrganization(ctx context.Context, id string) (Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, fmt.Errorf("%w: organization %s", ErrNotFound, id)
	}
	return *org, nil
}

func (s *InMemory) ListOrganizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, *org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) CreateContract(ctx context.Context, c Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; ok {
		return fmt.Errorf("%w: contract %s", ErrConflict, c.ID)
	}
	cp := cloneContract(c)
	s.contracts[c.ID] = &cp
	return nil
}

func (s *InMemory) GetContract(ctx context.Context, id string) (Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return Contract{}, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	return cloneContract(*c), nil
}

func (s *InMemory) ListContractsByOrg(ctx context.Context, orgID string) ([]Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Contract
	for _, c := range s.contracts {
		if c.RequesterOrgID == orgID || c.TargetOrgID == orgID {
			out = append(out, cloneContract(*c))
		}
	}
	sortContractsNewestFirst(out)
	return out, nil
}

func (s *InMemory) ListContractsBetween(ctx context.Context, requesterOrgID, targetOrgID string) ([]Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Contract
	for _, c := range s.contracts {
		if c.RequesterOrgID == requesterOrgID && c.TargetOrgID == targetOrgID {
			out = append(out, cloneContract(*c))
		}
	}
	sortContractsNewestFirst(out)
	return out, nil
}

func (s *InMemory) UpdateContract(ctx context.Context, c Contract, expectedVersion int64) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.contracts[c.ID]
	if !ok {
		return Contract{}, fmt.Errorf("%w: contract %s", ErrNotFound, c.ID)
	}
	if current.Version != expectedVersion {
		return Contract{}, fmt.Errorf("%w: contract %s is at version %d, expected %d",
			ErrContractConflict, c.ID, current.Version, expectedVersion)
	}
	cp := cloneContract(c)
	s.contracts[c.ID] = &cp
	return cloneContract(cp), nil
}

func (s *InMemory) SupersedeContract(ctx context.Context, priorID string, next Contract) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.contracts[priorID]
	if !ok {
		return Contract{}, fmt.Errorf("%w: contract %s", ErrNotFound, priorID)
	}
	stored, ok := s.contracts[next.ID]
	if !ok {
		return Contract{}, fmt.Errorf("%w: contract %s", ErrNotFound, next.ID)
	}
	prior.LifecycleStatus = LifecycleDeleted
	prior.SupersededBy = next.ID
	cp := cloneContract(next)
	*stored = cp
	return cloneContract(cp), nil
}

func (s *InMemory) CreateRequests(ctx context.Context, group *BulkRequestGroup, requests []AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Commit-time re-check: the contracts backing the validated snapshot must
	// still be usable when the requests are persisted.
	now := s.now()
	checked := map[string]struct{}{}
	for _, r := range requests {
		for _, cid := range r.ContractIDs {
			if _, done := checked[cid]; done {
				continue
			}
			checked[cid] = struct{}{}
			c, ok := s.contracts[cid]
			if !ok || !c.UsableAt(now) {
				return fmt.Errorf("%w: contract %s is no longer usable", ErrContractExpired, cid)
			}
		}
	}

	for _, r := range requests {
		if _, ok := s.requests[r.ID]; ok {
			return fmt.Errorf("%w: request %s", ErrConflict, r.ID)
		}
	}
	if group != nil {
		if _, ok := s.groups[group.ID]; ok {
			return fmt.Errorf("%w: bulk group %s", ErrConflict, group.ID)
		}
		cp := cloneGroup(*group)
		s.groups[group.ID] = &cp
	}
	for _, r := range requests {
		cp := cloneRequest(r)
		s.requests[r.ID] = &cp
	}
	if group != nil {
		s.recountGroupLocked(group.ID)
		*group = cloneGroup(*s.groups[group.ID])
	}
	return nil
}

func (s *InMemory) GetRequest(ctx context.Context, id string) (AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return cloneRequest(*r), nil
}

func (s *InMemory) ListRequestsByOrg(ctx context.Context, orgID string) ([]AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessRequest
	for _, r := range s.requests {
		if r.RequesterOrgID == orgID || r.TargetOrgID == orgID {
			out = append(out, cloneRequest(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) GetBulkGroup(ctx context.Context, id string) (BulkRequestGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return BulkRequestGroup{}, fmt.Errorf("%w: bulk group %s", ErrNotFound, id)
	}
	out := cloneGroup(*g)
	out.PendingCount, out.ApprovedCount, out.RejectedCount = s.countGroupLocked(id)
	return out, nil
}

func (s *InMemory) ListBulkRequests(ctx context.Context, groupID string) ([]AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: bulk group %s", ErrNotFound, groupID)
	}
	var out []AccessRequest
	for _, r := range s.requests {
		if r.BulkGroupID == groupID {
			out = append(out, cloneRequest(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) TransitionRequest(ctx context.Context, id string, status RequestStatus, respondedBy, message string) (AccessRequest, BulkRequestGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return AccessRequest{}, BulkRequestGroup{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	now := s.now()
	if r.Status != RequestPending {
		return AccessRequest{}, BulkRequestGroup{}, fmt.Errorf("%w: request %s has already been responded to", ErrConflict, id)
	}
	if !now.Before(r.ExpiresAt) {
		r.Status = RequestExpired
		if r.IsBulk {
			s.recountGroupLocked(r.BulkGroupID)
		}
		return AccessRequest{}, BulkRequestGroup{}, fmt.Errorf("%w: request %s has expired", ErrConflict, id)
	}

	r.Status = status
	r.RespondedBy = respondedBy
	r.ResponseMessage = message
	responded := now
	r.RespondedAt = &responded

	var group BulkRequestGroup
	if r.IsBulk {
		s.recountGroupLocked(r.BulkGroupID)
		if g, ok := s.groups[r.BulkGroupID]; ok {
			group = cloneGroup(*g)
		}
	}
	return cloneRequest(*r), group, nil
}

func (s *InMemory) TransitionBulkGroup(ctx context.Context, groupID string, status RequestStatus, respondedBy string) (BulkRequestGroup, []AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return BulkRequestGroup{}, nil, fmt.Errorf("%w: bulk group %s", ErrNotFound, groupID)
	}

	now := s.now()
	var transitioned []AccessRequest
	for _, r := range s.requests {
		if r.BulkGroupID != groupID || r.Status != RequestPending {
			continue
		}
		if !now.Before(r.ExpiresAt) {
			r.Status = RequestExpired
			continue
		}
		r.Status = status
		r.RespondedBy = respondedBy
		responded := now
		r.RespondedAt = &responded
		transitioned = append(transitioned, cloneRequest(*r))
	}
	if len(transitioned) == 0 {
		return BulkRequestGroup{}, nil, fmt.Errorf("%w: bulk group %s has no pending requests", ErrConflict, groupID)
	}
	sort.Slice(transitioned, func(i, j int) bool { return transitioned[i].ID < transitioned[j].ID })
	s.recountGroupLocked(groupID)
	return cloneGroup(*g), transitioned, nil
}

// recountGroupLocked recomputes derived counts from the member requests.
// Callers must hold the write lock.
func (s *InMemory) recountGroupLocked(groupID string) {
	g, ok := s.groups[groupID]
	if !ok {
		return
	}
	g.PendingCount, g.ApprovedCount, g.RejectedCount = s.countGroupLocked(groupID)
}

// countGroupLocked tallies member statuses with clock-driven expiry folded in,
// so a stale pending member never inflates pending_count. Callers must hold at
// least the read lock.
func (s *InMemory) countGroupLocked(groupID string) (pending, approved, rejected int) {
	now := s.now()
	for _, r := range s.requests {
		if r.BulkGroupID != groupID {
			continue
		}
		switch r.EffectiveStatus(now) {
		case RequestPending:
			pending++
		case RequestApproved:
			approved++
		case RequestRejected:
			rejected++
		}
	}
	return pending, approved, rejected
}

func sortContractsNewestFirst(contracts []Contract) {
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].CreatedAt.Equal(contracts[j].CreatedAt) {
			return contracts[i].ID < contracts[j].ID
		}
		return contracts[i].CreatedAt.After(contracts[j].CreatedAt)
	})
}

func cloneContract(c Contract) Contract {
	out := c
	out.Grants = make([]ResourceGrant, len(c.Grants))
	for i, g := range c.Grants {
		out.Grants[i] = g
		out.Grants[i].Purposes = append([]string(nil), g.Purposes...)
	}
	return out
}

func cloneRequest(r AccessRequest) AccessRequest {
	out := r
	out.ContractIDs = append([]string(nil), r.ContractIDs...)
	out.Resources = append([]string(nil), r.Resources...)
	out.Purposes = append([]string(nil), r.Purposes...)
	if r.RespondedAt != nil {
		at := *r.RespondedAt
		out.RespondedAt = &at
	}
	return out
}

func cloneGroup(g BulkRequestGroup) BulkRequestGroup {
	out := g
	out.TargetUsers = append([]UserRef(nil), g.TargetUsers...)
	out.Resources = append([]string(nil), g.Resources...)
	out.Purposes = append([]string(nil), g.Purposes...)
	return out
}
