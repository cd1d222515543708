package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pedolone.org/internal/audit"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *InMemory
	svc   *Service
	trail *audit.InMemory
	clock *fakeClock

	fin  Organization // requester side
	bank Organization // data owner side
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	trail := audit.NewInMemory()
	recorder, err := audit.NewRecorder(trail, audit.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(store,
		WithAuditRecorder(recorder),
		WithServiceClock(clock.Now),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	fin, _, err := svc.RegisterOrganization(ctx, "FinServe")
	if err != nil {
		t.Fatal(err)
	}
	bank, _, err := svc.RegisterOrganization(ctx, "TrustBank")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: store, svc: svc, trail: trail, clock: clock, fin: fin, bank: bank}
}

// approvedContract provisions an approved contract granting f.bank's data to
// f.fin for the given grants.
func (f *fixture) approvedContract(t *testing.T, grants ...GrantInput) Contract {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateContract(ctx, f.fin.ID, CreateContractInput{
		TargetOrgID: f.bank.ID,
		Name:        "data sharing",
		Grants:      grants,
	})
	if err != nil {
		t.Fatal(err)
	}
	approved, err := f.svc.RespondContract(ctx, f.bank.ID, c.ID, true, "", c.Version)
	if err != nil {
		t.Fatal(err)
	}
	return approved
}

func TestRegisterAndAuthenticate(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	svc, err := NewService(store, WithServiceClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	org, secret, err := svc.RegisterOrganization(ctx, "FinServe")
	if err != nil {
		t.Fatal(err)
	}
	if secret == "" {
		t.Fatal("expected a plaintext secret at registration")
	}
	if org.SecretHash == secret {
		t.Fatal("secret must be stored hashed")
	}

	if _, err := svc.Authenticate(ctx, org.ID, secret); err != nil {
		t.Fatalf("authenticate with correct secret: %v", err)
	}
	if _, err := svc.Authenticate(ctx, org.ID, "wrong"); err == nil {
		t.Fatal("expected authentication failure with wrong secret")
	}
}

func TestContractUnusableUntilApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateContract(ctx, f.fin.ID, CreateContractInput{
		TargetOrgID: f.bank.ID,
		Grants: []GrantInput{
			{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.ApprovalStatus != ApprovalPending {
		t.Fatalf("new contract should be pending, got %s", c.ApprovalStatus)
	}
	if c.Signature == "" {
		t.Fatal("contract signature must be computed at creation")
	}

	env, err := f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsEmpty() {
		t.Fatal("pending contract must not contribute to the envelope")
	}

	if _, err := f.svc.RespondContract(ctx, f.bank.ID, c.ID, true, "ok", c.Version); err != nil {
		t.Fatal(err)
	}
	env, err = f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Resources["pan"]; !ok {
		t.Fatalf("approved contract missing from envelope: %+v", env)
	}
}

func TestProposerCannotApproveOwnContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.CreateContract(ctx, f.fin.ID, CreateContractInput{
		TargetOrgID: f.bank.ID,
		Grants:      []GrantInput{{Resource: "pan", Purposes: []string{"KYC verification"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RespondContract(ctx, f.fin.ID, c.ID, true, "", c.Version); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSendRequestOutsideEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
		GrantInput{Resource: "account_number", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	_, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUser:  UserRef{UserID: "7012"},
		Resources:   []string{"pan", "aadhaar"},
		Purposes:    []string{"KYC verification"},
	})
	if !errors.Is(err, ErrResourceNotAuthorized) {
		t.Fatalf("expected ErrResourceNotAuthorized, got %v", err)
	}

	// Nothing may be persisted on a rejected validation.
	requests, err := f.svc.ListRequests(ctx, f.fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 0 {
		t.Fatalf("no request should persist after validation failure, got %d", len(requests))
	}
}

func TestSendRequestSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	r, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID:     f.bank.ID,
		TargetUser:      UserRef{UserID: "7012"},
		Resources:       []string{"pan"},
		Purposes:        []string{"KYC verification"},
		RetentionWindow: "15 days",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != RequestPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	if len(r.ContractIDs) != 1 || r.ContractIDs[0] != c.ID {
		t.Fatalf("request must snapshot the backing contract ids, got %v", r.ContractIDs)
	}
	if r.RetentionWindow != "15 days" {
		t.Fatalf("requested retention within the grant must be kept, got %q", r.RetentionWindow)
	}
	if got, want := r.ExpiresAt.Sub(r.CreatedAt), requestResponseWindow; got != want {
		t.Fatalf("response window = %v, want %v", got, want)
	}
	if r.TargetUser.OrgID != f.bank.ID {
		t.Fatalf("target user must be scoped to the owning org, got %q", r.TargetUser.OrgID)
	}
}

func TestSendRequestRetentionExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	_, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID:     f.bank.ID,
		TargetUser:      UserRef{UserID: "7012"},
		Resources:       []string{"pan"},
		Purposes:        []string{"KYC verification"},
		RetentionWindow: "45 days",
	})
	if !errors.Is(err, ErrRetentionExceeded) {
		t.Fatalf("expected ErrRetentionExceeded, got %v", err)
	}
}

func TestExpiredContractYieldsEmptyEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	f.clock.Advance(31 * 24 * time.Hour)

	env, err := f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsEmpty() {
		t.Fatalf("expired contract must not contribute, got %+v", env.Resources)
	}

	_, err = f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUser:  UserRef{UserID: "7012"},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if !errors.Is(err, ErrResourceNotAuthorized) {
		t.Fatalf("expected ErrResourceNotAuthorized against an empty envelope, got %v", err)
	}
}

func TestRespondRequestOnlyTargetOrg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)
	r, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUser:  UserRef{UserID: "7012"},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RespondRequest(ctx, f.fin.ID, r.ID, true, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("requester must not respond to its own request, got %v", err)
	}
	updated, err := f.svc.RespondRequest(ctx, f.bank.ID, r.ID, true, "granted")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != RequestApproved || updated.RespondedBy != f.bank.ID {
		t.Fatalf("unexpected transition result: %+v", updated)
	}
	// Second response hits a non-pending request.
	if _, err := f.svc.RespondRequest(ctx, f.bank.ID, r.ID, false, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double response, got %v", err)
	}
}

func TestRequestExpiresAfterResponseWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "90 days"},
	)
	r, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUser:  UserRef{UserID: "7012"},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(8 * 24 * time.Hour)

	got, err := f.svc.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RequestExpired {
		t.Fatalf("pending request past its window must read expired, got %s", got.Status)
	}
	if _, err := f.svc.RespondRequest(ctx, f.bank.ID, r.ID, true, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on expired request, got %v", err)
	}
}

func TestBulkFanOutAndGroupApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	users := []UserRef{
		{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}, {UserID: "u4"}, {UserID: "u5"},
		{UserID: "u3"}, // duplicate, must collapse
	}
	group, requests, err := f.svc.CreateBulkRequests(ctx, f.fin.ID, BulkRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUsers: users,
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(requests) != 5 {
		t.Fatalf("expected 5 fanned-out requests, got %d", len(requests))
	}
	if group.PendingCount != 5 || group.ApprovedCount != 0 || group.RejectedCount != 0 {
		t.Fatalf("unexpected initial counts: %+v", group)
	}
	for _, r := range requests {
		if !r.IsBulk || r.BulkGroupID != group.ID {
			t.Fatalf("member not tied to group: %+v", r)
		}
	}

	// One aggregate trail entry for the whole fan-out, not one per member.
	entries, _, err := f.trail.Query(ctx, f.fin.ID, audit.Filter{LogType: audit.TypeDataRequestSent}, audit.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one aggregate trail entry for the bulk creation, got %d", len(entries))
	}
	if entries[0].Details["user_count"] != 5 {
		t.Fatalf("aggregate entry should carry the member count, got %v", entries[0].Details)
	}

	resolved, members, err := f.svc.RespondBulkGroup(ctx, f.bank.ID, group.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.PendingCount != 0 || resolved.ApprovedCount != 5 {
		t.Fatalf("unexpected counts after group approve: %+v", resolved)
	}
	for _, m := range members {
		if m.Status != RequestApproved {
			t.Fatalf("member %s not approved: %s", m.ID, m.Status)
		}
	}

	// Approving an already resolved group conflicts.
	if _, _, err := f.svc.RespondBulkGroup(ctx, f.bank.ID, group.ID, true); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBulkMemberIndividualResponseUpdatesCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)
	group, requests, err := f.svc.CreateBulkRequests(ctx, f.fin.ID, BulkRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUsers: []UserRef{{UserID: "u1"}, {UserID: "u2"}, {UserID: "u3"}},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.RespondRequest(ctx, f.bank.ID, requests[0].ID, false, "no"); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.GetBulkGroup(ctx, group.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PendingCount != 2 || got.RejectedCount != 1 {
		t.Fatalf("counts not refreshed after member response: %+v", got)
	}

	// Group approve picks up only the still-pending members.
	resolved, members, err := f.svc.RespondBulkGroup(ctx, f.bank.ID, group.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.ApprovedCount != 2 || resolved.RejectedCount != 1 {
		t.Fatalf("unexpected final counts: %+v", resolved)
	}
	if len(members) != 2 {
		t.Fatalf("group approve should transition 2 members, got %d", len(members))
	}
}

func TestCommitTimeContractRecheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	// Validate against a live envelope, then retire the backing contract
	// before the requests are committed.
	env, err := f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err := ValidateRequest(env, []string{"pan"}, []string{"KYC verification"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.TerminateContract(ctx, f.bank.ID, c.ID, c.Version); err != nil {
		t.Fatal(err)
	}

	now := f.clock.Now()
	err = f.store.CreateRequests(ctx, nil, []AccessRequest{{
		ID:              "req_stale",
		RequesterOrgID:  f.fin.ID,
		TargetOrgID:     f.bank.ID,
		TargetUser:      UserRef{OrgID: f.bank.ID, UserID: "7012"},
		ContractIDs:     snapshot.ContractIDs,
		Resources:       snapshot.Resources,
		Purposes:        snapshot.Purposes,
		RetentionWindow: snapshot.RetentionWindow,
		Status:          RequestPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(requestResponseWindow),
	}})
	if !errors.Is(err, ErrContractExpired) {
		t.Fatalf("expected ErrContractExpired at commit, got %v", err)
	}
}

func TestUpdateContractVersioning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	// Stale expected version conflicts.
	if _, err := f.svc.UpdateContract(ctx, f.fin.ID, c.ID, c.Version-1, UpdateContractInput{
		Grants: []GrantInput{{Resource: "pan", Purposes: []string{"KYC verification"}}},
	}); !errors.Is(err, ErrContractConflict) {
		t.Fatalf("expected ErrContractConflict, got %v", err)
	}

	next, err := f.svc.UpdateContract(ctx, f.fin.ID, c.ID, c.Version, UpdateContractInput{
		Grants: []GrantInput{
			{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
			{Resource: "email", Purposes: []string{"communication"}, RetentionWindow: "30 days"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if next.PrevVersionID != c.ID || next.ApprovalStatus != ApprovalPending {
		t.Fatalf("edit must be a fresh pending version: %+v", next)
	}

	// Prior version stays authoritative while the edit is pending.
	env, err := f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Resources["email"]; ok {
		t.Fatal("pending edit must not contribute to the envelope")
	}

	// A second concurrent edit proposal conflicts.
	if _, err := f.svc.UpdateContract(ctx, f.bank.ID, c.ID, c.Version, UpdateContractInput{
		Grants: []GrantInput{{Resource: "pan", Purposes: []string{"KYC verification"}}},
	}); !errors.Is(err, ErrContractConflict) {
		t.Fatalf("expected ErrContractConflict for duplicate pending edit, got %v", err)
	}

	// Counterparty approval activates the edit and supersedes the prior version.
	if _, err := f.svc.RespondContract(ctx, f.bank.ID, next.ID, true, "", next.Version); err != nil {
		t.Fatal(err)
	}
	env, err = f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Resources["email"]; !ok {
		t.Fatal("approved edit must contribute to the envelope")
	}
	prior, err := f.svc.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prior.SupersededBy != next.ID || prior.UsableAt(f.clock.Now()) {
		t.Fatalf("prior version must be superseded and unusable: %+v", prior)
	}
}

func TestTerminateContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	got, err := f.svc.TerminateContract(ctx, f.fin.ID, c.ID, c.Version)
	if err != nil {
		t.Fatal(err)
	}
	if got.LifecycleStatus != LifecycleDeleted {
		t.Fatalf("expected deleted lifecycle, got %s", got.LifecycleStatus)
	}
	if _, err := f.svc.TerminateContract(ctx, f.fin.ID, c.ID, got.Version); !errors.Is(err, ErrConflict) {
		t.Fatalf("double terminate should conflict, got %v", err)
	}

	env, err := f.svc.ResolveAuthorization(ctx, f.fin.ID, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsEmpty() {
		t.Fatal("terminated contract must not contribute to the envelope")
	}
}

func TestContractAndRequestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)
	if _, err := f.svc.CreateContract(ctx, f.fin.ID, CreateContractInput{
		TargetOrgID: f.bank.ID,
		Grants:      []GrantInput{{Resource: "email", Purposes: []string{"communication"}}},
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.ContractStats(ctx, f.fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Active != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected contract stats: %+v", stats)
	}

	r, err := f.svc.SendRequest(ctx, f.fin.ID, SendRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUser:  UserRef{UserID: "7012"},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RespondRequest(ctx, f.bank.ID, r.ID, false, "no"); err != nil {
		t.Fatal(err)
	}

	rs, err := f.svc.RequestStats(ctx, f.fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rs.TotalSent != 1 || rs.Rejected != 1 {
		t.Fatalf("unexpected request stats: %+v", rs)
	}
}

func TestAvailableOrganizations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	// FinServe can request from TrustBank, but not the other way around.
	out, err := f.svc.AvailableOrganizations(ctx, f.fin.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].OrgID != f.bank.ID {
		t.Fatalf("unexpected counterparties: %+v", out)
	}
	if _, ok := out[0].AllowedResources["pan"]; !ok {
		t.Fatalf("missing allowed resource: %+v", out[0])
	}

	reverse, err := f.svc.AvailableOrganizations(ctx, f.bank.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reverse) != 0 {
		t.Fatalf("direction must not be inferred: %+v", reverse)
	}
}

func TestBulkGroupCountsFoldExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approvedContract(t,
		GrantInput{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	)

	group, _, err := f.svc.CreateBulkRequests(ctx, f.fin.ID, BulkRequestInput{
		TargetOrgID: f.bank.ID,
		TargetUsers: []UserRef{{UserID: "u1"}, {UserID: "u2"}},
		Resources:   []string{"pan"},
		Purposes:    []string{"KYC verification"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if group.PendingCount != 2 {
		t.Fatalf("unexpected initial pending count: %+v", group)
	}

	// Past the response window the members read as expired, and the group
	// counts must agree without any transition touching it first.
	f.clock.Advance(8 * 24 * time.Hour)

	got, err := f.svc.GetBulkGroup(ctx, group.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PendingCount != 0 || got.ApprovedCount != 0 || got.RejectedCount != 0 {
		t.Fatalf("stale members still counted: %+v", got)
	}

	members, err := f.svc.ListBulkRequests(ctx, group.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range members {
		if m.EffectiveStatus(f.clock.Now()) != RequestExpired {
			t.Fatalf("member %s should read expired: %s", m.ID, m.Status)
		}
	}
}
