package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedContract(t *testing.T, s *InMemory, c Contract) Contract {
	t.Helper()
	if err := s.CreateContract(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func usable(id, requester, target string, now time.Time, grants ...ResourceGrant) Contract {
	return Contract{
		ID:              id,
		Type:            ContractTypeDataSharing,
		RequesterOrgID:  requester,
		TargetOrgID:     target,
		Grants:          grants,
		ApprovalStatus:  ApprovalApproved,
		LifecycleStatus: LifecycleActive,
		Version:         1,
		CreatedAt:       now,
		EndsAt:          now.Add(30 * 24 * time.Hour),
	}
}

func TestResolveUnionsAcrossContracts(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	r := NewResolver(store)
	r.now = clock.Now
	now := clock.Now()
	ctx := context.Background()

	seedContract(t, store, usable("ctr_a", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	))
	seedContract(t, store, usable("ctr_b", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "pan", Purposes: []string{"fraud screening"}, RetentionWindow: "60 days"},
		ResourceGrant{Resource: "account_number", Purposes: []string{"KYC verification"}, RetentionWindow: "15 days"},
	))

	env, err := r.ResolveAuthorization(ctx, "org_fin", "org_bank")
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %+v", env.Resources)
	}
	pan := env.Resources["pan"]
	if len(pan.Purposes) != 2 {
		t.Fatalf("purposes must union across contracts, got %v", pan.Purposes)
	}
	if pan.RetentionWindow != "60 days" {
		t.Fatalf("envelope keeps the longest retention, got %q", pan.RetentionWindow)
	}
	if len(env.ContractIDs) != 2 {
		t.Fatalf("both contributing contracts must be listed, got %v", env.ContractIDs)
	}
}

func TestResolveDirectionality(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	r := NewResolver(store)
	r.now = clock.Now
	ctx := context.Background()

	seedContract(t, store, usable("ctr_a", "org_fin", "org_bank", clock.Now(),
		ResourceGrant{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"},
	))

	env, err := r.ResolveAuthorization(ctx, "org_bank", "org_fin")
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsEmpty() {
		t.Fatalf("reverse direction must resolve empty, got %+v", env.Resources)
	}
}

func TestResolveSkipsUnusableContracts(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	r := NewResolver(store)
	r.now = clock.Now
	now := clock.Now()
	ctx := context.Background()

	pending := usable("ctr_pending", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days"})
	pending.ApprovalStatus = ApprovalPending
	seedContract(t, store, pending)

	deleted := usable("ctr_deleted", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "email", Purposes: []string{"communication"}, RetentionWindow: "30 days"})
	deleted.LifecycleStatus = LifecycleDeleted
	seedContract(t, store, deleted)

	ended := usable("ctr_ended", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "phone", Purposes: []string{"communication"}, RetentionWindow: "30 days"})
	ended.EndsAt = now.Add(-time.Hour)
	seedContract(t, store, ended)

	env, err := r.ResolveAuthorization(ctx, "org_fin", "org_bank")
	if err != nil {
		t.Fatal(err)
	}
	if !env.IsEmpty() {
		t.Fatalf("no usable contract, envelope must be empty: %+v", env.Resources)
	}
}

func TestResolveSkipsExpiredGrants(t *testing.T) {
	clock := newFakeClock()
	store := NewInMemory()
	store.SetClock(clock.Now)
	r := NewResolver(store)
	r.now = clock.Now
	now := clock.Now()
	ctx := context.Background()

	c := usable("ctr_a", "org_fin", "org_bank", now,
		ResourceGrant{Resource: "pan", Purposes: []string{"KYC verification"}, RetentionWindow: "30 days", ExpiresAt: now.Add(24 * time.Hour)},
		ResourceGrant{Resource: "email", Purposes: []string{"communication"}, RetentionWindow: "1 days", ExpiresAt: now.Add(-time.Hour)},
	)
	seedContract(t, store, c)

	env, err := r.ResolveAuthorization(ctx, "org_fin", "org_bank")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Resources["email"]; ok {
		t.Fatal("expired grant must be excluded from the envelope")
	}
	if _, ok := env.Resources["pan"]; !ok {
		t.Fatal("live grant missing from the envelope")
	}
}

func TestResolveRejectsSameOrg(t *testing.T) {
	r := NewResolver(NewInMemory())
	if _, err := r.ResolveAuthorization(context.Background(), "org_a", "org_a"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := r.ResolveAuthorization(context.Background(), "", "org_a"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
