package audit

import (
	"context"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestRecordStampsAndEnriches(t *testing.T) {
	store := NewInMemory()
	r, err := NewRecorder(store,
		WithClock(fixedClock()),
		WithRegionFunc(func(ip string) string { return "Internal Network" }),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithClientIP(context.Background(), "192.168.1.10")
	if err := r.Record(ctx, Entry{
		LogType:      TypeContractCreation,
		ActorOrgID:   "org_fin",
		ActorOrgName: "FinServe",
	}); err != nil {
		t.Fatal(err)
	}

	entries, total, err := r.Query(ctx, "org_fin", Filter{}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d/%d", len(entries), total)
	}
	e := entries[0]
	if e.ID == "" {
		t.Fatal("entry id must be stamped")
	}
	if e.IPAddress != "192.168.1.10" {
		t.Fatalf("ip not taken from context: %q", e.IPAddress)
	}
	if e.Region != "Internal Network" {
		t.Fatalf("region not enriched: %q", e.Region)
	}
}

func TestRecordRequiresTypeAndActor(t *testing.T) {
	r, err := NewRecorder(NewInMemory())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Record(context.Background(), Entry{ActorOrgID: "org_fin"}); err == nil {
		t.Fatal("expected error for missing log type")
	}
	if err := r.Record(context.Background(), Entry{LogType: TypeConsent}); err == nil {
		t.Fatal("expected error for missing actor")
	}
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []Entry{
		{ID: "aud_1", LogType: TypeContractCreation, ActorOrgID: "org_fin", ActorOrgName: "FinServe", CounterpartyOrgID: "org_bank", CreatedAt: base},
		{ID: "aud_2", LogType: TypeDataRequestSent, ActorOrgID: "org_fin", Resource: "pan", CreatedAt: base.Add(time.Hour)},
		{ID: "aud_3", LogType: TypeDataRequestApproved, ActorOrgID: "org_bank", CounterpartyOrgID: "org_fin", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "aud_4", LogType: TypeUserLogin, ActorOrgID: "org_other", CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, e := range seed {
		if err := store.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Org scoping matches actor or counterparty.
	entries, total, err := store.Query(ctx, "org_fin", Filter{}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("expected 3 entries for org_fin, got %d", total)
	}
	if entries[0].ID != "aud_3" {
		t.Fatalf("most recent first, got %s", entries[0].ID)
	}

	// Log type filter.
	_, total, err = store.Query(ctx, "org_fin", Filter{LogType: TypeDataRequestSent}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected 1 data_request_sent entry, got %d", total)
	}

	// Inclusive date bounds.
	_, total, err = store.Query(ctx, "org_fin", Filter{From: base.Add(time.Hour), To: base.Add(2 * time.Hour)}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("expected 2 entries in range, got %d", total)
	}

	// Case-insensitive search over names and resources.
	_, total, err = store.Query(ctx, "org_fin", Filter{Search: "finserve"}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected 1 search hit, got %d", total)
	}

	// Offset pagination keeps the filtered total.
	page, total, err := store.Query(ctx, "org_fin", Filter{}, Page{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page) != 1 {
		t.Fatalf("expected total 3 with 1 on the last page, got %d/%d", total, len(page))
	}
}
