package authz

import (
	"errors"
	"testing"
	"time"
)

func testEnvelope() AuthorizationEnvelope {
	return AuthorizationEnvelope{
		RequesterOrgID: "org_fin",
		TargetOrgID:    "org_bank",
		Resources: map[string]EnvelopeGrant{
			"pan":            {Purposes: []string{"KYC verification", "fraud screening"}, RetentionWindow: "30 days"},
			"account_number": {Purposes: []string{"KYC verification"}, RetentionWindow: "15 days"},
		},
		ContractIDs: []string{"ctr_a", "ctr_b"},
		ResolvedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestValidateRequestHappyPath(t *testing.T) {
	env := testEnvelope()
	got, err := ValidateRequest(env, []string{"pan", "account_number"}, []string{"KYC verification"}, "10 days")
	if err != nil {
		t.Fatal(err)
	}
	if got.RetentionWindow != "10 days" {
		t.Fatalf("retention = %q, want requested window", got.RetentionWindow)
	}
	if len(got.Resources) != 2 || len(got.ContractIDs) != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if !got.ValidatedAt.Equal(env.ResolvedAt) {
		t.Fatalf("snapshot must pin the resolution instant")
	}
}

func TestValidateRequestUnknownResource(t *testing.T) {
	_, err := ValidateRequest(testEnvelope(), []string{"pan", "aadhaar"}, []string{"KYC verification"}, "")
	if !errors.Is(err, ErrResourceNotAuthorized) {
		t.Fatalf("expected ErrResourceNotAuthorized, got %v", err)
	}
}

func TestValidateRequestUnknownPurpose(t *testing.T) {
	_, err := ValidateRequest(testEnvelope(), []string{"pan"}, []string{"marketing"}, "")
	if !errors.Is(err, ErrPurposeNotAuthorized) {
		t.Fatalf("expected ErrPurposeNotAuthorized, got %v", err)
	}
}

func TestValidateRequestRetentionCappedByMinimum(t *testing.T) {
	// pan allows 30 days, account_number only 15; the pair is capped at 15.
	_, err := ValidateRequest(testEnvelope(), []string{"pan", "account_number"}, []string{"KYC verification"}, "20 days")
	if !errors.Is(err, ErrRetentionExceeded) {
		t.Fatalf("expected ErrRetentionExceeded, got %v", err)
	}
	if _, err := ValidateRequest(testEnvelope(), []string{"pan"}, []string{"KYC verification"}, "20 days"); err != nil {
		t.Fatalf("20 days is within pan's grant alone: %v", err)
	}
}

func TestValidateRequestEmptySelection(t *testing.T) {
	if _, err := ValidateRequest(testEnvelope(), nil, []string{"KYC verification"}, ""); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if _, err := ValidateRequest(testEnvelope(), []string{"pan"}, nil, ""); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if _, err := ValidateRequest(testEnvelope(), []string{" ", ""}, []string{"KYC verification"}, ""); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("whitespace-only selections are empty, got %v", err)
	}
}

func TestValidateRequestAgainstEmptyEnvelope(t *testing.T) {
	env := AuthorizationEnvelope{RequesterOrgID: "org_fin", TargetOrgID: "org_bank", Resources: map[string]EnvelopeGrant{}}
	_, err := ValidateRequest(env, []string{"pan"}, []string{"KYC verification"}, "")
	if !errors.Is(err, ErrResourceNotAuthorized) {
		t.Fatalf("expected ErrResourceNotAuthorized, got %v", err)
	}
}

func TestParseRetention(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30 days", 30 * 24 * time.Hour, false},
		{"1 day", 24 * time.Hour, false},
		{"12 hours", 12 * time.Hour, false},
		{"7", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"soon", 0, true},
		{"-3 days", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseRetention(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseRetention(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRetention(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRetention(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
