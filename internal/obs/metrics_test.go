package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"": "/",
		"/metrics":                                   "/metrics",
		"/v1/audit/org/org_123":                      "/v1/audit/org/:org_id",
		"/v1/audit/org/org_123?limit=10":             "/v1/audit/org/:org_id",
		"/v1/inter-org-contracts/org/org_9":          "/v1/inter-org-contracts/org/:org_id",
		"/v1/inter-org-contracts/stats/org_9":        "/v1/inter-org-contracts/stats/:org_id",
		"/v1/inter-org-contracts/ctr_ABC/terminate":  "/v1/inter-org-contracts/:id/terminate",
		"/v1/data-requests/available-organizations/org_7": "/v1/data-requests/available-organizations/:org_id",
		"/v1/data-requests/approve-bulk-request/b-1":      "/v1/data-requests/approve-bulk-request/:bulk_id",
		"/v1/data-requests/bulk/b-1":                      "/v1/data-requests/bulk/:bulk_id",
		"/v1/data-requests/send-request":                  "/v1/data-requests/send-request",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
