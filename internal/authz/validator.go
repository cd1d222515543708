package authz

import (
	"fmt"
	"strings"
	"time"
)

// ValidateRequest checks a proposed selection against a resolved envelope.
// Every resource must be granted, every purpose must appear in the union of
// permitted purposes for the selected resources, and the requested retention
// may not exceed the tightest grant among them. On success it returns an
// immutable snapshot of the selection; the snapshot is what gets persisted,
// so later contract edits never retroactively change a request.
func ValidateRequest(env AuthorizationEnvelope, resources, purposes []string, retentionWindow string) (ValidatedRequest, error) {
	resources = normalizeSet(resources)
	purposes = normalizeSet(purposes)
	if len(resources) == 0 || len(purposes) == 0 {
		return ValidatedRequest{}, fmt.Errorf("%w: at least one resource and one purpose are required", ErrEmptySelection)
	}

	permitted := map[string]struct{}{}
	var minRetention time.Duration
	for _, res := range resources {
		grant, ok := env.Resources[res]
		if !ok {
			return ValidatedRequest{}, fmt.Errorf("%w: %q", ErrResourceNotAuthorized, res)
		}
		for _, p := range grant.Purposes {
			permitted[p] = struct{}{}
		}
		granted, err := ParseRetention(grant.RetentionWindow)
		if err != nil {
			return ValidatedRequest{}, err
		}
		if minRetention == 0 || granted < minRetention {
			minRetention = granted
		}
	}

	for _, p := range purposes {
		if _, ok := permitted[p]; !ok {
			return ValidatedRequest{}, fmt.Errorf("%w: %q", ErrPurposeNotAuthorized, p)
		}
	}

	// An omitted retention window defaults to the tightest grant.
	window := strings.TrimSpace(retentionWindow)
	if window == "" {
		window = FormatRetention(minRetention)
	} else {
		requested, err := ParseRetention(window)
		if err != nil {
			return ValidatedRequest{}, err
		}
		if requested > minRetention {
			return ValidatedRequest{}, fmt.Errorf("%w: %q exceeds the granted window", ErrRetentionExceeded, window)
		}
	}

	snapshot := ValidatedRequest{
		ContractIDs:     append([]string(nil), env.ContractIDs...),
		Resources:       resources,
		Purposes:        purposes,
		RetentionWindow: window,
		ValidatedAt:     env.ResolvedAt,
	}
	return snapshot.Clone(), nil
}
