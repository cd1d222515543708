package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Resolver computes authorization envelopes from the contract store. It is
// read-only and deterministic for a fixed contract set and clock.
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// ResolveAuthorization returns the union of everything requesterOrgID may
// request from targetOrgID right now. No matching contract yields an empty
// envelope, not an error; callers must treat empty as "nothing requestable".
func (r *Resolver) ResolveAuthorization(ctx context.Context, requesterOrgID, targetOrgID string) (AuthorizationEnvelope, error) {
	requesterOrgID = strings.TrimSpace(requesterOrgID)
	targetOrgID = strings.TrimSpace(targetOrgID)
	if requesterOrgID == "" || targetOrgID == "" {
		return AuthorizationEnvelope{}, fmt.Errorf("%w: both organization ids are required", ErrInvalidRequest)
	}
	if requesterOrgID == targetOrgID {
		return AuthorizationEnvelope{}, fmt.Errorf("%w: requester and target organization must differ", ErrInvalidRequest)
	}

	contracts, err := r.store.ListContractsBetween(ctx, requesterOrgID, targetOrgID)
	if err != nil {
		return AuthorizationEnvelope{}, err
	}

	now := r.now()
	env := AuthorizationEnvelope{
		RequesterOrgID: requesterOrgID,
		TargetOrgID:    targetOrgID,
		Resources:      map[string]EnvelopeGrant{},
		ResolvedAt:     now,
	}
	for _, c := range contracts {
		if !c.UsableAt(now) {
			continue
		}
		contributed := false
		for _, g := range c.Grants {
			if !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt) {
				continue
			}
			env.Resources[g.Resource] = mergeGrant(env.Resources[g.Resource], g)
			contributed = true
		}
		if contributed {
			env.ContractIDs = append(env.ContractIDs, c.ID)
		}
	}
	sort.Strings(env.ContractIDs)
	return env, nil
}

// mergeGrant unions purposes and keeps the longest retention window. The
// validator later caps requested retention at the minimum across the
// resources actually selected, so merging permissively here is safe.
func mergeGrant(existing EnvelopeGrant, g ResourceGrant) EnvelopeGrant {
	merged := EnvelopeGrant{
		Purposes:        normalizeSet(append(append([]string(nil), existing.Purposes...), g.Purposes...)),
		RetentionWindow: existing.RetentionWindow,
	}
	if merged.RetentionWindow == "" {
		merged.RetentionWindow = g.RetentionWindow
		return merged
	}
	current, errCur := ParseRetention(merged.RetentionWindow)
	candidate, errNew := ParseRetention(g.RetentionWindow)
	if errCur == nil && errNew == nil && candidate > current {
		merged.RetentionWindow = g.RetentionWindow
	}
	return merged
}

// AvailableOrganizations lists every counterparty with at least one usable
// contract granting data to orgID, each annotated with its envelope.
func (r *Resolver) AvailableOrganizations(ctx context.Context, orgID string) ([]CounterpartyAuthorization, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidRequest)
	}
	orgs, err := r.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	var out []CounterpartyAuthorization
	for _, org := range orgs {
		if org.ID == orgID {
			continue
		}
		env, err := r.ResolveAuthorization(ctx, orgID, org.ID)
		if err != nil {
			return nil, err
		}
		if env.IsEmpty() {
			continue
		}
		purposes := map[string]struct{}{}
		for _, g := range env.Resources {
			for _, p := range g.Purposes {
				purposes[p] = struct{}{}
			}
		}
		allowed := make([]string, 0, len(purposes))
		for p := range purposes {
			allowed = append(allowed, p)
		}
		sort.Strings(allowed)
		out = append(out, CounterpartyAuthorization{
			OrgID:            org.ID,
			OrgName:          org.Name,
			AllowedResources: env.Resources,
			AllowedPurposes:  allowed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgName < out[j].OrgName })
	return out, nil
}
