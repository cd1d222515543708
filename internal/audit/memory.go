package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemory is an append-only trail store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty trail.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(e))
	return nil
}

func (s *InMemory) Query(ctx context.Context, orgID string, f Filter, p Page) ([]Entry, int, error) {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	s.mu.RLock()
	var matched []Entry
	for _, e := range s.entries {
		if !matchesOrg(e, orgID) || !matchesFilter(e, f) {
			continue
		}
		matched = append(matched, cloneEntry(e))
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return matched[p.Offset:end], total, nil
}

func matchesOrg(e Entry, orgID string) bool {
	if orgID == "" {
		return true
	}
	return e.ActorOrgID == orgID || e.CounterpartyOrgID == orgID
}

func matchesFilter(e Entry, f Filter) bool {
	if f.LogType != "" && e.LogType != f.LogType {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		haystacks := []string{
			e.ActorOrgName,
			e.CounterpartyOrgName,
			e.Resource,
			e.Purpose,
			e.IPAddress,
			e.Region,
		}
		found := false
		for _, h := range haystacks {
			if h != "" && strings.Contains(strings.ToLower(h), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneEntry(e Entry) Entry {
	out := e
	if len(e.Details) > 0 {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return out
}
