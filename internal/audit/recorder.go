package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pedolone.org/internal/ids"
	"pedolone.org/internal/obs"
)

// RegionFunc maps a client IP to a coarse region label for audit entries.
type RegionFunc func(ip string) string

// Recorder builds and appends audit entries. Every recorded entry is also
// emitted as a structured JSON log line so the trail is visible in the
// service's log stream.
type Recorder struct {
	store  Store
	region RegionFunc
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRegionFunc enables IP-to-region enrichment of appended entries.
func WithRegionFunc(fn RegionFunc) RecorderOption {
	return func(r *Recorder) { r.region = fn }
}

// WithClock overrides the recorder clock. Intended for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder writing to the given store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	r := &Recorder{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record stamps and appends an entry, enriched with request context.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(string(e.LogType)) == "" {
		return errors.New("audit: log type is required")
	}
	if strings.TrimSpace(e.ActorOrgID) == "" {
		return errors.New("audit: actor organization is required")
	}
	e.ID = ids.NewAudit()
	e.CreatedAt = r.now()
	if e.IPAddress == "" {
		e.IPAddress = clientIPFromContext(ctx)
	}
	if e.Region == "" && r.region != nil && e.IPAddress != "" {
		e.Region = r.region(e.IPAddress)
	}

	if err := r.store.Append(ctx, e); err != nil {
		return err
	}
	obs.CountAuditEntry(string(e.LogType))
	r.emit(ctx, e)
	return nil
}

// Query exposes read access to the trail.
func (r *Recorder) Query(ctx context.Context, orgID string, f Filter, p Page) ([]Entry, int, error) {
	return r.store.Query(ctx, orgID, f, p)
}

func (r *Recorder) emit(ctx context.Context, e Entry) {
	line := map[string]any{
		"ts":    e.CreatedAt.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": string(e.LogType),
		"id":    e.ID,
		"actor": e.ActorOrgID,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	if e.CounterpartyOrgID != "" {
		line["counterparty"] = e.CounterpartyOrgID
	}
	if len(e.Details) > 0 {
		line["fields"] = e.Details
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
