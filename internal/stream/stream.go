package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published by the authorization engine.
const (
	EventContractCreated   = "contract_created"
	EventContractResponded = "contract_responded"
	EventRequestSent       = "data_request_sent"
	EventRequestResponded  = "data_request_responded"
	EventBulkGroupCreated  = "bulk_group_created"
	EventBulkGroupResolved = "bulk_group_resolved"
)

// Event notifies dashboard clients about a state transition. The payload is
// intentionally shallow; clients re-query for detail.
type Event struct {
	Kind           string         `json:"kind"`
	ActorOrgID     string         `json:"actor_org_id"`
	RecipientOrgID string         `json:"recipient_org_id,omitempty"`
	SubjectID      string         `json:"subject_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Stream fans out events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans out the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
