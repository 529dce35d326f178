// Package eventstore provides the ordered, append-only log of committed
// events. The store is the source of truth for what happened to a document
// and the subscription point for anything that reacts to commits. Durable
// persistence and retention of the log are external concerns.
package eventstore

import (
	"sync"

	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
)

// Predicate filters events for a subscriber.
type Predicate func(ev event.Event) bool

// Handler receives the matching events of one committed batch, in order.
// Handlers run synchronously on the committing goroutine.
type Handler func(batch []event.Event)

type subscription struct {
	pred    Predicate
	handler Handler
}

// Store is an in-memory, totally ordered event log. Appends of a batch happen
// inside one exclusive section, so two contexts' batches are never
// interleaved and each batch's sequence numbers are contiguous.
type Store struct {
	appendMu sync.Mutex // exclusive append section, held across notify

	mu         sync.RWMutex
	events     []event.Event
	nextSeq    int64
	byDoc      map[string][]int
	byWorkflow map[string][]int
	subs       map[int]subscription
	nextSub    int
	closed     bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		nextSeq:    1,
		byDoc:      map[string][]int{},
		byWorkflow: map[string][]int{},
		subs:       map[int]subscription{},
	}
}

// Append stores a single event. Equivalent to AppendBatch with one element.
func (s *Store) Append(ev event.Event) (event.Event, error) {
	stored, err := s.AppendBatch([]event.Event{ev})
	if err != nil {
		return event.Event{}, err
	}
	return stored[0], nil
}

// AppendBatch assigns contiguous sequence numbers to the batch, stores it and
// notifies subscribers. The whole batch succeeds or none of it does.
func (s *Store) AppendBatch(evs []event.Event) ([]event.Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errmodel.Store(errmodel.CodeClosed, "event store is closed", nil)
	}
	stored := make([]event.Event, len(evs))
	base := len(s.events)
	for i, ev := range evs {
		ev.Seq = s.nextSeq
		s.nextSeq++
		stored[i] = ev
		s.events = append(s.events, ev)
		idx := base + i
		if ev.DocumentID != "" {
			s.byDoc[ev.DocumentID] = append(s.byDoc[ev.DocumentID], idx)
		}
		if ev.WorkflowID != "" {
			s.byWorkflow[ev.WorkflowID] = append(s.byWorkflow[ev.WorkflowID], idx)
		}
	}
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	// Notify outside the state lock but inside the append section, so
	// subscribers observe whole batches in commit order.
	for _, sub := range subs {
		matching := stored
		if sub.pred != nil {
			matching = nil
			for _, ev := range stored {
				if sub.pred(ev) {
					matching = append(matching, ev)
				}
			}
		}
		if len(matching) > 0 {
			sub.handler(matching)
		}
	}
	return stored, nil
}

// Query selects committed events, ordered by sequence number.
type Query struct {
	DocumentID string
	WorkflowID string
	AfterSeq   int64
}

// Query returns a finite ordered slice of events matching q. Passing the last
// seen sequence as AfterSeq makes the scan restartable.
func (s *Store) Query(q Query) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var idxs []int
	switch {
	case q.WorkflowID != "":
		idxs = s.byWorkflow[q.WorkflowID]
	case q.DocumentID != "":
		idxs = s.byDoc[q.DocumentID]
	default:
		idxs = nil
	}

	var out []event.Event
	if idxs == nil && q.DocumentID == "" && q.WorkflowID == "" {
		for _, ev := range s.events {
			if ev.Seq > q.AfterSeq {
				out = append(out, ev)
			}
		}
		return out
	}
	for _, i := range idxs {
		ev := s.events[i]
		if q.DocumentID != "" && ev.DocumentID != q.DocumentID {
			continue
		}
		if ev.Seq > q.AfterSeq {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a handler for future commits. The returned func
// releases the subscription; releasing twice is safe. Close releases every
// remaining subscription.
func (s *Store) Subscribe(pred Predicate, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errmodel.Validation("handler", "subscription handler is nil", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errmodel.Store(errmodel.CodeClosed, "event store is closed", nil)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscription{pred: pred, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// Version returns the number of committed events, which doubles as the
// version counter: it increases by the batch size on every commit.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq - 1
}

// Len reports the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Closed reports whether the store has been torn down.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close tears the store down: later appends and subscribes fail with
// store/closed and all subscriptions are released. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = map[int]subscription{}
	return nil
}
