// Package history builds undo/redo stacks from committed event batches.
// The manager subscribes to the event store: every committed batch becomes
// one history entry, so a whole multi-tool workflow undoes atomically with a
// single step. Direct-manipulation commands join the same stacks and merge
// within a time window.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
)

// DefaultMergeWindow bounds command merging: consecutive mergeable commands
// closer together than this collapse into one entry.
const DefaultMergeWindow = 500 * time.Millisecond

const defaultMaxEntries = 1000

// Entry is one undo/redo unit: a committed event batch or a single command.
type Entry struct {
	id        string
	events    []event.Event
	cmd       Command
	workflow  string
	timestamp time.Time
}

// Description returns a human-readable label for the entry.
func (e *Entry) Description() string {
	if e.cmd != nil {
		return e.cmd.Describe()
	}
	if len(e.events) == 1 {
		return e.events[0].Type
	}
	return e.workflow
}

// Reversible reports whether every event in the entry has an inverse.
func (e *Entry) Reversible() bool {
	for _, ev := range e.events {
		if !ev.Reversible {
			return false
		}
	}
	return true
}

// Timestamp returns when the entry was recorded.
func (e *Entry) Timestamp() time.Time { return e.timestamp }

// EntryInfo is a read-only view of an entry for history UIs.
type EntryInfo struct {
	Description string
	Timestamp   time.Time
	Reversible  bool
}

// Manager owns the undo/redo stacks for one document.
type Manager struct {
	mu sync.Mutex

	doc   document.Document
	undo  []*Entry
	redo  []*Entry
	unsub func()

	// Configuration
	maxEntries  int
	mergeWindow time.Duration
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects the time source used for entry timestamps and merge
// decisions, making merge timing deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMergeWindow overrides the command merge window.
func WithMergeWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.mergeWindow = d
		}
	}
}

// WithMaxEntries bounds the undo stack; oldest entries are dropped.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// NewManager creates a manager for doc and subscribes it to the store's
// commits. Close releases the subscription.
func NewManager(doc document.Document, store *eventstore.Store, opts ...Option) (*Manager, error) {
	if doc == nil {
		return nil, errmodel.Validation("document", "document is nil", nil)
	}
	m := &Manager{
		doc:         doc,
		maxEntries:  defaultMaxEntries,
		mergeWindow: DefaultMergeWindow,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if store != nil {
		docID := doc.ID()
		unsub, err := store.Subscribe(
			func(ev event.Event) bool { return ev.DocumentID == docID },
			m.recordBatch,
		)
		if err != nil {
			return nil, err
		}
		m.unsub = unsub
	}
	return m, nil
}

// Close releases the store subscription. Idempotent.
func (m *Manager) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// recordBatch turns one committed batch into one history entry.
func (m *Manager) recordBatch(batch []event.Event) {
	if len(batch) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushLocked(&Entry{
		id:        uuid.NewString(),
		events:    batch,
		workflow:  batch[0].WorkflowID,
		timestamp: m.now(),
	})
}

// Execute runs a command forward and records it, merging with the previous
// entry when the command allows it and both fall inside the merge window.
func (m *Manager) Execute(cmd Command) error {
	if cmd == nil {
		return errmodel.Validation("command", "command is nil", nil)
	}
	if err := cmd.Do(m.doc); err != nil {
		return err
	}
	m.Push(cmd)
	return nil
}

// Push records an already-applied command.
func (m *Manager) Push(cmd Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last := m.lastEntryLocked(); last != nil && last.cmd != nil && now.Sub(last.timestamp) <= m.mergeWindow {
		if merged, ok := last.cmd.Merge(cmd); ok {
			last.cmd = merged
			last.timestamp = now
			m.redo = nil
			return
		}
	}
	m.pushLocked(&Entry{id: uuid.NewString(), cmd: cmd, timestamp: now})
}

func (m *Manager) lastEntryLocked() *Entry {
	if len(m.undo) == 0 {
		return nil
	}
	return m.undo[len(m.undo)-1]
}

// pushLocked appends an entry, clears redo and enforces the depth bound.
func (m *Manager) pushLocked(e *Entry) {
	m.undo = append(m.undo, e)
	m.redo = nil
	if len(m.undo) > m.maxEntries {
		excess := len(m.undo) - m.maxEntries
		m.undo = m.undo[excess:]
	}
}

// Undo reverts the newest entry: events' inverses in reverse order, or the
// command's Undo. The entry moves to the redo stack. The lock is released
// during document mutation to avoid holding it across long operations.
func (m *Manager) Undo() error {
	m.mu.Lock()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return errmodel.History(errmodel.CodeNothingToUndo, "undo stack is empty", nil)
	}
	entry := m.undo[len(m.undo)-1]
	if !entry.Reversible() {
		m.mu.Unlock()
		return errmodel.History(errmodel.CodeIrreversible, "entry contains an irreversible event", map[string]any{
			"entry": entry.Description(),
		})
	}
	m.undo = m.undo[:len(m.undo)-1]
	m.mu.Unlock()

	if err := m.revert(entry); err != nil {
		m.mu.Lock()
		m.undo = append(m.undo, entry)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.redo = append(m.redo, entry)
	m.mu.Unlock()
	return nil
}

// Redo reapplies the newest undone entry forward, in original order.
func (m *Manager) Redo() error {
	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return errmodel.History(errmodel.CodeNothingToRedo, "redo stack is empty", nil)
	}
	entry := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	if err := m.reapply(entry); err != nil {
		m.mu.Lock()
		m.redo = append(m.redo, entry)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.undo = append(m.undo, entry)
	m.mu.Unlock()
	return nil
}

func (m *Manager) revert(e *Entry) error {
	if e.cmd != nil {
		return e.cmd.Undo(m.doc)
	}
	for i := len(e.events) - 1; i >= 0; i-- {
		if err := m.doc.ApplyInverse(e.events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) reapply(e *Entry) error {
	if e.cmd != nil {
		return e.cmd.Do(m.doc)
	}
	for _, ev := range e.events {
		if err := m.doc.ApplyEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// CanUndo returns true if undo is available.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo returns true if redo is available.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// UndoCount returns the number of undo entries.
func (m *Manager) UndoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo)
}

// RedoCount returns the number of redo entries.
func (m *Manager) RedoCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo)
}

// PeekUndo describes the next undo entry without removing it.
func (m *Manager) PeekUndo() (EntryInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return EntryInfo{}, false
	}
	e := m.undo[len(m.undo)-1]
	return EntryInfo{Description: e.Description(), Timestamp: e.timestamp, Reversible: e.Reversible()}, true
}

// PeekRedo describes the next redo entry without removing it.
func (m *Manager) PeekRedo() (EntryInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return EntryInfo{}, false
	}
	e := m.redo[len(m.redo)-1]
	return EntryInfo{Description: e.Description(), Timestamp: e.timestamp, Reversible: e.Reversible()}, true
}

// Clear drops all undo/redo state.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = nil
	m.redo = nil
}
