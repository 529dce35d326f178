package history

import (
	"context"
	"testing"
	"time"

	"github.com/wilhg/atelier/pkg/document/memdoc"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
	"github.com/wilhg/atelier/pkg/execution"
)

// fakeClock advances only when told, making merge windows deterministic.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func historyFixture(t *testing.T) (*memdoc.Doc, *eventstore.Store, *Manager, *fakeClock) {
	t.Helper()
	d := memdoc.New("doc-1")
	if _, err := d.AddObject("img-1", "image", map[string]any{
		"adjustments": map[string]any{"brightness": 0},
		"transform":   map[string]any{"rotation": 0},
	}); err != nil {
		t.Fatal(err)
	}
	d.SetSelection([]string{"img-1"})
	s := eventstore.New()
	t.Cleanup(func() { _ = s.Close() })
	clock := newFakeClock()
	m, err := NewManager(d, s, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return d, s, m, clock
}

func get(t *testing.T, d *memdoc.Doc, id, path string) string {
	t.Helper()
	obj, ok := d.GetObject(id)
	if !ok {
		t.Fatalf("object %s missing", id)
	}
	v, _ := obj.Get(path)
	return string(v)
}

func commitWorkflow(t *testing.T, d *memdoc.Doc, s *eventstore.Store, deltas ...event.Delta) {
	t.Helper()
	ec, err := execution.New(d, s, event.ActorAI, execution.Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, delta := range deltas {
		if err := ec.Emit(event.New("image.edit", delta)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ec.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestWorkflowBatchIsOneUndoStep(t *testing.T) {
	d, s, m, _ := historyFixture(t)
	b, err := event.SetProperty("img-1", "adjustments.brightness", 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	r, err := event.SetProperty("img-1", "transform.rotation", 0, 45)
	if err != nil {
		t.Fatal(err)
	}
	commitWorkflow(t, d, s, b, r)

	if m.UndoCount() != 1 {
		t.Fatalf("undo entries=%d want 1 (whole workflow)", m.UndoCount())
	}

	// One undo reverts every object the workflow mutated.
	if err := m.Undo(); err != nil {
		t.Fatal(err)
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "0" {
		t.Fatalf("brightness=%s want 0", got)
	}
	if got := get(t, d, "img-1", "transform.rotation"); got != "0" {
		t.Fatalf("rotation=%s want 0", got)
	}

	// Redo restores post-workflow values in original order.
	if err := m.Redo(); err != nil {
		t.Fatal(err)
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "20" {
		t.Fatalf("brightness=%s want 20 after redo", got)
	}
	if got := get(t, d, "img-1", "transform.rotation"); got != "45" {
		t.Fatalf("rotation=%s want 45 after redo", got)
	}
}

func TestSeparateCommitsAreSeparateEntries(t *testing.T) {
	d, s, m, _ := historyFixture(t)
	b1, _ := event.SetProperty("img-1", "adjustments.brightness", 0, 20)
	commitWorkflow(t, d, s, b1)
	b2, _ := event.SetProperty("img-1", "adjustments.brightness", 20, 40)
	commitWorkflow(t, d, s, b2)

	if m.UndoCount() != 2 {
		t.Fatalf("entries=%d want 2", m.UndoCount())
	}
	if err := m.Undo(); err != nil {
		t.Fatal(err)
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "20" {
		t.Fatalf("brightness=%s want 20 after first undo", got)
	}
}

func TestNewEntryClearsRedo(t *testing.T) {
	d, s, m, _ := historyFixture(t)
	b1, _ := event.SetProperty("img-1", "adjustments.brightness", 0, 20)
	commitWorkflow(t, d, s, b1)
	if err := m.Undo(); err != nil {
		t.Fatal(err)
	}
	if !m.CanRedo() {
		t.Fatal("redo should be available")
	}
	b2, _ := event.SetProperty("img-1", "transform.rotation", 0, 90)
	commitWorkflow(t, d, s, b2)
	if m.CanRedo() {
		t.Fatal("redo stack must clear on new entry")
	}
}

func TestUndoRedoEmpty(t *testing.T) {
	_, _, m, _ := historyFixture(t)
	if err := m.Undo(); !errmodel.IsCode(err, errmodel.CodeNothingToUndo) {
		t.Fatalf("err=%v want history/nothing_to_undo", err)
	}
	if err := m.Redo(); !errmodel.IsCode(err, errmodel.CodeNothingToRedo) {
		t.Fatalf("err=%v want history/nothing_to_redo", err)
	}
}

func TestIrreversibleEntryBlocksUndo(t *testing.T) {
	d, s, m, _ := historyFixture(t)
	ec, err := execution.New(d, s, event.ActorUser, execution.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ec.Emit(event.New("image.flatten").Irreversible()); err != nil {
		t.Fatal(err)
	}
	if _, err := ec.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Undo(); !errmodel.IsCode(err, errmodel.CodeIrreversible) {
		t.Fatalf("err=%v want history/irreversible", err)
	}
	// The entry stays put; no mutation happened.
	if m.UndoCount() != 1 {
		t.Fatalf("entries=%d want 1", m.UndoCount())
	}
}

func TestCommandMergeInsideWindow(t *testing.T) {
	d, _, m, clock := historyFixture(t)

	c1, err := NewSetProperty("img-1", "adjustments.brightness", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Execute(c1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(100 * time.Millisecond)
	c2, err := NewSetProperty("img-1", "adjustments.brightness", 10, 25)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Execute(c2); err != nil {
		t.Fatal(err)
	}

	// 100ms apart on the same target: one merged entry.
	if m.UndoCount() != 1 {
		t.Fatalf("entries=%d want 1 (merged)", m.UndoCount())
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "25" {
		t.Fatalf("brightness=%s want 25", got)
	}
	// A single undo reverts directly to the value before the first command.
	if err := m.Undo(); err != nil {
		t.Fatal(err)
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "0" {
		t.Fatalf("brightness=%s want 0 after merged undo", got)
	}
	// And redo lands on the final value again.
	if err := m.Redo(); err != nil {
		t.Fatal(err)
	}
	if got := get(t, d, "img-1", "adjustments.brightness"); got != "25" {
		t.Fatalf("brightness=%s want 25 after redo", got)
	}
}

func TestCommandMergeOutsideWindow(t *testing.T) {
	_, _, m, clock := historyFixture(t)
	c1, _ := NewSetProperty("img-1", "adjustments.brightness", 0, 10)
	if err := m.Execute(c1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultMergeWindow + time.Millisecond)
	c2, _ := NewSetProperty("img-1", "adjustments.brightness", 10, 25)
	if err := m.Execute(c2); err != nil {
		t.Fatal(err)
	}
	if m.UndoCount() != 2 {
		t.Fatalf("entries=%d want 2 (no merge)", m.UndoCount())
	}
}

func TestCommandsOnDifferentTargetsDoNotMerge(t *testing.T) {
	_, _, m, clock := historyFixture(t)
	c1, _ := NewSetProperty("img-1", "adjustments.brightness", 0, 10)
	if err := m.Execute(c1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(50 * time.Millisecond)
	c2, _ := NewSetProperty("img-1", "transform.rotation", 0, 15)
	if err := m.Execute(c2); err != nil {
		t.Fatal(err)
	}
	if m.UndoCount() != 2 {
		t.Fatalf("entries=%d want 2", m.UndoCount())
	}
}

func TestMaxEntriesDropsOldest(t *testing.T) {
	d, s, _, _ := historyFixture(t)
	m2, err := NewManager(d, s, WithMaxEntries(2))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m2.Close)

	vals := []int{0, 1, 2, 3}
	for i := 1; i < len(vals); i++ {
		delta, _ := event.SetProperty("img-1", "adjustments.brightness", vals[i-1], vals[i])
		commitWorkflow(t, d, s, delta)
	}
	if m2.UndoCount() != 2 {
		t.Fatalf("entries=%d want 2 (bounded)", m2.UndoCount())
	}
	info, ok := m2.PeekUndo()
	if !ok || !info.Reversible {
		t.Fatalf("peek: %+v ok=%v", info, ok)
	}
}
