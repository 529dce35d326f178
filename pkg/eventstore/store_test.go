package eventstore

import (
	"sync"
	"testing"

	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
)

func ev(typ, doc, wf string) event.Event {
	e := event.New(typ)
	e.DocumentID = doc
	e.WorkflowID = wf
	return e
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := New()
	var last int64
	for i := 0; i < 5; i++ {
		stored, err := s.Append(ev("a", "doc-1", ""))
		if err != nil {
			t.Fatal(err)
		}
		if stored.Seq <= last {
			t.Fatalf("seq %d not increasing past %d", stored.Seq, last)
		}
		last = stored.Seq
	}
	if s.Version() != 5 || s.Len() != 5 {
		t.Fatalf("version=%d len=%d", s.Version(), s.Len())
	}
}

func TestBatchSeqsContiguousUnderConcurrency(t *testing.T) {
	s := New()
	const writers = 8
	const batchLen = 5

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]event.Event, batchLen)
			wf := "wf-" + string(rune('a'+w))
			for i := range batch {
				batch[i] = ev("step", "doc-1", wf)
			}
			if _, err := s.AppendBatch(batch); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()

	// Every workflow's events must hold contiguous sequence numbers.
	for w := 0; w < writers; w++ {
		wf := "wf-" + string(rune('a'+w))
		evs := s.Query(Query{WorkflowID: wf})
		if len(evs) != batchLen {
			t.Fatalf("workflow %s: %d events", wf, len(evs))
		}
		for i := 1; i < len(evs); i++ {
			if evs[i].Seq != evs[i-1].Seq+1 {
				t.Fatalf("workflow %s interleaved: %d then %d", wf, evs[i-1].Seq, evs[i].Seq)
			}
		}
	}
}

func TestQueryFiltersAndRestart(t *testing.T) {
	s := New()
	if _, err := s.AppendBatch([]event.Event{
		ev("a", "doc-1", "wf-1"),
		ev("b", "doc-2", "wf-1"),
		ev("c", "doc-1", ""),
	}); err != nil {
		t.Fatal(err)
	}

	if got := s.Query(Query{DocumentID: "doc-1"}); len(got) != 2 {
		t.Fatalf("doc-1 events=%d want 2", len(got))
	}
	if got := s.Query(Query{WorkflowID: "wf-1"}); len(got) != 2 {
		t.Fatalf("wf-1 events=%d want 2", len(got))
	}
	// Workflow + document narrows further.
	if got := s.Query(Query{WorkflowID: "wf-1", DocumentID: "doc-2"}); len(got) != 1 {
		t.Fatalf("narrowed events=%d want 1", len(got))
	}

	all := s.Query(Query{})
	if len(all) != 3 {
		t.Fatalf("all events=%d want 3", len(all))
	}
	rest := s.Query(Query{AfterSeq: all[0].Seq})
	if len(rest) != 2 || rest[0].Seq != all[1].Seq {
		t.Fatalf("restartable scan broken: %v", rest)
	}
}

func TestSubscribeDeliversBatchesAndUnsubscribes(t *testing.T) {
	s := New()
	var batches [][]event.Event
	unsub, err := s.Subscribe(func(e event.Event) bool { return e.DocumentID == "doc-1" }, func(b []event.Event) {
		batches = append(batches, b)
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendBatch([]event.Event{ev("a", "doc-1", "wf"), ev("b", "doc-2", "wf")}); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches=%v", batches)
	}

	// Non-matching commits are not delivered at all.
	if _, err := s.Append(ev("c", "doc-2", "")); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("unexpected delivery: %v", batches)
	}

	unsub()
	unsub() // releasing twice is safe
	if _, err := s.Append(ev("d", "doc-1", "")); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatal("delivery after unsubscribe")
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ev("a", "doc-1", "")); !errmodel.IsCode(err, errmodel.CodeClosed) {
		t.Fatalf("append err=%v want store/closed", err)
	}
	if _, err := s.Subscribe(nil, func([]event.Event) {}); !errmodel.IsCode(err, errmodel.CodeClosed) {
		t.Fatalf("subscribe err=%v want store/closed", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
