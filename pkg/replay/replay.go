// Package replay rebuilds documents from the committed event log. Because
// event payloads are plain deltas, a document can be reconstructed on any
// backend by applying its events in sequence order.
package replay

import (
	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
)

// Events applies a captured event sequence to doc, in order.
func Events(doc document.Document, evs []event.Event) error {
	for _, ev := range evs {
		if err := doc.ApplyEvent(ev); err != nil {
			return errmodel.System("replay", "event replay failed", map[string]any{
				"event_id": ev.ID,
				"seq":      ev.Seq,
			}, err)
		}
	}
	return nil
}

// Document replays every committed event for doc's id from the store onto
// doc. AfterSeq restarts a partial replay from the last applied sequence.
func Document(store *eventstore.Store, doc document.Document, afterSeq int64) (lastSeq int64, err error) {
	evs := store.Query(eventstore.Query{DocumentID: doc.ID(), AfterSeq: afterSeq})
	if err := Events(doc, evs); err != nil {
		return afterSeq, err
	}
	if len(evs) == 0 {
		return afterSeq, nil
	}
	return evs[len(evs)-1].Seq, nil
}
