package event

import (
	"encoding/json"
	"testing"

	"github.com/wilhg/atelier/pkg/errmodel"
)

func TestInverseSwapsAndReverses(t *testing.T) {
	d1, err := SetProperty("obj-1", "adjustments.brightness", 0, 20)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := SetProperty("obj-1", "transform.rotation", 0, 45)
	if err != nil {
		t.Fatal(err)
	}
	ev := New("image.adjust", d1, d2)
	ev.DocumentID = "doc-1"
	ev.WorkflowID = "wf-1"

	inv, err := ev.Inverse()
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	if len(inv.Deltas) != 2 {
		t.Fatalf("deltas=%d want 2", len(inv.Deltas))
	}
	// Reverse order: rotation delta first.
	if inv.Deltas[0].Path != "transform.rotation" {
		t.Fatalf("first inverse delta path=%q", inv.Deltas[0].Path)
	}
	if string(inv.Deltas[0].Old) != "45" || string(inv.Deltas[0].New) != "0" {
		t.Fatalf("inverse delta values old=%s new=%s", inv.Deltas[0].Old, inv.Deltas[0].New)
	}
	if inv.DocumentID != "doc-1" || inv.WorkflowID != "wf-1" {
		t.Fatalf("inverse lost scoping: %#v", inv)
	}
	if inv.ID == ev.ID {
		t.Fatal("inverse must have its own id")
	}
}

func TestInverseOfIrreversible(t *testing.T) {
	ev := New("image.flatten").Irreversible()
	if _, err := ev.Inverse(); !errmodel.IsCode(err, errmodel.CodeIrreversible) {
		t.Fatalf("err=%v want history/irreversible", err)
	}
}

func TestCreateAndRemoveObjectDeltas(t *testing.T) {
	state := ObjectState{Type: "image", Props: json.RawMessage(`{"w":100}`)}
	create, err := CreateObject("obj-9", state)
	if err != nil {
		t.Fatal(err)
	}
	if create.Path != PathObject || create.Old != nil || create.New == nil {
		t.Fatalf("unexpected create delta: %#v", create)
	}
	remove, err := RemoveObject("obj-9", state)
	if err != nil {
		t.Fatal(err)
	}
	if remove.Path != PathObject || remove.New != nil || remove.Old == nil {
		t.Fatalf("unexpected remove delta: %#v", remove)
	}
	// A removal inverted is a creation of the prior state.
	invd := remove.Invert()
	if string(invd.New) != string(remove.Old) {
		t.Fatalf("inverted removal should recreate prior state")
	}
}

func TestSetPropertyRawPassthrough(t *testing.T) {
	d, err := SetProperty("o", "p", json.RawMessage(`"a"`), json.RawMessage(`"b"`))
	if err != nil {
		t.Fatal(err)
	}
	if string(d.Old) != `"a"` || string(d.New) != `"b"` {
		t.Fatalf("raw values not passed through: %#v", d)
	}
}
