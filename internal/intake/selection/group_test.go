package selection

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sidra/sidra/internal/intake/schema"
)

func boolPtr(b bool) *bool { return &b }

func mustRecord(t *testing.T, g *Group, id int, selected bool) bool {
	t.Helper()
	other, err := g.Record(id, selected)
	if err != nil {
		t.Fatalf("record %d: %v", id, err)
	}
	return other
}

var entourage = []Item{
	{ID: 1, Label: "Père"},
	{ID: 2, Label: "Mère"},
	{ID: 3, Label: "Fratrie"},
	{ID: -1, Label: "Autre"},
}

func TestLoadList_InitialisesUnanswered(t *testing.T) {
	g := New("spaConsumptionEntourageUuidEntourages", "entourage-types", "otherSpaConsumptionEntourage")
	if g.Ready() {
		t.Fatal("new group should not be ready")
	}
	g.LoadList(entourage)

	want := []schema.Option{{ID: 1}, {ID: 2}, {ID: 3}, {ID: -1}}
	if diff := cmp.Diff(want, g.Value()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if g.IsComplete() {
		t.Error("unanswered group should be incomplete")
	}
}

func TestIsComplete(t *testing.T) {
	g := New("f", "s", "")
	g.LoadList(entourage[:2])
	mustRecord(t, g, 1, true)
	if g.IsComplete() {
		t.Error("expected incomplete with one nil entry")
	}
	mustRecord(t, g, 2, false)
	if !g.IsComplete() {
		t.Error("expected complete once every entry is boolean")
	}
}

func TestRestore_EitherOrder(t *testing.T) {
	stored := []schema.Option{
		{ID: 1, Selected: boolPtr(true)},
		{ID: 2, Selected: boolPtr(false)},
		{ID: 3, Selected: boolPtr(true)},
		{ID: -1, Selected: boolPtr(false)},
	}

	listFirst := New("f", "s", "o")
	listFirst.LoadList(entourage)
	listFirst.Restore(stored)

	recordFirst := New("f", "s", "o")
	recordFirst.Restore(stored)
	if diff := cmp.Diff(stored, recordFirst.Value()); diff != "" {
		t.Errorf("pending group should expose restored answers (-want +got):\n%s", diff)
	}
	recordFirst.LoadList(entourage)

	for name, g := range map[string]*Group{"list first": listFirst, "record first": recordFirst} {
		if diff := cmp.Diff(stored, g.Value()); diff != "" {
			t.Errorf("%s: entries mismatch (-want +got):\n%s", name, diff)
		}
		if !g.IsComplete() {
			t.Errorf("%s: expected complete", name)
		}
	}
}

func TestRecord_Other(t *testing.T) {
	g := New("f", "s", "otherF")
	g.LoadList(entourage)
	if mustRecord(t, g, 2, true) {
		t.Error("recording option 2 should not concern Other")
	}
	if !mustRecord(t, g, schema.OtherID, true) {
		t.Error("recording -1 should concern Other")
	}
	if !g.OtherSelected() {
		t.Error("expected Other selected")
	}
	mustRecord(t, g, schema.OtherID, false)
	if g.OtherSelected() {
		t.Error("expected Other deselected")
	}
}

func TestFail_Degraded(t *testing.T) {
	g := New("f", "s", "")
	g.Restore([]schema.Option{{ID: 2, Selected: boolPtr(true)}})
	g.Fail(errors.New("connection refused"))

	if g.Status() != Degraded || g.Err() != "connection refused" {
		t.Fatalf("unexpected state %s %q", g.Status(), g.Err())
	}
	if len(g.Items()) != 0 {
		t.Error("degraded group should have an empty list")
	}

	g.LoadList(entourage)
	if !g.Ready() {
		t.Fatal("retry should make the group ready")
	}
	want := []schema.Option{{ID: 1}, {ID: 2, Selected: boolPtr(true)}, {ID: 3}, {ID: -1}}
	if diff := cmp.Diff(want, g.Value()); diff != "" {
		t.Errorf("retry lost stored answers (-want +got):\n%s", diff)
	}
}

func TestLoadList_RefreshKeepsAnswers(t *testing.T) {
	g := New("f", "s", "")
	g.LoadList(entourage[:2])
	mustRecord(t, g, 1, false)
	g.LoadList(entourage)
	want := []schema.Option{{ID: 1, Selected: boolPtr(false)}, {ID: 2}, {ID: 3}, {ID: -1}}
	if diff := cmp.Diff(want, g.Value()); diff != "" {
		t.Errorf("refresh mismatch (-want +got):\n%s", diff)
	}
}

func TestState_RoundTrip(t *testing.T) {
	g := New("f", "s", "o")
	g.Restore([]schema.Option{{ID: 3, Selected: boolPtr(true)}})
	g.LoadList(entourage)
	mustRecord(t, g, 1, false)

	back := FromState(g.State())
	if diff := cmp.Diff(g.Value(), back.Value()); diff != "" {
		t.Errorf("state round trip mismatch (-want +got):\n%s", diff)
	}
	if back.OtherField() != "o" || back.Source() != "s" || !back.Ready() {
		t.Errorf("unexpected rebuilt group %+v", back.State())
	}
}

func TestRecord_UnknownOptionRejectedOnceLoaded(t *testing.T) {
	g := New("f", "s", "")
	g.LoadList(entourage)
	if _, err := g.Record(999, true); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("expected ErrUnknownOption, got %v", err)
	}
	for _, e := range g.Value() {
		if e.ID == 999 {
			t.Fatal("unknown id must not be added to the entries")
		}
	}
	if g.IsComplete() {
		t.Error("rejected answer should not complete the group")
	}
}

func TestRecord_PendingHoldsAnswerUntilListArrives(t *testing.T) {
	g := New("f", "s", "")
	mustRecord(t, g, 2, true)
	mustRecord(t, g, 999, true)
	g.LoadList(entourage)

	want := []schema.Option{{ID: 1}, {ID: 2, Selected: boolPtr(true)}, {ID: 3}, {ID: -1}}
	if diff := cmp.Diff(want, g.Value()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}
