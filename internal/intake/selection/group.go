// Package selection keeps a multi-option answer group in step with the
// reference list it is drawn from. The list and any stored answers may
// arrive in either order.
package selection

import (
	"errors"
	"fmt"

	"github.com/sidra/sidra/internal/intake/schema"
)

// ErrUnknownOption is returned when an answer names an id that the loaded
// reference list does not contain.
var ErrUnknownOption = errors.New("unknown option")

// Status is the load state of a group's reference list.
type Status string

const (
	Pending  Status = "pending"
	Ready    Status = "ready"
	Degraded Status = "degraded"
)

// Item is one entry of a reference list.
type Item struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

// Group holds the answers for one options field.
type Group struct {
	field  string
	source string
	other  string

	status  Status
	err     string
	items   []Item
	entries []schema.Option

	// restored keeps answers that came from a stored record or were
	// recorded by the user, keyed by option id, so a later list arrival
	// or refresh never loses them.
	restored map[int]*bool
	order    []int
}

// New returns an empty group waiting for its list.
func New(field, source, other string) *Group {
	return &Group{
		field:    field,
		source:   source,
		other:    other,
		status:   Pending,
		restored: make(map[int]*bool),
	}
}

func (g *Group) Field() string  { return g.field }
func (g *Group) Source() string { return g.source }

// OtherField is the free-text field paired with the "Other" option.
func (g *Group) OtherField() string { return g.other }

func (g *Group) Status() Status { return g.status }

// Ready reports whether the reference list has arrived.
func (g *Group) Ready() bool { return g.status == Ready }

// Err returns the last fetch failure, if the group is degraded.
func (g *Group) Err() string { return g.err }

// Items returns the reference list.
func (g *Group) Items() []Item { return append([]Item(nil), g.items...) }

// LoadList installs a freshly fetched list. Every option starts unanswered
// unless an answer for it was restored or recorded earlier.
func (g *Group) LoadList(items []Item) {
	prev := make(map[int]*bool, len(g.entries))
	for _, e := range g.entries {
		prev[e.ID] = e.Selected
	}

	g.items = append([]Item(nil), items...)
	g.entries = make([]schema.Option, 0, len(items))
	for _, it := range items {
		sel, ok := g.restored[it.ID]
		if !ok {
			sel = prev[it.ID]
		}
		g.entries = append(g.entries, schema.Option{ID: it.ID, Selected: copyBool(sel)})
	}
	g.status = Ready
	g.err = ""
}

// Fail records a fetch failure. The group is left with an empty list and
// stays incomplete until a later LoadList succeeds. Stored answers are kept.
func (g *Group) Fail(err error) {
	g.status = Degraded
	g.items = nil
	g.entries = nil
	if err != nil {
		g.err = err.Error()
	}
}

// Restore applies stored answers. Before the list arrives they are held
// and merged on arrival; after, they overwrite matching entries.
func (g *Group) Restore(stored []schema.Option) {
	for _, o := range stored {
		g.remember(o.ID, o.Selected)
		for i := range g.entries {
			if g.entries[i].ID == o.ID {
				g.entries[i].Selected = copyBool(o.Selected)
			}
		}
	}
}

// Record upserts one answer and reports whether it concerned the "Other"
// option, whose free-text field is now required or cleared. Once the list
// is loaded only its ids are accepted.
func (g *Group) Record(id int, selected bool) (bool, error) {
	idx := -1
	for i := range g.entries {
		if g.entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 && g.status == Ready {
		return false, fmt.Errorf("%w: %s has no option %d", ErrUnknownOption, g.field, id)
	}

	sel := selected
	g.remember(id, &sel)
	if idx >= 0 {
		g.entries[idx].Selected = copyBool(&sel)
	}
	return id == schema.OtherID, nil
}

// IsComplete reports whether every entry has been answered.
func (g *Group) IsComplete() bool {
	for _, e := range g.entries {
		if e.Selected == nil {
			return false
		}
	}
	return true
}

// OtherSelected reports whether the "Other" option is ticked.
func (g *Group) OtherSelected() bool {
	for _, e := range g.Value() {
		if e.ID == schema.OtherID && e.Selected != nil && *e.Selected {
			return true
		}
	}
	return false
}

// Value returns the answers as they should be evaluated and submitted.
// Until the list is available the restored answers stand in for it.
func (g *Group) Value() []schema.Option {
	if g.status == Ready {
		return cloneOptions(g.entries)
	}
	out := make([]schema.Option, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, schema.Option{ID: id, Selected: copyBool(g.restored[id])})
	}
	return out
}

func (g *Group) remember(id int, sel *bool) {
	if _, ok := g.restored[id]; !ok {
		g.order = append(g.order, id)
	}
	g.restored[id] = copyBool(sel)
}

// State is the serialisable form of a Group.
type State struct {
	Field    string          `json:"field"`
	Source   string          `json:"source"`
	Other    string          `json:"other,omitempty"`
	Status   Status          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Items    []Item          `json:"items"`
	Entries  []schema.Option `json:"entries"`
	Restored []schema.Option `json:"restored,omitempty"`
}

// State snapshots the group.
func (g *Group) State() State {
	st := State{
		Field:   g.field,
		Source:  g.source,
		Other:   g.other,
		Status:  g.status,
		Error:   g.err,
		Items:   g.Items(),
		Entries: cloneOptions(g.entries),
	}
	for _, id := range g.order {
		st.Restored = append(st.Restored, schema.Option{ID: id, Selected: copyBool(g.restored[id])})
	}
	return st
}

// FromState rebuilds a group from a snapshot.
func FromState(st State) *Group {
	g := New(st.Field, st.Source, st.Other)
	g.status = st.Status
	if g.status == "" {
		g.status = Pending
	}
	g.err = st.Error
	g.items = append([]Item(nil), st.Items...)
	g.entries = cloneOptions(st.Entries)
	for _, o := range st.Restored {
		g.remember(o.ID, o.Selected)
	}
	return g
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneOptions(in []schema.Option) []schema.Option {
	if in == nil {
		return nil
	}
	out := make([]schema.Option, len(in))
	for i, o := range in {
		out[i] = schema.Option{ID: o.ID, Selected: copyBool(o.Selected)}
	}
	return out
}
