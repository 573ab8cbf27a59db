package wizard

import (
	"fmt"

	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
)

// SectionSnapshot is the serialisable state of one section.
type SectionSnapshot struct {
	Values  map[string]any             `json:"values"`
	Groups  map[string]selection.State `json:"groups,omitempty"`
	Touched bool                       `json:"touched,omitempty"`
}

// FormState is the serialisable state of a Form, keyed by section name.
type FormState map[string]SectionSnapshot

// State snapshots the form using wire encodings.
func (f *Form) State() FormState {
	st := make(FormState, len(f.sections))
	for _, s := range f.sections {
		snap := SectionSnapshot{
			Values:  make(map[string]any, len(s.values)),
			Touched: s.touched,
		}
		for name, v := range s.values {
			if fd, ok := s.def.Field(name); ok {
				snap.Values[name] = fd.Wire(v)
			}
		}
		if len(s.groups) > 0 {
			snap.Groups = make(map[string]selection.State, len(s.groups))
			for name, g := range s.groups {
				snap.Groups[name] = g.State()
			}
		}
		st[s.def.Name] = snap
	}
	return st
}

// RestoreForm rebuilds a form from a snapshot taken with State.
func RestoreForm(reg *schema.Registry, st FormState) (*Form, error) {
	f := NewForm(reg)
	for name, snap := range st {
		s, err := f.Section(name)
		if err != nil {
			return nil, err
		}
		for field, raw := range snap.Values {
			if err := s.assign(field, raw); err != nil {
				return nil, fmt.Errorf("restore %s.%s: %w", name, field, err)
			}
		}
		for field, gs := range snap.Groups {
			if _, ok := s.groups[field]; !ok {
				continue
			}
			s.groups[field] = selection.FromState(gs)
		}
		s.touched = snap.Touched
		s.reevaluate()
	}
	return f, nil
}
