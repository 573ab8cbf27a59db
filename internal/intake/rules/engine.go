// Package rules evaluates the conditional rule table of a section against its
// current values. Evaluation is a pure function of the inputs: the same
// values always produce the same live and required field sets.
package rules

import (
	"sort"

	"github.com/sidra/sidra/internal/intake/schema"
)

// Outcome is the result of evaluating a section's rules.
type Outcome struct {
	// Live holds every field that is currently shown.
	Live map[string]bool
	// Required holds every live field that must be answered.
	Required map[string]bool
	// Stale lists conditional fields that still hold a value although no
	// rule demands them any more, in section order.
	Stale []string
}

// IsLive reports whether the field is shown.
func (o Outcome) IsLive(name string) bool { return o.Live[name] }

// IsRequired reports whether the field must be answered.
func (o Outcome) IsRequired(name string) bool { return o.Required[name] }

// RequiredFields returns the required set sorted by name.
func (o Outcome) RequiredFields() []string {
	out := make([]string, 0, len(o.Required))
	for name := range o.Required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Evaluate computes the live and required sets for sec. A rule only fires
// while its trigger is itself live, so cascades settle in a fixpoint: when
// a first-level trigger turns off, every field below it drops out as well.
func Evaluate(sec *schema.Section, values map[string]any) Outcome {
	out := Outcome{
		Live:     make(map[string]bool, len(sec.Fields)),
		Required: make(map[string]bool, len(sec.Fields)),
	}
	for _, f := range sec.Fields {
		if sec.Conditional(f.Name) {
			continue
		}
		out.Live[f.Name] = true
		if f.Required {
			out.Required[f.Name] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, r := range sec.Rules {
			if !out.Live[r.When.Field] || !Holds(r.When, values[r.When.Field]) {
				continue
			}
			for _, dep := range r.Require {
				if _, ok := sec.Field(dep); !ok {
					continue
				}
				if !out.Live[dep] {
					out.Live[dep] = true
					changed = true
				}
				out.Required[dep] = true
			}
		}
	}

	for _, f := range sec.Fields {
		if out.Live[f.Name] {
			continue
		}
		if !schema.IsEmpty(values[f.Name]) {
			out.Stale = append(out.Stale, f.Name)
		}
	}
	return out
}

// Apply evaluates sec and deletes stale values from values in place, so
// hidden answers are never submitted. The returned Stale lists the fields
// that were cleared. Applying twice yields the same state.
func Apply(sec *schema.Section, values map[string]any) Outcome {
	out := Evaluate(sec, values)
	for _, name := range out.Stale {
		delete(values, name)
	}
	return out
}

// Holds tests a condition against a normalised value.
func Holds(c schema.Condition, v any) bool {
	switch c.Op {
	case schema.OpYes:
		t, _ := v.(schema.Tri)
		return t == schema.Yes
	case schema.OpPresent:
		return !schema.IsEmpty(v)
	case schema.OpEquals:
		n, ok := v.(int)
		return ok && n == c.Value
	case schema.OpIn:
		n, ok := v.(int)
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if n == want {
				return true
			}
		}
	case schema.OpSelected:
		opts, _ := v.([]schema.Option)
		for _, o := range opts {
			if o.ID == c.Value && o.Selected != nil && *o.Selected {
				return true
			}
		}
	}
	return false
}
