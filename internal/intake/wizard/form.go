package wizard

import (
	"errors"
	"fmt"

	"github.com/sidra/sidra/internal/intake/rules"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrUnknownField   = errors.New("unknown field")
	ErrNotOptions     = errors.New("field is not an options group")
)

// FieldError is a validation failure on one field.
type FieldError struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Label   string `json:"label"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Section, e.Field, e.Message)
}

// InputError reports values that could not be read at all, as opposed to
// values that were read but fail validation.
type InputError struct {
	Fields []FieldError
}

func (e *InputError) Error() string {
	if len(e.Fields) == 1 {
		return e.Fields[0].Error()
	}
	return fmt.Sprintf("%d invalid values", len(e.Fields))
}

// SectionState is the live state of one section.
type SectionState struct {
	def     *schema.Section
	values  map[string]any
	groups  map[string]*selection.Group
	touched bool
	outcome rules.Outcome
}

// Form is the in-memory form tree: one SectionState per registry section.
// It is not safe for concurrent use.
type Form struct {
	reg      *schema.Registry
	sections []*SectionState
	byName   map[string]*SectionState
}

// NewForm builds an empty form for reg.
func NewForm(reg *schema.Registry) *Form {
	f := &Form{reg: reg, byName: make(map[string]*SectionState)}
	for _, def := range reg.Sections() {
		s := &SectionState{
			def:    def,
			values: make(map[string]any),
			groups: make(map[string]*selection.Group),
		}
		for _, fd := range def.Fields {
			if fd.Kind == schema.KindOptions {
				s.groups[fd.Name] = selection.New(fd.Name, fd.Source, fd.Other)
			}
		}
		s.reevaluate()
		f.sections = append(f.sections, s)
		f.byName[def.Name] = s
	}
	return f
}

// Sections returns the section states in step order.
func (f *Form) Sections() []*SectionState { return f.sections }

// Section looks a section up by name.
func (f *Form) Section(name string) (*SectionState, error) {
	s, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, name)
	}
	return s, nil
}

// Set assigns one wire value and re-evaluates the section's rules.
func (f *Form) Set(section, field string, raw any) error {
	return f.SetMany(section, map[string]any{field: raw})
}

// SetMany assigns several wire values at once. An unknown field name
// rejects the whole call before anything is assigned. Values that cannot
// be read are reported in an *InputError; the others are still applied.
func (f *Form) SetMany(section string, values map[string]any) error {
	s, err := f.Section(section)
	if err != nil {
		return err
	}
	for name := range values {
		if _, ok := s.def.Field(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, section, name)
		}
	}
	var bad []FieldError
	for name, raw := range values {
		if err := s.assign(name, raw); err != nil {
			bad = append(bad, FieldError{Section: section, Field: name, Label: s.label(name), Message: err.Error()})
		}
	}
	s.reevaluate()
	if len(bad) > 0 {
		return &InputError{Fields: bad}
	}
	return nil
}

// Select records one option answer of a group.
func (f *Form) Select(section, field string, optionID int, selected bool) error {
	s, err := f.Section(section)
	if err != nil {
		return err
	}
	g, ok := s.groups[field]
	if !ok {
		if _, exists := s.def.Field(field); exists {
			return fmt.Errorf("%w: %s", ErrNotOptions, field)
		}
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, section, field)
	}
	if _, err := g.Record(optionID, selected); err != nil {
		return err
	}
	s.reevaluate()
	return nil
}

// Group returns the options group for field in section.
func (f *Form) Group(section, field string) (*selection.Group, bool) {
	s, ok := f.byName[section]
	if !ok {
		return nil, false
	}
	g, ok := s.groups[field]
	return g, ok
}

// LoadSection replaces a section's values with a stored payload, as when a
// record is opened for editing. Unknown keys are ignored; unreadable values
// are skipped and reported.
func (f *Form) LoadSection(section string, wire map[string]any) error {
	s, err := f.Section(section)
	if err != nil {
		return err
	}
	s.values = make(map[string]any)
	var bad []FieldError
	for name, raw := range wire {
		if _, ok := s.def.Field(name); !ok {
			continue
		}
		if err := s.assign(name, raw); err != nil {
			bad = append(bad, FieldError{Section: section, Field: name, Label: s.label(name), Message: err.Error()})
		}
	}
	s.reevaluate()
	if len(bad) > 0 {
		return &InputError{Fields: bad}
	}
	return nil
}

func (s *SectionState) assign(name string, raw any) error {
	fd, ok := s.def.Field(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.def.Name, name)
	}
	v, err := fd.Normalize(raw)
	if err != nil {
		return err
	}
	if fd.Kind == schema.KindOptions {
		opts, _ := v.([]schema.Option)
		s.groups[name].Restore(opts)
		return nil
	}
	if v == nil {
		delete(s.values, name)
		return nil
	}
	s.values[name] = v
	return nil
}

// snapshot merges plain values with the answered option groups, which is
// the view the rule engine evaluates.
func (s *SectionState) snapshot() map[string]any {
	out := make(map[string]any, len(s.values)+len(s.groups))
	for k, v := range s.values {
		out[k] = v
	}
	for name, g := range s.groups {
		if v := g.Value(); answered(v) {
			out[name] = v
		}
	}
	return out
}

func answered(opts []schema.Option) bool {
	for _, o := range opts {
		if o.Selected != nil {
			return true
		}
	}
	return false
}

func (s *SectionState) reevaluate() {
	snap := s.snapshot()
	s.outcome = rules.Apply(s.def, snap)
	for _, name := range s.outcome.Stale {
		if g, ok := s.groups[name]; ok {
			s.groups[name] = resetGroup(g)
			continue
		}
		delete(s.values, name)
	}
}

// refresh re-runs the rules of every section, as after lists arrive.
func (f *Form) refresh() {
	for _, s := range f.sections {
		s.reevaluate()
	}
}

func resetGroup(g *selection.Group) *selection.Group {
	fresh := selection.New(g.Field(), g.Source(), g.OtherField())
	if g.Ready() {
		fresh.LoadList(g.Items())
	}
	return fresh
}

func (s *SectionState) label(name string) string {
	if fd, ok := s.def.Field(name); ok && fd.Label != "" {
		return fd.Label
	}
	return name
}

// Name returns the section name.
func (s *SectionState) Name() string { return s.def.Name }

// Def returns the section definition.
func (s *SectionState) Def() *schema.Section { return s.def }

// Outcome returns the latest rule evaluation.
func (s *SectionState) Outcome() rules.Outcome { return s.outcome }

// Value returns the normalised value of a plain field.
func (s *SectionState) Value(name string) any { return s.values[name] }

// Groups returns the options groups keyed by field name.
func (s *SectionState) Groups() map[string]*selection.Group { return s.groups }

// Touch marks every control of the section as touched.
func (s *SectionState) Touch() { s.touched = true }

// Touched reports whether the section has been validated for display.
func (s *SectionState) Touched() bool { return s.touched }

// Validate returns every failure in field order. A section is valid iff
// every required field holds a value satisfying its rule.
func (s *SectionState) Validate() []FieldError {
	var errs []FieldError
	add := func(fd *schema.Field, msg string) {
		errs = append(errs, FieldError{Section: s.def.Name, Field: fd.Name, Label: s.label(fd.Name), Message: msg})
	}
	for _, fd := range s.def.Fields {
		if !s.outcome.IsLive(fd.Name) {
			continue
		}
		required := s.outcome.IsRequired(fd.Name)
		if fd.Kind == schema.KindOptions {
			if !required {
				continue
			}
			g := s.groups[fd.Name]
			switch {
			case g.Status() == selection.Degraded:
				add(fd, "liste indisponible, réessayez")
			case !g.Ready():
				add(fd, "liste en cours de chargement")
			case !g.IsComplete():
				add(fd, "veuillez répondre à chaque option")
			}
			continue
		}
		v := s.values[fd.Name]
		if schema.IsEmpty(v) {
			if required {
				add(fd, "champ obligatoire")
			}
			continue
		}
		if msg := fd.Check(v); msg != "" {
			add(fd, msg)
		}
	}
	return errs
}

// Valid reports whether the section passes validation.
func (s *SectionState) Valid() bool { return len(s.Validate()) == 0 }

// Wire returns the section payload with every field present: hidden and
// unanswered fields are null, option groups are arrays.
func (s *SectionState) Wire() map[string]any {
	out := make(map[string]any, len(s.def.Fields))
	for _, fd := range s.def.Fields {
		if fd.Kind == schema.KindOptions {
			opts := []schema.Option{}
			if s.outcome.IsLive(fd.Name) {
				if v := s.groups[fd.Name].Value(); v != nil {
					opts = v
				}
			}
			out[fd.Name] = opts
			continue
		}
		out[fd.Name] = fd.Wire(s.values[fd.Name])
	}
	return out
}
