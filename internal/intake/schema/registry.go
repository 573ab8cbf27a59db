package schema

import (
	_ "embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind is the value type of a field.
type Kind string

const (
	KindText    Kind = "text"
	KindDate    Kind = "date"
	KindTri     Kind = "tri"
	KindCode    Kind = "code"
	KindNumber  Kind = "number"
	KindOptions Kind = "options"
)

const dateLayout = "2006-01-02"

// Choice is a static answer for a code field that has no reference list.
type Choice struct {
	ID    int    `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// Field describes one form control and its base rule.
type Field struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	Required bool     `yaml:"required" json:"required"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Source   string   `yaml:"source,omitempty" json:"source,omitempty"`
	Choices  []Choice `yaml:"choices,omitempty" json:"choices,omitempty"`
	// Other names the free-text field paired with an options group.
	Other string `yaml:"other,omitempty" json:"other,omitempty"`

	re *regexp.Regexp
}

// Op is a rule condition operator.
type Op string

const (
	OpYes      Op = "yes"
	OpEquals   Op = "equals"
	OpIn       Op = "in"
	OpPresent  Op = "present"
	OpSelected Op = "selected"
)

// Condition tests the current value of a trigger field.
type Condition struct {
	Field  string `yaml:"field"`
	Op     Op     `yaml:"op"`
	Value  int    `yaml:"value,omitempty"`
	Values []int  `yaml:"values,omitempty"`
}

// Rule makes Require live and required while When holds.
type Rule struct {
	When    Condition `yaml:"when"`
	Require []string  `yaml:"require"`
}

// Section is one step of the wizard.
type Section struct {
	Name   string   `yaml:"name"`
	Label  string   `yaml:"label"`
	Fields []*Field `yaml:"fields"`
	Rules  []Rule   `yaml:"rules"`

	index map[string]*Field
	dep   map[string]bool
}

// Registry is the ordered set of sections making up an intake form.
type Registry struct {
	sections []*Section
	byName   map[string]*Section
}

type registryFile struct {
	Sections []*Section `yaml:"sections"`
}

//go:embed sections.yaml
var sectionsYAML []byte

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry compiled into the binary.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Parse(sectionsYAML)
		if err != nil {
			panic(fmt.Sprintf("schema: embedded sections: %v", err))
		}
		defaultReg = reg
	})
	return defaultReg
}

// LoadFS reads a registry document from fsys.
func LoadFS(fsys fs.FS, name string) (*Registry, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", name, err)
	}
	return Parse(data)
}

// Parse decodes and checks a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("schema: empty document")
	}
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("schema: no sections defined")
	}

	reg := &Registry{byName: make(map[string]*Section, len(doc.Sections))}
	for _, sec := range doc.Sections {
		if sec.Name == "" {
			return nil, fmt.Errorf("schema: section without a name")
		}
		if _, dup := reg.byName[sec.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate section %q", sec.Name)
		}
		if err := sec.compile(); err != nil {
			return nil, err
		}
		reg.byName[sec.Name] = sec
		reg.sections = append(reg.sections, sec)
	}
	return reg, nil
}

func (s *Section) compile() error {
	s.index = make(map[string]*Field, len(s.Fields))
	s.dep = make(map[string]bool)
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema: section %s: field without a name", s.Name)
		}
		if _, dup := s.index[f.Name]; dup {
			return fmt.Errorf("schema: section %s: duplicate field %q", s.Name, f.Name)
		}
		switch f.Kind {
		case KindText, KindDate, KindTri, KindCode, KindNumber, KindOptions:
		default:
			return fmt.Errorf("schema: %s.%s: unknown kind %q", s.Name, f.Name, f.Kind)
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return fmt.Errorf("schema: %s.%s: bad pattern: %w", s.Name, f.Name, err)
			}
			f.re = re
		}
		s.index[f.Name] = f
	}
	for i, r := range s.Rules {
		switch r.When.Op {
		case OpYes, OpEquals, OpIn, OpPresent, OpSelected:
		default:
			return fmt.Errorf("schema: section %s rule %d: unknown op %q", s.Name, i, r.When.Op)
		}
		if len(r.Require) == 0 {
			return fmt.Errorf("schema: section %s rule %d: nothing required", s.Name, i)
		}
		for _, name := range r.Require {
			s.dep[name] = true
		}
	}
	return nil
}

// Sections returns the sections in step order.
func (r *Registry) Sections() []*Section {
	return r.sections
}

// Section looks a section up by name.
func (r *Registry) Section(name string) (*Section, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Field looks a field up by name.
func (s *Section) Field(name string) (*Field, bool) {
	f, ok := s.index[name]
	return f, ok
}

// Conditional reports whether the field is only live while some rule holds.
func (s *Section) Conditional(name string) bool {
	return s.dep[name]
}

// Normalize converts a wire value into the field's canonical Go value:
// string, Tri, int, float64 or []Option. Unanswered values become nil.
func (f *Field) Normalize(raw any) (any, error) {
	switch f.Kind {
	case KindText:
		if raw == nil {
			return nil, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return s, nil
	case KindDate:
		if raw == nil {
			return nil, nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a date")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if len(s) > len(dateLayout) {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.Format(dateLayout), nil
			}
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, fmt.Errorf("expected a date as YYYY-MM-DD")
		}
		return s, nil
	case KindTri:
		t, err := ParseTri(raw)
		if err != nil {
			return nil, err
		}
		if t == Unset {
			return nil, nil
		}
		return t, nil
	case KindCode:
		n, ok, err := ParseCode(raw)
		if err != nil || !ok {
			return nil, err
		}
		return n, nil
	case KindNumber:
		n, ok, err := ParseNumber(raw)
		if err != nil || !ok {
			return nil, err
		}
		return n, nil
	case KindOptions:
		opts, err := ParseOptions(raw)
		if err != nil || len(opts) == 0 {
			return nil, err
		}
		return opts, nil
	}
	return nil, fmt.Errorf("unknown kind %q", f.Kind)
}

// Check validates a non-empty normalised value against the base rule and
// returns a user-facing message, or "" when the value is acceptable.
func (f *Field) Check(v any) string {
	switch f.Kind {
	case KindText:
		s, _ := v.(string)
		if f.re != nil && !f.re.MatchString(s) {
			return "format invalide"
		}
	case KindNumber:
		n, _ := v.(float64)
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("doit être supérieur ou égal à %g", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("doit être inférieur ou égal à %g", *f.Max)
		}
	case KindCode:
		if len(f.Choices) == 0 {
			return ""
		}
		n, _ := v.(int)
		for _, c := range f.Choices {
			if c.ID == n {
				return ""
			}
		}
		return "valeur inconnue"
	}
	return ""
}

// Wire maps a normalised value back onto its JSON representation.
func (f *Field) Wire(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Tri:
		return x.Wire()
	case []Option:
		return append([]Option(nil), x...)
	}
	return v
}
