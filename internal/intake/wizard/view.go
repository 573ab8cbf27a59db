package wizard

import (
	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
)

// RecordsListPath is where clients go after a successful submission.
const RecordsListPath = "/dashboard/drug-requests"

// View is what the session API returns after every operation.
type View struct {
	ID                  string        `json:"id"`
	Mode                Mode          `json:"mode"`
	RecordID            *uuid.UUID    `json:"recordId,omitempty"`
	CurrentStep         int           `json:"currentStep"`
	TotalSteps          int           `json:"totalSteps"`
	Progress            float64       `json:"progress"`
	ShowValidationError bool          `json:"showValidationError"`
	Steps               []Step        `json:"steps"`
	Section             SectionView   `json:"section"`
	Move                *Move         `json:"move,omitempty"`
	Errors              []FieldError  `json:"errors,omitempty"`
	Submitted           bool          `json:"submitted"`
	SubmitError         string        `json:"submitError,omitempty"`
	Redirect            string        `json:"redirect,omitempty"`
	Record              *forms.Record `json:"record,omitempty"`
}

// SectionView lists the live fields of a section with their answers.
type SectionView struct {
	Name   string      `json:"name"`
	Label  string      `json:"label"`
	Valid  bool        `json:"valid"`
	Fields []FieldView `json:"fields"`
}

type FieldView struct {
	Name     string           `json:"name"`
	Label    string           `json:"label"`
	Kind     schema.Kind      `json:"kind"`
	Required bool             `json:"required"`
	Value    any              `json:"value"`
	Source   string           `json:"source,omitempty"`
	Choices  []schema.Choice  `json:"choices,omitempty"`
	Status   selection.Status `json:"status,omitempty"`
	Options  []OptionView     `json:"options,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type OptionView struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Selected *bool  `json:"selected"`
}

func newView(sess *Session, ctrl *Controller) *View {
	cur := ctrl.CurrentSection()
	v := &View{
		ID:                  sess.ID,
		Mode:                sess.Mode,
		RecordID:            sess.RecordID,
		CurrentStep:         ctrl.Current(),
		TotalSteps:          ctrl.Total(),
		Progress:            ctrl.Progress(),
		ShowValidationError: ctrl.ShowValidationError(),
		Steps:               ctrl.Steps(),
		Section:             describeSection(cur),
		Submitted:           sess.Submitted,
		SubmitError:         sess.SubmitError,
	}
	if cur.Touched() {
		v.Errors = cur.Validate()
		byField := make(map[string]string, len(v.Errors))
		for _, e := range v.Errors {
			byField[e.Field] = e.Message
		}
		for i := range v.Section.Fields {
			v.Section.Fields[i].Error = byField[v.Section.Fields[i].Name]
		}
	}
	if sess.Submitted {
		v.Redirect = RecordsListPath
	}
	return v
}

func describeSection(s *SectionState) SectionView {
	sv := SectionView{Name: s.def.Name, Label: s.def.Label, Valid: s.Valid()}
	out := s.Outcome()
	for _, fd := range s.def.Fields {
		if !out.IsLive(fd.Name) {
			continue
		}
		fv := FieldView{
			Name:     fd.Name,
			Label:    fd.Label,
			Kind:     fd.Kind,
			Required: out.IsRequired(fd.Name),
			Source:   fd.Source,
			Choices:  fd.Choices,
		}
		if g, ok := s.groups[fd.Name]; ok {
			fv.Status = g.Status()
			labels := make(map[int]string)
			for _, it := range g.Items() {
				labels[it.ID] = it.Label
			}
			for _, o := range g.Value() {
				fv.Options = append(fv.Options, OptionView{ID: o.ID, Label: labels[o.ID], Selected: o.Selected})
			}
		} else {
			fv.Value = fd.Wire(s.values[fd.Name])
		}
		sv.Fields = append(sv.Fields, fv)
	}
	return sv
}
