// Package terminal fills intake forms from the command line against a
// running server. The server owns rule evaluation: after every answer the
// runner re-reads the section and asks whichever fields became live.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/client"
	"github.com/sidra/sidra/internal/domain/reference"
	"github.com/sidra/sidra/internal/domain/users"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
	"github.com/sidra/sidra/internal/intake/wizard"
)

var (
	// ErrSubmitAbandoned is returned when the user gives up after a failed
	// submission.
	ErrSubmitAbandoned = errors.New("submission abandoned")
	ErrListUnavailable = errors.New("reference list unavailable")
)

// Backend is the subset of the REST client the runner uses.
type Backend interface {
	OpenSession(ctx context.Context, mode wizard.Mode, recordID *uuid.UUID) (*wizard.View, error)
	UpdateSection(ctx context.Context, id, section string, values map[string]any) (*wizard.View, error)
	SelectOption(ctx context.Context, id, section, field string, option int, selected bool) (*wizard.View, error)
	Next(ctx context.Context, id string) (*wizard.View, error)
	Retry(ctx context.Context, id string) (*wizard.View, error)
	Submit(ctx context.Context, id string) (*wizard.View, error)
	Reference(ctx context.Context, kind string, parent *int) ([]reference.Item, error)
}

// Authenticator signs the client in.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*users.Challenge, error)
	VerifyOTP(ctx context.Context, challengeID uuid.UUID, code string) (*users.User, error)
}

var triLabels = []string{"Oui", "Non"}

type Runner struct {
	backend Backend
	driver  PromptDriver
	lists   map[string][]reference.Item
	// seen holds, per section, the fields already asked once.
	seen map[string]map[string]bool
}

func NewRunner(backend Backend, driver PromptDriver) *Runner {
	return &Runner{
		backend: backend,
		driver:  driver,
		lists:   make(map[string][]reference.Item),
		seen:    make(map[string]map[string]bool),
	}
}

// Login asks for credentials and the one-time code.
func Login(ctx context.Context, a Authenticator, driver PromptDriver) (*users.User, error) {
	email, err := driver.Input(ctx, InputConfig{Message: "E-mail"})
	if err != nil {
		return nil, err
	}
	password, err := driver.Password(ctx, InputConfig{Message: "Mot de passe"})
	if err != nil {
		return nil, err
	}
	ch, err := a.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	for {
		code, err := driver.Input(ctx, InputConfig{Message: "Code reçu"})
		if err != nil {
			return nil, err
		}
		u, err := a.VerifyOTP(ctx, ch.ID, strings.TrimSpace(code))
		if err == nil {
			return u, nil
		}
		if !client.IsStatus(err, http.StatusUnauthorized) {
			return nil, err
		}
		driver.Info(ctx, "Code invalide")
	}
}

// Run walks every step of a new session and submits it. In edit mode
// recordID names the record to replace and its answers are offered as
// defaults.
func (r *Runner) Run(ctx context.Context, mode wizard.Mode, recordID *uuid.UUID) (*wizard.View, error) {
	v, err := r.backend.OpenSession(ctx, mode, recordID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	for {
		r.driver.Info(ctx, fmt.Sprintf("Étape %d/%d : %s (%.0f%%)", v.CurrentStep, v.TotalSteps, v.Section.Label, v.Progress))
		if v, err = r.fillSection(ctx, v); err != nil {
			return nil, err
		}

		if v.CurrentStep < v.TotalSteps {
			next, err := r.backend.Next(ctx, v.ID)
			if err != nil {
				return nil, err
			}
			if next.Move != nil && !next.Move.Moved {
				r.report(ctx, next.Move.Errors)
			}
			v = next
			continue
		}

		done, err := r.backend.Submit(ctx, v.ID)
		if err == nil {
			r.driver.Info(ctx, fmt.Sprintf("Fiche %s enregistrée", recordCode(done)))
			return done, nil
		}
		var ae *client.APIError
		if !errors.As(err, &ae) || ae.View == nil {
			return nil, err
		}
		v = ae.View
		if ae.Status == http.StatusBadGateway {
			r.driver.Info(ctx, "L'envoi a échoué : "+ae.Message)
			again, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "Réessayer l'envoi ?", Default: true})
			if err != nil {
				return nil, err
			}
			if !again {
				return v, ErrSubmitAbandoned
			}
			continue
		}
		r.report(ctx, ae.Fields)
	}
}

func recordCode(v *wizard.View) string {
	if v.Record != nil {
		return v.Record.Code
	}
	return ""
}

func (r *Runner) report(ctx context.Context, errs []wizard.FieldError) {
	for _, e := range errs {
		r.driver.Info(ctx, fmt.Sprintf("  %s : %s", e.Label, e.Message))
	}
}

// fillSection asks every live field not asked yet, plus those flagged
// invalid, until none is left.
func (r *Runner) fillSection(ctx context.Context, v *wizard.View) (*wizard.View, error) {
	name := v.Section.Name
	if r.seen[name] == nil {
		r.seen[name] = make(map[string]bool)
	}
	asked := make(map[string]bool)
	for {
		f, ok := r.pick(v.Section, asked)
		if !ok {
			return v, nil
		}
		asked[f.Name] = true
		r.seen[name][f.Name] = true
		next, err := r.answer(ctx, v, f)
		if err != nil {
			return nil, err
		}
		v = next
	}
}

func (r *Runner) pick(sv wizard.SectionView, asked map[string]bool) (wizard.FieldView, bool) {
	seen := r.seen[sv.Name]
	for _, f := range sv.Fields {
		if asked[f.Name] {
			continue
		}
		if !seen[f.Name] || f.Error != "" || (f.Kind == schema.KindOptions && f.Status == selection.Degraded) {
			return f, true
		}
	}
	return wizard.FieldView{}, false
}

func (r *Runner) answer(ctx context.Context, v *wizard.View, f wizard.FieldView) (*wizard.View, error) {
	switch f.Kind {
	case schema.KindOptions:
		return r.answerOptions(ctx, v, f)
	case schema.KindTri:
		def := 0
		if b, ok := f.Value.(bool); ok && !b {
			def = 1
		}
		idx, err := r.driver.Select(ctx, SelectConfig{Message: fieldLabel(f), Options: triLabels, DefaultIndex: def})
		if err != nil {
			return nil, err
		}
		return r.update(ctx, v, f, idx == 0)
	case schema.KindCode:
		return r.answerCode(ctx, v, f)
	default:
		return r.answerScalar(ctx, v, f)
	}
}

// answerScalar asks text, date and number fields until the server accepts
// the value.
func (r *Runner) answerScalar(ctx context.Context, v *wizard.View, f wizard.FieldView) (*wizard.View, error) {
	help := ""
	if f.Kind == schema.KindDate {
		help = "AAAA-MM-JJ"
	}
	for {
		raw, err := r.driver.Input(ctx, InputConfig{
			Message:   fieldLabel(f),
			Default:   scalarDefault(f.Value),
			Help:      help,
			Validator: scalarValidator(f),
		})
		if err != nil {
			return nil, err
		}
		var val any = strings.TrimSpace(raw)
		if val == "" {
			val = nil
		}
		next, err := r.update(ctx, v, f, val)
		var ae *client.APIError
		if errors.As(err, &ae) && ae.Status == http.StatusUnprocessableEntity {
			r.report(ctx, ae.Fields)
			if ae.View != nil {
				v = ae.View
			}
			continue
		}
		return next, err
	}
}

func (r *Runner) answerCode(ctx context.Context, v *wizard.View, f wizard.FieldView) (*wizard.View, error) {
	choices := f.Choices
	if len(choices) == 0 && f.Source != "" {
		items, err := r.list(ctx, f.Source)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			choices = append(choices, schema.Choice{ID: it.ID, Label: it.Label})
		}
	}
	if len(choices) == 0 {
		return r.answerScalar(ctx, v, f)
	}

	labels := make([]string, len(choices))
	def := 0
	current, hasCurrent, _ := schema.ParseCode(f.Value)
	for i, c := range choices {
		labels[i] = c.Label
		if hasCurrent && c.ID == current {
			def = i
		}
	}
	idx, err := r.driver.Select(ctx, SelectConfig{Message: fieldLabel(f), Options: labels, DefaultIndex: def})
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(choices) {
		return nil, fmt.Errorf("%s: no choice selected", f.Name)
	}
	return r.update(ctx, v, f, choices[idx].ID)
}

// answerOptions answers each option of a group in turn. A group whose
// list failed to load is retried first.
func (r *Runner) answerOptions(ctx context.Context, v *wizard.View, f wizard.FieldView) (*wizard.View, error) {
	if f.Status == selection.Degraded || f.Status == selection.Pending {
		r.driver.Info(ctx, fmt.Sprintf("La liste « %s » n'a pas pu être chargée", f.Label))
		again, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "Réessayer ?", Default: true})
		if err != nil {
			return nil, err
		}
		if !again {
			return nil, fmt.Errorf("%s: %w", f.Name, ErrListUnavailable)
		}
		next, err := r.backend.Retry(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		retried, ok := fieldIn(next.Section, f.Name)
		if !ok || retried.Status != selection.Ready {
			return next, nil
		}
		return r.answerOptions(ctx, next, retried)
	}

	r.driver.Info(ctx, fieldLabel(f))
	for _, o := range f.Options {
		def := o.Selected != nil && *o.Selected
		yes, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "  " + o.Label, Default: def})
		if err != nil {
			return nil, err
		}
		next, err := r.backend.SelectOption(ctx, v.ID, v.Section.Name, f.Name, o.ID, yes)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return v, nil
}

func (r *Runner) update(ctx context.Context, v *wizard.View, f wizard.FieldView, val any) (*wizard.View, error) {
	return r.backend.UpdateSection(ctx, v.ID, v.Section.Name, map[string]any{f.Name: val})
}

// list caches reference lists for the whole run.
func (r *Runner) list(ctx context.Context, kind string) ([]reference.Item, error) {
	if items, ok := r.lists[kind]; ok {
		return items, nil
	}
	items, err := r.backend.Reference(ctx, kind, nil)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	r.lists[kind] = items
	return items, nil
}

func fieldIn(sv wizard.SectionView, name string) (wizard.FieldView, bool) {
	for _, f := range sv.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return wizard.FieldView{}, false
}

func fieldLabel(f wizard.FieldView) string {
	if f.Required {
		return f.Label + " *"
	}
	return f.Label
}

func scalarDefault(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// scalarValidator catches what can be checked locally; the server has the
// final say.
func scalarValidator(f wizard.FieldView) func(string) error {
	return func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			if f.Required {
				return errors.New("champ obligatoire")
			}
			return nil
		}
		switch f.Kind {
		case schema.KindDate:
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return errors.New("date attendue au format AAAA-MM-JJ")
			}
		case schema.KindNumber:
			if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err != nil {
				return errors.New("nombre attendu")
			}
		}
		return nil
	}
}
