package wizard

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/intake/schema"
)

// Records is the forms backend the assembler dispatches to.
type Records interface {
	Create(ctx context.Context, r *forms.Record) error
	Replace(ctx context.Context, id uuid.UUID, r *forms.Record) error
	Get(ctx context.Context, id uuid.UUID) (*forms.Record, error)
}

var (
	textPolicyOnce sync.Once
	textPolicy     *bluemonday.Policy
)

func textSanitizer() *bluemonday.Policy {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return textPolicy
}

// sanitizeText strips markup from a free-text answer. Entities produced by
// the policy are decoded again so accents and apostrophes survive.
func sanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(textSanitizer().Sanitize(raw)))
}

// Assembler turns a completed form into a FormRecord and sends it.
type Assembler struct {
	records Records
	logger  zerolog.Logger
	now     func() time.Time
}

func NewAssembler(records Records, logger zerolog.Logger) *Assembler {
	return &Assembler{records: records, logger: logger, now: time.Now}
}

// Assemble collects every section into a pending record.
func (a *Assembler) Assemble(form *Form) *forms.Record {
	rec := &forms.Record{Status: forms.StatusPending}
	for _, s := range form.Sections() {
		wire := s.Wire()
		for _, fd := range s.def.Fields {
			if fd.Kind != schema.KindText {
				continue
			}
			if str, ok := wire[fd.Name].(string); ok {
				wire[fd.Name] = sanitizeText(str)
			}
		}
		rec.SetSection(s.Name(), forms.Section(wire))
	}
	if info, err := form.Section(forms.SectionStructureInfo); err == nil {
		rec.Governorat = codeString(info.Value("governorateOfResidenceUuidGovernorate"))
		rec.Structure = codeString(info.Value("structureDemandedStructureId"))
	}
	return rec
}

// Submit assembles the form and creates a new record, or replaces every
// section of editID when set. Failures are logged and returned; nothing is
// retried.
func (a *Assembler) Submit(ctx context.Context, form *Form, editID *uuid.UUID) (*forms.Record, error) {
	rec := a.Assemble(form)

	if editID != nil {
		rec.ID = *editID
		if err := a.records.Replace(ctx, *editID, rec); err != nil {
			a.logger.Error().Err(err).Str("record_id", editID.String()).Msg("error updating form")
			return nil, fmt.Errorf("update form: %w", err)
		}
		a.logger.Info().Str("record_id", editID.String()).Msg("form updated")
		return rec, nil
	}

	code, err := forms.NewCode()
	if err != nil {
		return nil, err
	}
	rec.Code = code
	rec.DateAjout = a.now().UTC()
	if err := a.records.Create(ctx, rec); err != nil {
		a.logger.Error().Err(err).Str("code", code).Msg("error submitting form")
		return nil, fmt.Errorf("create form: %w", err)
	}
	a.logger.Info().Str("record_id", rec.ID.String()).Str("code", code).Msg("form created")
	return rec, nil
}

func codeString(v any) string {
	if n, ok := v.(int); ok {
		return strconv.Itoa(n)
	}
	return ""
}
