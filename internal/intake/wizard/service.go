package wizard

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/selection"
	"github.com/sidra/sidra/internal/platform/auth"
	"github.com/sidra/sidra/internal/platform/metrics"
)

var (
	ErrEditWithoutRecord = errors.New("edit mode requires a record id")
	ErrAlreadySubmitted  = errors.New("session already submitted")
	ErrNotFinalStep      = errors.New("submit is only available on the last step")
	ErrSubmitFailed      = errors.New("error submitting form")
)

// Lists fetches reference lists by kind.
type Lists interface {
	List(ctx context.Context, kind string) ([]selection.Item, error)
}

// lockStripes bounds the session locks. Sessions hashing to the same
// stripe are serialised together.
const lockStripes = 64

// Service runs wizard sessions on top of a Store. Operations on the same
// session are serialised. A session is only visible to the user who
// opened it.
type Service struct {
	reg       *schema.Registry
	store     Store
	records   Records
	lists     Lists
	assembler *Assembler
	logger    zerolog.Logger
	locks     [lockStripes]sync.Mutex
	now       func() time.Time
}

func NewService(reg *schema.Registry, store Store, records Records, lists Lists, logger zerolog.Logger) *Service {
	return &Service{
		reg:       reg,
		store:     store,
		records:   records,
		lists:     lists,
		assembler: NewAssembler(records, logger),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Open starts a session. In edit mode the stored record and every
// reference list are loaded concurrently; in create mode only the lists of
// the first step are fetched.
func (s *Service) Open(ctx context.Context, userID string, mode Mode, recordID *uuid.UUID) (*View, error) {
	if mode == ModeEdit && recordID == nil {
		return nil, ErrEditWithoutRecord
	}
	if mode != ModeEdit {
		mode, recordID = ModeCreate, nil
	}

	form := NewForm(s.reg)
	ctrl := NewController(form)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	targets := pendingGroups(form, ctrl.CurrentSection().Name())
	if mode == ModeEdit {
		targets = pendingGroups(form, "")
		id := *recordID
		g.Go(func() error {
			rec, err := s.records.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("load record %s: %w", id, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, name := range forms.SectionNames {
				if err := form.LoadSection(name, rec.Section(name)); err != nil {
					var ie *InputError
					if !errors.As(err, &ie) {
						return err
					}
					s.logger.Warn().Str("record_id", id.String()).Str("section", name).Err(err).Msg("stored values skipped")
				}
			}
			return nil
		})
	}
	s.fetch(gctx, g, &mu, form, targets)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	form.refresh()

	now := s.now().UTC()
	sess := &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		Mode:        mode,
		RecordID:    recordID,
		CurrentStep: 1,
		CreatedAt:   now,
	}
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", sess.ID).Str("mode", string(mode)).Msg("intake session opened")
	return newView(sess, ctrl), nil
}

// Get returns the current view of a session.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return newView(sess, ctrl), nil
}

// Update assigns values in one section. Unreadable values come back as an
// *InputError alongside the view; the readable ones are kept.
func (s *Service) Update(ctx context.Context, id, section string, values map[string]any) (*View, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Submitted {
		return nil, ErrAlreadySubmitted
	}
	setErr := ctrl.Form().SetMany(section, values)
	var ie *InputError
	if setErr != nil && !errors.As(setErr, &ie) {
		return nil, setErr
	}
	ctrl.Changed()
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	return newView(sess, ctrl), setErr
}

// Select records one option of an options group.
func (s *Service) Select(ctx context.Context, id, section, field string, optionID int, selected bool) (*View, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Submitted {
		return nil, ErrAlreadySubmitted
	}
	if err := ctrl.Form().Select(section, field, optionID, selected); err != nil {
		return nil, err
	}
	ctrl.Changed()
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	return newView(sess, ctrl), nil
}

// GoTo navigates to target; see Controller.GoToStep.
func (s *Service) GoTo(ctx context.Context, id string, target int) (*View, error) {
	return s.navigate(ctx, id, "goto", func(c *Controller) (Move, error) { return c.GoToStep(target) })
}

func (s *Service) Next(ctx context.Context, id string) (*View, error) {
	return s.navigate(ctx, id, "next", (*Controller).NextStep)
}

func (s *Service) Prev(ctx context.Context, id string) (*View, error) {
	return s.navigate(ctx, id, "prev", (*Controller).PrevStep)
}

func (s *Service) navigate(ctx context.Context, id, direction string, move func(*Controller) (Move, error)) (*View, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Submitted {
		return nil, ErrAlreadySubmitted
	}
	mv, err := move(ctrl)
	if err != nil {
		return nil, err
	}
	metrics.WizardTransitions.WithLabelValues(direction, metrics.Result(mv.Moved)).Inc()
	if mv.Moved {
		s.fetchSection(ctx, ctrl.Form(), ctrl.CurrentSection().Name())
	}
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	v := newView(sess, ctrl)
	v.Move = &mv
	return v, nil
}

// Retry re-fetches the lists of the current step that are not loaded.
func (s *Service) Retry(ctx context.Context, id string) (*View, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fetchSection(ctx, ctrl.Form(), ctrl.CurrentSection().Name())
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	return newView(sess, ctrl), nil
}

// Submit validates the last step and creates or replaces the record. A
// backend failure leaves the session on the last step with SubmitError set
// and returns ErrSubmitFailed with the view.
func (s *Service) Submit(ctx context.Context, id string) (*View, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, ctrl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Submitted {
		return nil, ErrAlreadySubmitted
	}
	if ctrl.Current() != ctrl.Total() {
		return nil, ErrNotFinalStep
	}

	if errs := ctrl.ValidateCurrent(); len(errs) > 0 {
		ctrl.showErr = true
		if err := s.save(ctx, sess, ctrl); err != nil {
			return nil, err
		}
		v := newView(sess, ctrl)
		v.Move = &Move{From: ctrl.Current(), To: ctrl.Current(), Errors: errs, FirstInvalid: errs[0].Field}
		return v, nil
	}

	var editID *uuid.UUID
	if sess.Mode == ModeEdit {
		editID = sess.RecordID
	}
	rec, subErr := s.assembler.Submit(ctx, ctrl.Form(), editID)
	metrics.WizardSubmissions.WithLabelValues(string(sess.Mode), metrics.Result(subErr == nil)).Inc()
	if subErr != nil {
		sess.SubmitError = ErrSubmitFailed.Error()
		if err := s.save(ctx, sess, ctrl); err != nil {
			return nil, err
		}
		return newView(sess, ctrl), fmt.Errorf("%w: %v", ErrSubmitFailed, subErr)
	}

	sess.Submitted = true
	sess.SubmitError = ""
	sess.RecordID = &rec.ID
	if err := s.save(ctx, sess, ctrl); err != nil {
		return nil, err
	}
	v := newView(sess, ctrl)
	v.Record = rec
	return v, nil
}

// Discard drops a session.
func (s *Service) Discard(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	if _, _, err := s.load(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*Session, *Controller, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess.UserID != auth.UserIDFromContext(ctx) {
		return nil, nil, ErrSessionNotFound
	}
	form, err := RestoreForm(s.reg, sess.Form)
	if err != nil {
		return nil, nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	return sess, resume(form, sess.CurrentStep, sess.ShowValidationError), nil
}

func (s *Service) save(ctx context.Context, sess *Session, ctrl *Controller) error {
	sess.Form = ctrl.Form().State()
	sess.CurrentStep = ctrl.Current()
	sess.ShowValidationError = ctrl.ShowValidationError()
	sess.UpdatedAt = s.now().UTC()
	return s.store.Save(ctx, sess)
}

type groupRef struct {
	section string
	field   string
	source  string
}

// pendingGroups lists groups without a loaded list, in one section or in
// all of them when section is empty.
func pendingGroups(form *Form, section string) []groupRef {
	var out []groupRef
	for _, st := range form.Sections() {
		if section != "" && st.Name() != section {
			continue
		}
		for name, g := range st.Groups() {
			if !g.Ready() {
				out = append(out, groupRef{section: st.Name(), field: name, source: g.Source()})
			}
		}
	}
	return out
}

// fetch loads the lists of targets concurrently. A failure degrades the
// group and never fails the errgroup. Groups are looked up again under mu
// when a result arrives, since loading a record may have replaced them.
func (s *Service) fetch(ctx context.Context, g *errgroup.Group, mu *sync.Mutex, form *Form, targets []groupRef) {
	for _, t := range targets {
		t := t
		g.Go(func() error {
			items, err := s.lists.List(ctx, t.source)
			metrics.ReferenceFetches.WithLabelValues(t.source, metrics.Result(err == nil)).Inc()
			mu.Lock()
			defer mu.Unlock()
			grp, ok := form.Group(t.section, t.field)
			if !ok {
				return nil
			}
			if err != nil {
				s.logger.Error().Err(err).Str("kind", t.source).Msg("error loading data")
				grp.Fail(err)
				return nil
			}
			grp.LoadList(items)
			return nil
		})
	}
}

func (s *Service) fetchSection(ctx context.Context, form *Form, section string) {
	targets := pendingGroups(form, section)
	if len(targets) == 0 {
		return
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	s.fetch(gctx, g, &mu, form, targets)
	_ = g.Wait()
	form.refresh()
}
