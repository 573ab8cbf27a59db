package forms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/platform/auth"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

var validStatuses = map[string]bool{
	StatusPending: true, StatusApproved: true, StatusRejected: true,
}

func validateSections(r *Record) error {
	for _, name := range SectionNames {
		if r.Section(name) == nil {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

// Create stores a new record. Every record starts pending; code and
// dateAjout are filled in when the caller left them empty.
func (s *Service) Create(ctx context.Context, r *Record) error {
	if err := validateSections(r); err != nil {
		return err
	}
	if r.Code == "" {
		code, err := NewCode()
		if err != nil {
			return err
		}
		r.Code = code
	}
	if r.DateAjout.IsZero() {
		r.DateAjout = s.now().UTC()
	}
	r.Status = StatusPending
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		r.CreatedBy = &uid
	}
	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

// Replace overwrites the sections of record id. An edited record goes back
// to pending review.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, r *Record) error {
	if err := validateSections(r); err != nil {
		return err
	}
	r.ID = id
	r.Status = StatusPending
	return s.repo.Replace(ctx, r)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.SortBy != "" {
		if _, ok := sortColumns[f.SortBy]; !ok {
			return nil, 0, fmt.Errorf("invalid sort: %s", f.SortBy)
		}
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Review approves or rejects a record on behalf of the caller.
func (s *Service) Review(ctx context.Context, id uuid.UUID, status string, note *string) (*Record, error) {
	if status != StatusApproved && status != StatusRejected && status != StatusPending {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	var reviewer *string
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		reviewer = &uid
	}
	return s.repo.UpdateStatus(ctx, id, status, reviewer, note)
}

// Stats counts records per status. Every status appears, with zero when
// no record holds it.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: make(map[string]int, len(StatusLabels)), Labels: StatusLabels}
	for status := range StatusLabels {
		st.ByStatus[status] = counts[status]
		st.Total += counts[status]
	}
	return st, nil
}
