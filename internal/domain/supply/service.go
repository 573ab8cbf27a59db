package supply

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/sidra/sidra/internal/platform/auth"
)

// percentTolerance absorbs rounding when a group's percentages are summed.
const percentTolerance = 0.5

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// FillPercentages computes the percentages of every group whose
// percentages were all left at zero, from the group's counts. Values are
// rounded to one decimal.
func FillPercentages(r *Report) {
	for _, shares := range r.shareGroups() {
		total := 0
		blank := true
		for _, s := range shares {
			total += s.Count
			if s.Percentage != 0 {
				blank = false
			}
		}
		if !blank || total == 0 {
			continue
		}
		for _, s := range shares {
			s.Percentage = math.Round(float64(s.Count)*1000/float64(total)) / 10
		}
	}
}

func validate(r *Report) error {
	r.Structure = strings.TrimSpace(r.Structure)
	if r.Structure == "" {
		return fmt.Errorf("structure is required")
	}
	if r.PeriodStart.IsZero() || r.PeriodEnd.IsZero() {
		return fmt.Errorf("periodStart and periodEnd are required")
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return fmt.Errorf("periodEnd must not be before periodStart")
	}
	for name, v := range r.Seizures.values() {
		if v < 0 {
			return fmt.Errorf("seizures.%s must be 0 or more", name)
		}
	}

	groups := r.shareGroups()
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sum := 0.0
		for _, s := range groups[name] {
			if s.Count < 0 {
				return fmt.Errorf("%s: count must be 0 or more", name)
			}
			if s.Percentage < 0 || s.Percentage > 100 {
				return fmt.Errorf("%s: percentage must be between 0 and 100", name)
			}
			sum += s.Percentage
		}
		if sum > 100+percentTolerance {
			return fmt.Errorf("%s: percentages add up to %.1f", name, sum)
		}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, r *Report) error {
	FillPercentages(r)
	if err := validate(r); err != nil {
		return err
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		r.CreatedBy = &uid
	}
	return s.repo.Create(ctx, r)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, r *Report) error {
	FillPercentages(r)
	if err := validate(r); err != nil {
		return err
	}
	return s.repo.Update(ctx, r)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Report, int, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, fmt.Errorf("to must not be before from")
	}
	return s.repo.List(ctx, f, limit, offset)
}
