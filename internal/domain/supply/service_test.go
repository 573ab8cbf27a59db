package supply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*Report
}

func newMockRepo() *mockRepo {
	return &mockRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.reports {
		if f.Structure != "" && r.Structure != f.Structure {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

func validReport() *Report {
	return &Report{
		Structure:   "Brigade Tunis",
		PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Seizures:    Seizures{Cannabis: 12.5, Subutex: 40},
		Accusations: Accusations{
			Consumer:   Share{Count: 30, Percentage: 60},
			Seller:     Share{Count: 15, Percentage: 30},
			Trafficker: Share{Count: 5, Percentage: 10},
		},
	}
}

func TestFillPercentages(t *testing.T) {
	r := validReport()
	r.Demographics.Gender = Gender{Male: Share{Count: 2}, Female: Share{Count: 1}}
	r.Demographics.Age = AgeGroups{Under18: Share{Count: 1, Percentage: 50}, Over40: Share{Count: 1}}
	FillPercentages(r)

	if r.Demographics.Gender.Male.Percentage != 66.7 || r.Demographics.Gender.Female.Percentage != 33.3 {
		t.Errorf("unexpected gender percentages %+v", r.Demographics.Gender)
	}
	if r.Demographics.Age.Over40.Percentage != 0 {
		t.Error("a group with any percentage filled in must be left alone")
	}
	if r.Accusations.Consumer.Percentage != 60 {
		t.Errorf("given percentages changed: %v", r.Accusations.Consumer.Percentage)
	}
	if r.Demographics.Employment.Student.Percentage != 0 {
		t.Error("an empty group must stay at zero")
	}
}

func TestService_Create(t *testing.T) {
	svc := newTestService()
	r := validReport()
	if err := svc.Create(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name   string
		mutate func(*Report)
		want   string
	}{
		{"missing structure", func(r *Report) { r.Structure = " " }, "structure"},
		{"missing period", func(r *Report) { r.PeriodEnd = time.Time{} }, "periodEnd"},
		{"inverted period", func(r *Report) { r.PeriodEnd = r.PeriodStart.AddDate(0, 0, -1) }, "before"},
		{"negative seizure", func(r *Report) { r.Seizures.Heroin = -1 }, "seizures.heroin"},
		{"negative count", func(r *Report) { r.Accusations.Seller.Count = -2 }, "accusations"},
		{"percentage over 100", func(r *Report) { r.Demographics.Gender.Male = Share{Count: 1, Percentage: 120} }, "between 0 and 100"},
		{"group over 100", func(r *Report) { r.Accusations.Trafficker.Percentage = 40 }, "add up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReport()
			tt.mutate(r)
			err := svc.Create(context.Background(), r)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestService_UpdateAndDelete(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	r := validReport()
	svc.Create(ctx, r)

	r.Seizures.Cocaine = 3
	if err := svc.Update(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx, r.ID)
	if got.Seizures.Cocaine != 3 {
		t.Errorf("update not stored: %+v", got.Seizures)
	}

	if err := svc.Delete(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_List_InvertedRange(t *testing.T) {
	svc := newTestService()
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, -1, 0)
	if _, _, err := svc.List(context.Background(), ListFilter{From: &from, To: &to}, 10, 0); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestListWhere(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clause, args := listWhere(ListFilter{Structure: "Brigade Tunis", From: &from})
	if clause != " WHERE structure = $1 AND period_end >= $2" {
		t.Errorf("unexpected clause %q", clause)
	}
	if len(args) != 2 {
		t.Errorf("expected 2 args, got %d", len(args))
	}
}
