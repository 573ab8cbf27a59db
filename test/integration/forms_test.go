package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sidra/sidra/internal/domain/forms"
)

func newRecord(t *testing.T, governorat, structure string) *forms.Record {
	t.Helper()
	code, err := forms.NewCode()
	if err != nil {
		t.Fatal(err)
	}
	return &forms.Record{
		Code:              code,
		DateAjout:         time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC),
		Status:            forms.StatusPending,
		Governorat:        governorat,
		Structure:         structure,
		StructureInfo:     forms.Section{"patientId": "P-1", "residenceGovernorate": 2},
		TobaccoAlcohol:    forms.Section{"tobacco": true},
		SubstanceUse:      forms.Section{"cocaine": false},
		BehaviorsAndTests: forms.Section{},
		Comorbidities:     forms.Section{},
		SpaDeaths:         forms.Section{},
	}
}

func TestFormsRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := forms.NewRepoPG(testPool)

	rec := newRecord(t, "Béja", "CSB Nefza")
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Code != rec.Code || got.StructureInfo["patientId"] != "P-1" || got.TobaccoAlcohol["tobacco"] != true {
		t.Errorf("round trip mismatch: %+v", got)
	}

	reviewed, err := repo.UpdateStatus(ctx, rec.ID, forms.StatusRejected, strPtr("u-1"), strPtr("incomplet"))
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if reviewed.Status != forms.StatusRejected || reviewed.ReviewNote == nil || *reviewed.ReviewNote != "incomplet" {
		t.Errorf("unexpected review: %+v", reviewed)
	}

	rec.Status = forms.StatusPending
	rec.Structure = "CSB Tabarka"
	if err := repo.Replace(ctx, rec); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if rec.ReviewNote != nil || rec.Structure != "CSB Tabarka" {
		t.Errorf("replace should reset the review: %+v", rec)
	}

	if err := repo.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, rec.ID); !errors.Is(err, forms.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, rec.ID); !errors.Is(err, forms.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFormsRepo_ListAndCount(t *testing.T) {
	ctx := context.Background()
	repo := forms.NewRepoPG(testPool)

	a := newRecord(t, "Béja", "Hôpital régional")
	b := newRecord(t, "Sfax", "CSB 100%")
	b.DateAjout = a.DateAjout.Add(24 * time.Hour)
	for _, r := range []*forms.Record{a, b} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		repo.Delete(ctx, a.ID)
		repo.Delete(ctx, b.ID)
	})
	if _, err := repo.UpdateStatus(ctx, b.ID, forms.StatusApproved, nil, nil); err != nil {
		t.Fatal(err)
	}

	items, total, err := repo.List(ctx, forms.ListFilter{Query: "beja hopital"}, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("accent-folded search: total=%d items=%v", total, items)
	}

	items, _, err = repo.List(ctx, forms.ListFilter{Query: "100%"}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("literal %% search returned %v", items)
	}

	items, total, err = repo.List(ctx, forms.ListFilter{}, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != b.ID {
		t.Errorf("default order should be newest first: total=%d first=%v", total, items)
	}

	day := a.DateAjout
	items, _, err = repo.List(ctx, forms.ListFilter{Date: &day, Status: forms.StatusPending}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != a.ID {
		t.Errorf("date+status filter returned %v", items)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[forms.StatusPending] != 1 || counts[forms.StatusApproved] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
