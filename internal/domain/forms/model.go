package forms

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// StatusLabels are the display names used on the requests list and dashboard.
var StatusLabels = map[string]string{
	StatusPending:  "En attente",
	StatusApproved: "Approuvée",
	StatusRejected: "Rejetée",
}

// Section names in step order.
const (
	SectionStructureInfo     = "structureInfo"
	SectionTobaccoAlcohol    = "tobaccoAlcohol"
	SectionSubstanceUse      = "substanceUse"
	SectionBehaviorsAndTests = "behaviorsAndTests"
	SectionComorbidities     = "comorbidities"
	SectionSpaDeaths         = "spaDeaths"
)

var SectionNames = []string{
	SectionStructureInfo,
	SectionTobaccoAlcohol,
	SectionSubstanceUse,
	SectionBehaviorsAndTests,
	SectionComorbidities,
	SectionSpaDeaths,
}

// Section is one nested section payload as it travels on the wire.
type Section map[string]any

// Record is an intake form as stored and exchanged with clients.
type Record struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"`
	DateAjout         time.Time `db:"date_ajout" json:"dateAjout"`
	Status            string    `db:"status" json:"status"`
	Governorat        string    `db:"governorat" json:"governorat"`
	Structure         string    `db:"structure" json:"structure"`
	StructureInfo     Section   `db:"structure_info" json:"structureInfo"`
	TobaccoAlcohol    Section   `db:"tobacco_alcohol" json:"tobaccoAlcohol"`
	SubstanceUse      Section   `db:"substance_use" json:"substanceUse"`
	BehaviorsAndTests Section   `db:"behaviors_and_tests" json:"behaviorsAndTests"`
	Comorbidities     Section   `db:"comorbidities" json:"comorbidities"`
	SpaDeaths         Section   `db:"spa_deaths" json:"spaDeaths"`
	CreatedBy         *string   `db:"created_by" json:"createdBy,omitempty"`
	ReviewedBy        *string   `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewNote        *string   `db:"review_note" json:"reviewNote,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// Section returns the named section payload, or nil.
func (r *Record) Section(name string) Section {
	switch name {
	case SectionStructureInfo:
		return r.StructureInfo
	case SectionTobaccoAlcohol:
		return r.TobaccoAlcohol
	case SectionSubstanceUse:
		return r.SubstanceUse
	case SectionBehaviorsAndTests:
		return r.BehaviorsAndTests
	case SectionComorbidities:
		return r.Comorbidities
	case SectionSpaDeaths:
		return r.SpaDeaths
	}
	return nil
}

// SetSection replaces the named section payload. Unknown names are ignored.
func (r *Record) SetSection(name string, s Section) {
	switch name {
	case SectionStructureInfo:
		r.StructureInfo = s
	case SectionTobaccoAlcohol:
		r.TobaccoAlcohol = s
	case SectionSubstanceUse:
		r.SubstanceUse = s
	case SectionBehaviorsAndTests:
		r.BehaviorsAndTests = s
	case SectionComorbidities:
		r.Comorbidities = s
	case SectionSpaDeaths:
		r.SpaDeaths = s
	}
}

// StatusLabel returns the display label for the record's status.
func (r *Record) StatusLabel() string {
	if l, ok := StatusLabels[r.Status]; ok {
		return l
	}
	return r.Status
}

// ListFilter narrows the requests list.
type ListFilter struct {
	Status     string
	Date       *time.Time
	Governorat string
	Structure  string
	Query      string
	SortBy     string
	Desc       bool
}

// Stats is the dashboard summary of records by status.
type Stats struct {
	Total    int               `json:"total"`
	ByStatus map[string]int    `json:"byStatus"`
	Labels   map[string]string `json:"labels"`
}
