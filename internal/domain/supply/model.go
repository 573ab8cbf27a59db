package supply

import (
	"time"

	"github.com/google/uuid"
)

// Seizures are the quantities seized per substance over the period.
type Seizures struct {
	Cannabis      float64 `json:"cannabis"`
	TableauA      float64 `json:"tableauA"`
	EcstasyPills  float64 `json:"ecstasyPills"`
	EcstasyPowder float64 `json:"ecstasyPowder"`
	Subutex       float64 `json:"subutex"`
	Cocaine       float64 `json:"cocaine"`
	Heroin        float64 `json:"heroin"`
}

func (s Seizures) values() map[string]float64 {
	return map[string]float64{
		"cannabis":      s.Cannabis,
		"tableauA":      s.TableauA,
		"ecstasyPills":  s.EcstasyPills,
		"ecstasyPowder": s.EcstasyPowder,
		"subutex":       s.Subutex,
		"cocaine":       s.Cocaine,
		"heroin":        s.Heroin,
	}
}

// Share is a head count and its percentage of the group.
type Share struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type Accusations struct {
	Consumer   Share `json:"consumer"`
	Seller     Share `json:"seller"`
	Trafficker Share `json:"trafficker"`
}

type Gender struct {
	Male   Share `json:"male"`
	Female Share `json:"female"`
}

type AgeGroups struct {
	Under18        Share `json:"under18"`
	Between18And40 Share `json:"between18And40"`
	Over40         Share `json:"over40"`
}

type Nationality struct {
	Tunisian   Share `json:"tunisian"`
	Maghrebian Share `json:"maghrebian"`
	Others     Share `json:"others"`
}

type MaritalStatus struct {
	Single   Share `json:"single"`
	Married  Share `json:"married"`
	Divorced Share `json:"divorced"`
	Widowed  Share `json:"widowed"`
}

type Employment struct {
	Student  Share `json:"student"`
	Worker   Share `json:"worker"`
	Employee Share `json:"employee"`
}

type Demographics struct {
	Gender        Gender        `json:"gender"`
	Age           AgeGroups     `json:"age"`
	Nationality   Nationality   `json:"nationality"`
	MaritalStatus MaritalStatus `json:"maritalStatus"`
	Employment    Employment    `json:"employment"`
}

// Report maps to the supply_report table: one structure's seizure figures
// for a reporting period.
type Report struct {
	ID           uuid.UUID    `db:"id" json:"id"`
	Structure    string       `db:"structure" json:"structure"`
	PeriodStart  time.Time    `db:"period_start" json:"periodStart"`
	PeriodEnd    time.Time    `db:"period_end" json:"periodEnd"`
	Seizures     Seizures     `db:"seizures" json:"seizures"`
	Accusations  Accusations  `db:"accusations" json:"accusations"`
	Demographics Demographics `db:"demographics" json:"demographics"`
	CreatedBy    *string      `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedAt"`
}

// shareGroups returns every group of shares keyed by name, for checks
// that apply to all of them.
func (r *Report) shareGroups() map[string][]*Share {
	a, d := &r.Accusations, &r.Demographics
	return map[string][]*Share{
		"accusations":                {&a.Consumer, &a.Seller, &a.Trafficker},
		"demographics.gender":        {&d.Gender.Male, &d.Gender.Female},
		"demographics.age":           {&d.Age.Under18, &d.Age.Between18And40, &d.Age.Over40},
		"demographics.nationality":   {&d.Nationality.Tunisian, &d.Nationality.Maghrebian, &d.Nationality.Others},
		"demographics.maritalStatus": {&d.MaritalStatus.Single, &d.MaritalStatus.Married, &d.MaritalStatus.Divorced, &d.MaritalStatus.Widowed},
		"demographics.employment":    {&d.Employment.Student, &d.Employment.Worker, &d.Employment.Employee},
	}
}

// ListFilter narrows the report list. Zero values match everything.
type ListFilter struct {
	Structure string
	From      *time.Time
	To        *time.Time
}
