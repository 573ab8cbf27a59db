package reference

import "time"

// Kinds of reference lists served under /drugs/<kind>.
const (
	KindSectors                = "sectors"
	KindStructures             = "structures"
	KindStructureTypes         = "structure-types"
	KindNGOStructures          = "ngo-structures"
	KindCountries              = "countries"
	KindGovernorates           = "governorates"
	KindCities                 = "cities"
	KindConsultancyFrames      = "consultancy-frames"
	KindOriginsOfDemand        = "origins-of-demand"
	KindConsultancyMotifs      = "consultancy-motifs"
	KindReasonsForRecidivism   = "reasons-for-recidivism"
	KindReasonsForWithdrawal   = "reasons-for-withdrawal"
	KindFamilySituations       = "family-situations"
	KindAccommodationTypes     = "accommodation-types"
	KindProfessions            = "professions"
	KindSchoolLevels           = "school-levels"
	KindEntourageTypes         = "entourage-types"
	KindConsumptionFrequencies = "consumption-frequencies"
)

var Kinds = []string{
	KindSectors, KindStructures, KindStructureTypes, KindNGOStructures,
	KindCountries, KindGovernorates, KindCities,
	KindConsultancyFrames, KindOriginsOfDemand, KindConsultancyMotifs,
	KindReasonsForRecidivism, KindReasonsForWithdrawal,
	KindFamilySituations, KindAccommodationTypes, KindProfessions,
	KindSchoolLevels, KindEntourageTypes, KindConsumptionFrequencies,
}

// OtherID is the "Other" sentinel. Lists in otherKinds always end with it.
const (
	OtherID    = -1
	OtherLabel = "Autre"
)

var otherKinds = map[string]bool{
	KindConsultancyFrames:    true,
	KindOriginsOfDemand:      true,
	KindConsultancyMotifs:    true,
	KindReasonsForRecidivism: true,
	KindReasonsForWithdrawal: true,
	KindFamilySituations:     true,
	KindAccommodationTypes:   true,
	KindEntourageTypes:       true,
}

func KnownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// AcceptsOther reports whether the list carries the "Other" sentinel.
func AcceptsOther(kind string) bool { return otherKinds[kind] }

// Item maps to the reference_item table. ParentID links cities to their
// governorate.
type Item struct {
	Kind      string    `db:"kind" json:"-"`
	ID        int       `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	ParentID  *int      `db:"parent_id" json:"parentId,omitempty"`
	Position  int       `db:"position" json:"position"`
	Active    bool      `db:"active" json:"active"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// Envelope is the response shape of the list endpoints.
type Envelope struct {
	Status int    `json:"status"`
	Body   []Item `json:"body"`
}
