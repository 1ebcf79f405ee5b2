package racingapi

// EntityRole identifies one of the seven entity reference roles a
// runner may carry.
type EntityRole string

// Entity roles present in the bulk payload.
const (
	RoleHorse   EntityRole = "horse"
	RoleJockey  EntityRole = "jockey"
	RoleTrainer EntityRole = "trainer"
	RoleOwner   EntityRole = "owner"
	RoleSire    EntityRole = "sire"
	RoleDam     EntityRole = "dam"
	RoleDamsire EntityRole = "damsire"
)

// AllRoles lists every entity role in extraction order.
var AllRoles = []EntityRole{
	RoleHorse, RoleJockey, RoleTrainer, RoleOwner,
	RoleSire, RoleDam, RoleDamsire,
}

// Pedigree reports whether the role is a pedigree role whose progeny
// performance is aggregated.
func (r EntityRole) Pedigree() bool {
	return r == RoleSire || r == RoleDam || r == RoleDamsire
}

// Valid reports whether the role is one of the known roles.
func (r EntityRole) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}

	return false
}

// RaceCard is one race in the bulk per-date payload. Pre-race cards
// carry empty result fields; resulted cards fill them in.
type RaceCard struct {
	RaceID           string       `json:"race_id"`
	Date             string       `json:"date"`
	Course           string       `json:"course"`
	OffTime          string       `json:"off_time"`
	Class            string       `json:"class"`
	DistanceFurlongs float64      `json:"distance_f"`
	Surface          string       `json:"surface"`
	Going            string       `json:"going"`
	Resulted         bool         `json:"resulted"`
	Runners          []RunnerCard `json:"runners"`
}

// RunnerCard is one runner embedded in a RaceCard, carrying up to
// seven (id, name) entity references plus pre- and post-race fields.
type RunnerCard struct {
	HorseID   string `json:"horse_id"`
	Horse     string `json:"horse"`
	JockeyID  string `json:"jockey_id"`
	Jockey    string `json:"jockey"`
	TrainerID string `json:"trainer_id"`
	Trainer   string `json:"trainer"`
	OwnerID   string `json:"owner_id"`
	Owner     string `json:"owner"`
	SireID    string `json:"sire_id"`
	Sire      string `json:"sire"`
	DamID     string `json:"dam_id"`
	Dam       string `json:"dam"`
	DamsireID string `json:"damsire_id"`
	Damsire   string `json:"damsire"`

	// Pre-race fields.
	Draw       *int   `json:"draw,omitempty"`
	WeightLbs  *int   `json:"weight_lbs,omitempty"`
	WeightStLb string `json:"weight,omitempty"`

	// Post-race fields. Position is textual: "1", "2", ... or a
	// non-finisher code such as "PU" or "F".
	Position   string   `json:"position,omitempty"`
	BeatenBy   *float64 `json:"btn,omitempty"`
	SPDecimal  *float64 `json:"sp_dec,omitempty"`
	SPFraction string   `json:"sp,omitempty"`
}

// HorseDetail is the per-entity enrichment payload for a horse,
// including its pedigree linkage.
type HorseDetail struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
	Sex         string `json:"sex"`
	Colour      string `json:"colour"`
	Region      string `json:"region"`
	Breeder     string `json:"breeder"`
	SireID      string `json:"sire_id"`
	Sire        string `json:"sire"`
	DamID       string `json:"dam_id"`
	Dam         string `json:"dam"`
	DamsireID   string `json:"damsire_id"`
	Damsire     string `json:"damsire"`
}

// PersonDetail is the per-entity enrichment payload for jockeys,
// trainers and owners.
type PersonDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Region   string `json:"region"`
}

// racecardsResponse is the bulk endpoint envelope.
type racecardsResponse struct {
	Races []RaceCard `json:"races"`
	Total int        `json:"total"`
}
