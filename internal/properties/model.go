package properties

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
)

const defaultState = "MI"

// Property is a customer site. Sqft mirrors the zone total whenever zones exist.
type Property struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CustomerName string    `gorm:"column:customer_name;size:256;not null;index" json:"customer_name"`
	Address      string    `gorm:"column:address;size:512;not null" json:"address"`
	City         string    `gorm:"column:city;size:128" json:"city"`
	State        string    `gorm:"column:state;size:8" json:"state"`
	Zip          string    `gorm:"column:zip;size:16" json:"zip"`
	Sqft         *float64  `gorm:"column:sqft" json:"sqft"`
	SoilType     string    `gorm:"column:soil_type;size:64" json:"soil_type"`
	Notes        string    `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Property) TableName() string {
	return "properties"
}

// Zone is a named sub-area of a property.
type Zone struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PropertyID int64     `gorm:"column:property_id;not null;index" json:"property_id"`
	ZoneName   string    `gorm:"column:zone_name;size:128;not null" json:"zone_name"`
	Sqft       float64   `gorm:"column:sqft;not null" json:"sqft"`
	SortOrder  int       `gorm:"column:sort_order;not null" json:"sort_order"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Zone) TableName() string {
	return "property_zones"
}

// Input carries the fields for property create and import.
type Input struct {
	CustomerName string   `json:"customer_name"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	Zip          string   `json:"zip"`
	Sqft         *float64 `json:"sqft"`
	SoilType     string   `json:"soil_type"`
	Notes        string   `json:"notes"`
}

func (input Input) build(now time.Time) Property {
	state := strings.TrimSpace(input.State)
	if state == "" {
		state = defaultState
	}
	return Property{
		CustomerName: strings.TrimSpace(input.CustomerName),
		Address:      strings.TrimSpace(input.Address),
		City:         strings.TrimSpace(input.City),
		State:        state,
		Zip:          strings.TrimSpace(input.Zip),
		Sqft:         input.Sqft,
		SoilType:     strings.TrimSpace(input.SoilType),
		Notes:        input.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (input Input) complete() bool {
	return strings.TrimSpace(input.CustomerName) != "" && strings.TrimSpace(input.Address) != ""
}

// Update carries a partial property edit. Nil fields keep their stored value.
type Update struct {
	CustomerName *string  `json:"customer_name"`
	Address      *string  `json:"address"`
	City         *string  `json:"city"`
	State        *string  `json:"state"`
	Zip          *string  `json:"zip"`
	Sqft         *float64 `json:"sqft"`
	SoilType     *string  `json:"soil_type"`
	Notes        *string  `json:"notes"`
}

// Filter narrows property listings.
type Filter struct {
	Search string
	Limit  int
}

// Detail is a property with its zones and application activity.
type Detail struct {
	Property
	Zones []Zone `json:"zones"`
	applications.PropertyActivity
	ActiveIPMCases int64 `json:"active_ipm_cases"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// ZoneInput carries the fields for a new zone.
type ZoneInput struct {
	ZoneName string  `json:"zone_name"`
	Sqft     float64 `json:"sqft"`
}

// ZoneUpdate carries a partial zone edit.
type ZoneUpdate struct {
	ZoneName *string  `json:"zone_name"`
	Sqft     *float64 `json:"sqft"`
}

// ZoneResult returns the affected zone and the recomputed zone total.
type ZoneResult struct {
	Zone      *Zone   `json:"zone,omitempty"`
	TotalSqft float64 `json:"total_sqft"`
}
