package applications

import (
	"strings"
	"time"
)

const (
	// RetentionRestrictedUse is the minimum retention for restricted-use pesticide records.
	RetentionRestrictedUse = 7
	// RetentionStandard is the minimum retention for every other record.
	RetentionStandard = 3

	dateLayout   = "2006-01-02"
	defaultState = "MI"
)

// LockedMessage is returned verbatim for every edit attempted on a synced record.
const LockedMessage = "Cannot edit synced application records. Records are locked for compliance."

// ProductSnapshot is the point-in-time copy of catalog fields captured with the record.
// Catalog edits never rewrite it.
type ProductSnapshot struct {
	ProductName     string `gorm:"column:product_name;size:256;not null" json:"product_name"`
	EPARegNumber    string `gorm:"column:epa_reg_number;size:64" json:"epa_reg_number"`
	IsRestrictedUse bool   `gorm:"column:is_restricted_use;not null" json:"is_restricted_use"`
}

// Record is one pesticide application event. Synced records are immutable.
type Record struct {
	ID                   int64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ApplicatorID         string   `gorm:"column:applicator_id;size:190;not null;index" json:"applicator_id"`
	ApplicatorCertNumber string   `gorm:"column:applicator_cert_number;size:64" json:"applicator_cert_number"`
	ApplicationDate      string   `gorm:"column:application_date;size:10;not null;index" json:"application_date"`
	StartTime            string   `gorm:"column:start_time;size:8" json:"start_time"`
	EndTime              string   `gorm:"column:end_time;size:8" json:"end_time"`
	PropertyID           *int64   `gorm:"column:property_id;index" json:"property_id"`
	CustomerName         string   `gorm:"column:customer_name;size:256" json:"customer_name"`
	Address              string   `gorm:"column:address;size:512;not null" json:"address"`
	City                 string   `gorm:"column:city;size:128" json:"city"`
	State                string   `gorm:"column:state;size:8" json:"state"`
	Zip                  string   `gorm:"column:zip;size:16" json:"zip"`
	PropertySqft         *float64 `gorm:"column:property_sqft" json:"property_sqft"`
	ProductID            int64    `gorm:"column:product_id;not null;index" json:"product_id"`

	ProductSnapshot `gorm:"embedded"`

	AppRateUsed                 float64   `gorm:"column:app_rate_used;not null" json:"app_rate_used"`
	AppRateUnit                 string    `gorm:"column:app_rate_unit;size:64" json:"app_rate_unit"`
	TotalProductUsed            float64   `gorm:"column:total_product_used;not null" json:"total_product_used"`
	TotalAreaTreated            float64   `gorm:"column:total_area_treated;not null" json:"total_area_treated"`
	DilutionRate                string    `gorm:"column:dilution_rate;size:64" json:"dilution_rate"`
	TotalMixVolume              *float64  `gorm:"column:total_mix_volume" json:"total_mix_volume"`
	ApplicationMethod           string    `gorm:"column:application_method;size:128" json:"application_method"`
	TargetPest                  string    `gorm:"column:target_pest;size:256" json:"target_pest"`
	TemperatureF                *float64  `gorm:"column:temperature_f" json:"temperature_f"`
	WindSpeedMPH                *float64  `gorm:"column:wind_speed_mph" json:"wind_speed_mph"`
	WindDirection               string    `gorm:"column:wind_direction;size:16" json:"wind_direction"`
	WeatherConditions           string    `gorm:"column:weather_conditions;size:256" json:"weather_conditions"`
	LawnMarkersPosted           bool      `gorm:"column:lawn_markers_posted;not null" json:"lawn_markers_posted"`
	NotificationRegistryChecked bool      `gorm:"column:notification_registry_checked;not null" json:"notification_registry_checked"`
	Notes                       string    `gorm:"column:notes;type:text" json:"notes"`
	Revenue                     *float64  `gorm:"column:revenue" json:"revenue"`
	LaborCost                   *float64  `gorm:"column:labor_cost" json:"labor_cost"`
	MaterialCost                *float64  `gorm:"column:material_cost" json:"material_cost"`
	RetentionYears              int       `gorm:"column:retention_years;not null" json:"retention_years"`
	Synced                      bool      `gorm:"column:synced;not null;index" json:"synced"`
	ClientSubmissionID          *string   `gorm:"column:client_submission_id;size:64;uniqueIndex" json:"client_submission_id,omitempty"`
	CreatedAt                   time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt                   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "applications"
}

// RetentionFor returns the retention period fixed at creation.
func RetentionFor(restrictedUse bool) int {
	if restrictedUse {
		return RetentionRestrictedUse
	}
	return RetentionStandard
}

// Submission is the flat request body for create, edit, and batch sync.
type Submission struct {
	// ClientSubmissionID is the offline queue key; repeated submissions with the same key
	// resolve to the record created first.
	ClientSubmissionID          string   `json:"client_submission_id"`
	ApplicatorCertNumber        string   `json:"applicator_cert_number"`
	ApplicationDate             string   `json:"application_date"`
	StartTime                   string   `json:"start_time"`
	EndTime                     string   `json:"end_time"`
	PropertyID                  *int64   `json:"property_id"`
	CustomerName                string   `json:"customer_name"`
	Address                     string   `json:"address"`
	City                        string   `json:"city"`
	State                       string   `json:"state"`
	Zip                         string   `json:"zip"`
	PropertySqft                *float64 `json:"property_sqft"`
	ProductID                   int64    `json:"product_id"`
	ProductName                 string   `json:"product_name"`
	EPARegNumber                string   `json:"epa_reg_number"`
	IsRestrictedUse             bool     `json:"is_restricted_use"`
	AppRateUsed                 float64  `json:"app_rate_used"`
	AppRateUnit                 string   `json:"app_rate_unit"`
	TotalProductUsed            float64  `json:"total_product_used"`
	TotalAreaTreated            float64  `json:"total_area_treated"`
	DilutionRate                string   `json:"dilution_rate"`
	TotalMixVolume              *float64 `json:"total_mix_volume"`
	ApplicationMethod           string   `json:"application_method"`
	TargetPest                  string   `json:"target_pest"`
	TemperatureF                *float64 `json:"temperature_f"`
	WindSpeedMPH                *float64 `json:"wind_speed_mph"`
	WindDirection               string   `json:"wind_direction"`
	WeatherConditions           string   `json:"weather_conditions"`
	LawnMarkersPosted           bool     `json:"lawn_markers_posted"`
	NotificationRegistryChecked bool     `json:"notification_registry_checked"`
	Notes                       string   `json:"notes"`
	Revenue                     *float64 `json:"revenue"`
	LaborCost                   *float64 `json:"labor_cost"`
	MaterialCost                *float64 `json:"material_cost"`
}

// Validate reports the first missing or malformed required field as a reason code.
func (s Submission) Validate() (string, bool) {
	date := strings.TrimSpace(s.ApplicationDate)
	if date == "" {
		return reasonMissingDate, false
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return reasonInvalidDate, false
	}
	if strings.TrimSpace(s.Address) == "" {
		return reasonMissingAddress, false
	}
	if s.ProductID <= 0 {
		return reasonMissingProduct, false
	}
	if s.TotalProductUsed == 0 {
		return reasonMissingTotalUsed, false
	}
	if s.AppRateUsed <= 0 {
		return reasonInvalidRate, false
	}
	if s.TotalAreaTreated <= 0 {
		return reasonInvalidArea, false
	}
	return "", true
}

// apply copies the editable fields onto the record. Identity, retention, lock state, and the
// submission key are owned by the manager.
func (s Submission) apply(record *Record, snapshot ProductSnapshot) {
	record.ApplicatorCertNumber = strings.TrimSpace(s.ApplicatorCertNumber)
	record.ApplicationDate = strings.TrimSpace(s.ApplicationDate)
	record.StartTime = strings.TrimSpace(s.StartTime)
	record.EndTime = strings.TrimSpace(s.EndTime)
	record.PropertyID = s.PropertyID
	record.CustomerName = strings.TrimSpace(s.CustomerName)
	record.Address = strings.TrimSpace(s.Address)
	record.City = strings.TrimSpace(s.City)
	record.State = strings.TrimSpace(s.State)
	if record.State == "" {
		record.State = defaultState
	}
	record.Zip = strings.TrimSpace(s.Zip)
	record.PropertySqft = s.PropertySqft
	record.ProductID = s.ProductID
	record.ProductSnapshot = snapshot
	record.AppRateUsed = s.AppRateUsed
	record.AppRateUnit = strings.TrimSpace(s.AppRateUnit)
	record.TotalProductUsed = s.TotalProductUsed
	record.TotalAreaTreated = s.TotalAreaTreated
	record.DilutionRate = strings.TrimSpace(s.DilutionRate)
	record.TotalMixVolume = s.TotalMixVolume
	record.ApplicationMethod = strings.TrimSpace(s.ApplicationMethod)
	record.TargetPest = strings.TrimSpace(s.TargetPest)
	record.TemperatureF = s.TemperatureF
	record.WindSpeedMPH = s.WindSpeedMPH
	record.WindDirection = strings.TrimSpace(s.WindDirection)
	record.WeatherConditions = strings.TrimSpace(s.WeatherConditions)
	record.LawnMarkersPosted = s.LawnMarkersPosted
	record.NotificationRegistryChecked = s.NotificationRegistryChecked
	record.Notes = s.Notes
	record.Revenue = s.Revenue
	record.LaborCost = s.LaborCost
	record.MaterialCost = s.MaterialCost
}

// CreateResult identifies the stored record.
type CreateResult struct {
	ID        int64 `json:"id"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// SyncItemError describes one skipped record of a batch sync.
type SyncItemError struct {
	Index  int    `json:"index"`
	Reason string `json:"error"`
}

// SyncResult summarises a batch sync.
type SyncResult struct {
	Synced int             `json:"synced"`
	IDs    []int64         `json:"ids"`
	Errors []SyncItemError `json:"errors,omitempty"`
}

// Filter narrows application listings.
type Filter struct {
	From       string
	To         string
	PropertyID int64
	Limit      int
}

// Profitability aggregates job costing across a property's applications.
type Profitability struct {
	TotalRevenue float64 `json:"total_revenue"`
	TotalCost    float64 `json:"total_cost"`
	TotalMargin  float64 `json:"total_margin"`
	MarginPct    float64 `json:"margin_pct"`
}

// PropertyActivity summarises the applications linked to a property.
type PropertyActivity struct {
	ApplicationCount    int64         `json:"application_count"`
	LastApplicationDate *string       `json:"last_application_date"`
	Profitability       Profitability `json:"profitability"`
}
