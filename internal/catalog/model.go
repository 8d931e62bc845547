package catalog

import "time"

// Product models a catalog entry. Historical application records keep their own snapshot of the
// name, EPA number, and restricted-use flag, so admin edits here never rewrite history.
type Product struct {
	ID                    int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name                  string    `gorm:"column:name;size:256;not null;index" json:"name"`
	EPARegNumber          string    `gorm:"column:epa_reg_number;size:64" json:"epa_reg_number"`
	ActiveIngredients     string    `gorm:"column:active_ingredients;size:512" json:"active_ingredients"`
	ProductType           string    `gorm:"column:product_type;size:64" json:"product_type"`
	Formulation           string    `gorm:"column:formulation;size:64" json:"formulation"`
	UnitOfMeasure         string    `gorm:"column:unit_of_measure;size:32;not null" json:"unit_of_measure"`
	PackageSize           *float64  `gorm:"column:package_size" json:"package_size"`
	CostPerUnit           *float64  `gorm:"column:cost_per_unit" json:"cost_per_unit"`
	AppRateLow            *float64  `gorm:"column:app_rate_low" json:"app_rate_low"`
	AppRateHigh           *float64  `gorm:"column:app_rate_high" json:"app_rate_high"`
	AppRateUnit           string    `gorm:"column:app_rate_unit;size:64" json:"app_rate_unit"`
	MixRateOzPerGal       *float64  `gorm:"column:mix_rate_oz_per_gal" json:"mix_rate_oz_per_gal"`
	SprayVolumeGalPer1000 *float64  `gorm:"column:spray_volume_gal_per_1000" json:"spray_volume_gal_per_1000"`
	IsRestrictedUse       bool      `gorm:"column:is_restricted_use;not null" json:"is_restricted_use"`
	SignalWord            string    `gorm:"column:signal_word;size:32" json:"signal_word"`
	REIHours              *float64  `gorm:"column:rei_hours" json:"rei_hours"`
	DataSheetURL          string    `gorm:"column:data_sheet_url;size:512" json:"data_sheet_url"`
	Notes                 string    `gorm:"column:notes;type:text" json:"notes"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// ProductInput carries the editable catalog fields.
type ProductInput struct {
	Name                  string   `json:"name"`
	EPARegNumber          string   `json:"epa_reg_number"`
	ActiveIngredients     string   `json:"active_ingredients"`
	ProductType           string   `json:"product_type"`
	Formulation           string   `json:"formulation"`
	UnitOfMeasure         string   `json:"unit_of_measure"`
	PackageSize           *float64 `json:"package_size"`
	CostPerUnit           *float64 `json:"cost_per_unit"`
	AppRateLow            *float64 `json:"app_rate_low"`
	AppRateHigh           *float64 `json:"app_rate_high"`
	AppRateUnit           string   `json:"app_rate_unit"`
	MixRateOzPerGal       *float64 `json:"mix_rate_oz_per_gal"`
	SprayVolumeGalPer1000 *float64 `json:"spray_volume_gal_per_1000"`
	IsRestrictedUse       bool     `json:"is_restricted_use"`
	SignalWord            string   `json:"signal_word"`
	REIHours              *float64 `json:"rei_hours"`
	DataSheetURL          string   `json:"data_sheet_url"`
	Notes                 string   `json:"notes"`
	// TrackInventory starts stock tracking at a zero baseline when the product is created.
	TrackInventory   bool    `json:"track_inventory"`
	ReorderThreshold float64 `json:"reorder_threshold"`
}

func (input ProductInput) apply(product *Product) {
	product.Name = normalize(input.Name)
	product.EPARegNumber = normalize(input.EPARegNumber)
	product.ActiveIngredients = normalize(input.ActiveIngredients)
	product.ProductType = normalize(input.ProductType)
	product.Formulation = normalize(input.Formulation)
	product.UnitOfMeasure = normalize(input.UnitOfMeasure)
	product.PackageSize = input.PackageSize
	product.CostPerUnit = input.CostPerUnit
	product.AppRateLow = input.AppRateLow
	product.AppRateHigh = input.AppRateHigh
	product.AppRateUnit = normalize(input.AppRateUnit)
	product.MixRateOzPerGal = input.MixRateOzPerGal
	product.SprayVolumeGalPer1000 = input.SprayVolumeGalPer1000
	product.IsRestrictedUse = input.IsRestrictedUse
	product.SignalWord = normalize(input.SignalWord)
	product.REIHours = input.REIHours
	product.DataSheetURL = normalize(input.DataSheetURL)
	product.Notes = input.Notes
}

// ProductFilter narrows catalog listings.
type ProductFilter struct {
	Search string
	Type   string
}

// Application methods understood by the treatment calculator.
const (
	MethodBroadcast = "broadcast"
	MethodSpotTreat = "spot_treat"
)

// CalculationInput describes a planned treatment.
type CalculationInput struct {
	ProductID int64   `json:"product_id"`
	Sqft      float64 `json:"sqft"`
	Rate      float64 `json:"rate"`
	Method    string  `json:"method"`
	SpotPct   float64 `json:"spot_pct"`
}

// MixDetails is the spray mix for liquid products with a known carrier volume.
type MixDetails struct {
	TotalWaterGal float64  `json:"total_water_gal"`
	OzPerGal      *float64 `json:"oz_per_gal"`
}

// Calculation is the product, water, and cost estimate for a planned treatment.
type Calculation struct {
	ProductName     string      `json:"product_name"`
	TreatedAreaSqft float64     `json:"treated_area_sqft"`
	RateApplied     float64     `json:"rate_applied"`
	RateUnit        string      `json:"rate_unit"`
	ProductNeeded   float64     `json:"product_needed"`
	ProductUnit     string      `json:"product_unit"`
	MixDetails      *MixDetails `json:"mix_details"`
	CostEstimate    *float64    `json:"cost_estimate"`
	REIHours        *float64    `json:"rei_hours"`
}
