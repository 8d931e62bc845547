package catalog

import (
	"context"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
)

const (
	opCalculate = "catalog.calculate"

	reasonInvalidArea    = "invalid_sqft"
	reasonInvalidRate    = "invalid_rate"
	reasonInvalidSpotPct = "invalid_spot_pct"

	sqftPerThousand = 1000.0
	sqftPerAcre     = 43560.0
	liquidFormula   = "liquid"
)

// Calculate estimates the product, carrier water, and cost for treating an area at a rate.
// Rates are per 1000 sqft unless the product's rate unit is per acre.
func (s *Service) Calculate(ctx context.Context, input CalculationInput) (Calculation, error) {
	if input.Sqft <= 0 {
		return Calculation{}, failure.Validation(opCalculate, reasonInvalidArea, nil)
	}
	if input.Rate <= 0 {
		return Calculation{}, failure.Validation(opCalculate, reasonInvalidRate, nil)
	}
	spot := strings.EqualFold(strings.TrimSpace(input.Method), MethodSpotTreat)
	if spot && (input.SpotPct <= 0 || input.SpotPct > 100) {
		return Calculation{}, failure.Validation(opCalculate, reasonInvalidSpotPct, nil)
	}
	product, err := s.GetProduct(ctx, input.ProductID)
	if err != nil {
		return Calculation{}, err
	}

	treated := input.Sqft
	if spot {
		treated = input.Sqft * input.SpotPct / 100
	}
	needed := treated / sqftPerThousand * input.Rate
	if strings.Contains(strings.ToLower(product.AppRateUnit), "/acre") {
		needed = treated / sqftPerAcre * input.Rate
	}

	calculation := Calculation{
		ProductName:     product.Name,
		TreatedAreaSqft: treated,
		RateApplied:     input.Rate,
		RateUnit:        product.AppRateUnit,
		ProductNeeded:   roundTo(needed, 2),
		ProductUnit:     product.UnitOfMeasure,
		REIHours:        product.REIHours,
	}
	if volume := product.SprayVolumeGalPer1000; strings.EqualFold(product.Formulation, liquidFormula) && volume != nil && *volume > 0 {
		water := treated / sqftPerThousand * *volume
		calculation.MixDetails = &MixDetails{
			TotalWaterGal: roundTo(water, 1),
			OzPerGal:      product.MixRateOzPerGal,
		}
	}
	if unitCost, size := product.CostPerUnit, product.PackageSize; unitCost != nil && size != nil && *unitCost > 0 && *size > 0 {
		cost := roundTo(needed / *size * *unitCost, 2)
		calculation.CostEstimate = &cost
	}
	return calculation, nil
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
