// Package pricing computes itemized booking estimates in integer cents.
//
// Two strategies exist. Instant is shown before a booking is made and uses a
// flat base plus distance. Refined is used at completion and adds a duration
// based fee with refined per-type rates. Both apply weight and site
// difficulty surcharges. The calculator is pure: the same input always yields
// the same estimate.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"liftbook/internal/config"
	"liftbook/internal/models"

	"github.com/shopspring/decimal"
)

var ErrInvalidInput = errors.New("invalid pricing input")

type Strategy string

const (
	StrategyInstant Strategy = "instant"
	StrategyRefined Strategy = "refined"
)

// JobInput describes the job being priced. Nil optionals count as zero.
type JobInput struct {
	ServiceType   models.ServiceType
	DistanceKm    decimal.Decimal
	WeightKg      *decimal.Decimal
	SiteAccess    string
	DurationHours *decimal.Decimal
	// HourlyRateCents overrides the configured hourly rate when positive.
	HourlyRateCents int64
}

type Estimate struct {
	Strategy                Strategy `json:"strategy"`
	Base                    int64    `json:"base"`
	DistanceFee             int64    `json:"distance_fee"`
	DurationFee             int64    `json:"duration_fee"`
	WeightSurcharge         int64    `json:"weight_surcharge"`
	SiteDifficultySurcharge int64    `json:"site_difficulty_surcharge"`
	Total                   int64    `json:"total"`
	DepositRequired         int64    `json:"deposit_required"`
}

type Calculator struct {
	cfg config.PricingConfig
}

func NewCalculator(cfg config.PricingConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

func (c *Calculator) Instant(in JobInput) (*Estimate, error) {
	return c.Estimate(StrategyInstant, in)
}

func (c *Calculator) Refined(in JobInput) (*Estimate, error) {
	return c.Estimate(StrategyRefined, in)
}

func (c *Calculator) Estimate(strategy Strategy, in JobInput) (*Estimate, error) {
	var rates config.StrategyRates
	switch strategy {
	case StrategyInstant:
		rates = c.cfg.Instant
	case StrategyRefined:
		rates = c.cfg.Refined
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}

	if err := validate(in); err != nil {
		return nil, err
	}

	key := string(in.ServiceType)
	base, ok := rates.Base[key]
	if !ok {
		return nil, fmt.Errorf("%w: no %s rate for service type %q", ErrInvalidInput, strategy, key)
	}
	perKm, ok := rates.PerKm[key]
	if !ok {
		return nil, fmt.Errorf("%w: no %s per-km rate for service type %q", ErrInvalidInput, strategy, key)
	}

	est := &Estimate{
		Strategy:                strategy,
		Base:                    base,
		DistanceFee:             roundCents(in.DistanceKm.Mul(decimal.NewFromInt(perKm))),
		WeightSurcharge:         c.weightSurcharge(in.WeightKg),
		SiteDifficultySurcharge: c.siteSurcharge(in.SiteAccess),
	}

	if strategy == StrategyRefined && in.DurationHours != nil {
		hourly, ok := rates.Hourly[key]
		if in.HourlyRateCents > 0 {
			hourly, ok = in.HourlyRateCents, true
		}
		if !ok {
			return nil, fmt.Errorf("%w: no hourly rate for service type %q", ErrInvalidInput, key)
		}
		est.DurationFee = roundCents(in.DurationHours.Mul(decimal.NewFromInt(hourly)))
	}

	est.Total = est.Base + est.DistanceFee + est.DurationFee + est.WeightSurcharge + est.SiteDifficultySurcharge
	est.DepositRequired = deposit(est.Total, rates.DepositRate[key])

	return est, nil
}

func validate(in JobInput) error {
	if !in.ServiceType.Valid() {
		return fmt.Errorf("%w: unknown service type %q", ErrInvalidInput, in.ServiceType)
	}
	if in.DistanceKm.IsNegative() {
		return fmt.Errorf("%w: distance must not be negative", ErrInvalidInput)
	}
	if in.WeightKg != nil && in.WeightKg.IsNegative() {
		return fmt.Errorf("%w: weight must not be negative", ErrInvalidInput)
	}
	if in.DurationHours != nil && in.DurationHours.IsNegative() {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
	}
	return nil
}

// weightSurcharge charges a fixed amount per step above the threshold,
// pro rata for partial steps.
func (c *Calculator) weightSurcharge(weight *decimal.Decimal) int64 {
	if weight == nil {
		return 0
	}
	threshold := decimal.NewFromFloat(c.cfg.WeightThresholdKg)
	if weight.LessThanOrEqual(threshold) {
		return 0
	}
	steps := weight.Sub(threshold).Div(decimal.NewFromFloat(c.cfg.WeightStepKg))
	return roundCents(steps.Mul(decimal.NewFromInt(c.cfg.WeightStepCents)))
}

func (c *Calculator) siteSurcharge(siteAccess string) int64 {
	text := strings.ToLower(siteAccess)
	if text == "" {
		return 0
	}
	var total int64
	for _, rule := range c.cfg.SiteRules {
		if rule.Keyword == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(rule.Keyword)) {
			total += rule.SurchargeCents
		}
	}
	return total
}

// deposit keeps the result within [1, total] for any positive total.
func deposit(total int64, rate float64) int64 {
	if total <= 0 {
		return 0
	}
	d := roundCents(decimal.NewFromInt(total).Mul(decimal.NewFromFloat(rate)))
	if d < 1 {
		d = 1
	}
	if d > total {
		d = total
	}
	return d
}

// roundCents rounds half away from zero.
func roundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// DecimalPtr converts an optional float into an optional decimal.
func DecimalPtr(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
