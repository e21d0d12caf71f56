package duty

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidVehicle is returned when price, displacement or age cannot describe a real vehicle.
var ErrInvalidVehicle = errors.New("duty: invalid vehicle attributes")

// Schedule identifies which age bucket produced a breakdown.
type Schedule string

const (
	// ScheduleYoung applies to vehicles younger than three years.
	ScheduleYoung Schedule = "young"
	// ScheduleMidAge applies to vehicles aged three to five years.
	ScheduleMidAge Schedule = "mid_age"
	// ScheduleOld applies to vehicles aged five years or more.
	ScheduleOld Schedule = "old"
)

const (
	midAgeFromYears = 3
	oldFromYears    = 5
)

// Breakdown aggregates the candidate duties and the amount actually due.
type Breakdown struct {
	Schedule         Schedule        `json:"schedule"`
	ByPercentage     decimal.Decimal `json:"by_percentage"`
	ByEngineCapacity decimal.Decimal `json:"by_engine_capacity"`
	Chosen           decimal.Decimal `json:"chosen"`
}

// priceTier is one row of the young-vehicle schedule. A nil UpTo matches any price.
type priceTier struct {
	UpTo      *decimal.Decimal
	AdValorem decimal.Decimal
	PerCm3    decimal.Decimal
}

// displacementTier is one row of the displacement schedules. UpTo of zero matches any displacement.
type displacementTier struct {
	UpTo   int
	PerCm3 decimal.Decimal
}

var (
	youngTiers = []priceTier{
		{UpTo: bound(8500), AdValorem: rate("0.54"), PerCm3: rate("3.5")},
		{UpTo: bound(16700), AdValorem: rate("0.48"), PerCm3: rate("5.5")},
		{UpTo: bound(84500), AdValorem: rate("0.48"), PerCm3: rate("7.5")},
		{UpTo: bound(169000), AdValorem: rate("0.48"), PerCm3: rate("15")},
		{AdValorem: rate("0.48"), PerCm3: rate("20")},
	}

	midAgeTiers = []displacementTier{
		{UpTo: 1000, PerCm3: rate("1.5")},
		{UpTo: 1500, PerCm3: rate("1.7")},
		{UpTo: 1800, PerCm3: rate("2.5")},
		{UpTo: 2300, PerCm3: rate("2.7")},
		{UpTo: 3000, PerCm3: rate("3.0")},
		{PerCm3: rate("3.6")},
	}

	oldTiers = []displacementTier{
		{UpTo: 1000, PerCm3: rate("3.0")},
		{UpTo: 1500, PerCm3: rate("3.2")},
		{UpTo: 1800, PerCm3: rate("3.5")},
		{UpTo: 2300, PerCm3: rate("4.8")},
		{UpTo: 3000, PerCm3: rate("5.0")},
		{PerCm3: rate("5.7")},
	}
)

// Compute calculates the duty owed for a vehicle of the given price, engine
// displacement and age in whole years. The price is expected in the listing
// currency.
func Compute(price decimal.Decimal, engineCm3 int, ageYears int) (Breakdown, error) {
	if !price.IsPositive() || engineCm3 <= 0 || ageYears < 0 {
		return Breakdown{}, ErrInvalidVehicle
	}
	displacement := decimal.NewFromInt(int64(engineCm3))

	switch {
	case ageYears < midAgeFromYears:
		tier := lookupPrice(youngTiers, price)
		byPercentage := price.Mul(tier.AdValorem)
		byCapacity := displacement.Mul(tier.PerCm3)
		return Breakdown{
			Schedule:         ScheduleYoung,
			ByPercentage:     byPercentage,
			ByEngineCapacity: byCapacity,
			Chosen:           decimal.Max(byPercentage, byCapacity),
		}, nil
	case ageYears < oldFromYears:
		return capacityOnly(ScheduleMidAge, midAgeTiers, engineCm3, displacement), nil
	default:
		return capacityOnly(ScheduleOld, oldTiers, engineCm3, displacement), nil
	}
}

// ComputeForVehicle derives the vehicle age at now and delegates to Compute.
func ComputeForVehicle(price decimal.Decimal, engineCm3 int, reg RegistrationDate, now time.Time) (Breakdown, int, error) {
	age, err := AgeYears(reg, now)
	if err != nil {
		return Breakdown{}, 0, err
	}
	breakdown, err := Compute(price, engineCm3, age)
	if err != nil {
		return Breakdown{}, age, err
	}
	return breakdown, age, nil
}

func capacityOnly(schedule Schedule, tiers []displacementTier, engineCm3 int, displacement decimal.Decimal) Breakdown {
	tier := lookupDisplacement(tiers, engineCm3)
	byCapacity := displacement.Mul(tier.PerCm3)
	return Breakdown{
		Schedule:         schedule,
		ByPercentage:     decimal.Zero,
		ByEngineCapacity: byCapacity,
		Chosen:           byCapacity,
	}
}

// lookupPrice returns the first tier whose inclusive upper bound covers price.
func lookupPrice(tiers []priceTier, price decimal.Decimal) priceTier {
	for _, tier := range tiers {
		if tier.UpTo == nil || price.LessThanOrEqual(*tier.UpTo) {
			return tier
		}
	}
	return tiers[len(tiers)-1]
}

// lookupDisplacement returns the first tier whose inclusive upper bound covers engineCm3.
func lookupDisplacement(tiers []displacementTier, engineCm3 int) displacementTier {
	for _, tier := range tiers {
		if tier.UpTo == 0 || engineCm3 <= tier.UpTo {
			return tier
		}
	}
	return tiers[len(tiers)-1]
}

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func rate(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
