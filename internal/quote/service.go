package quote

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/obs"
)

// ListingSource resolves a marketplace link into vehicle attributes.
type ListingSource interface {
	Fetch(ctx context.Context, url string) (listing.Vehicle, error)
}

// RateSource returns a fresh exchange rate (target currency per one listing currency unit).
type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

// Input carries vehicle attributes supplied directly instead of through a listing.
type Input struct {
	Price             decimal.Decimal
	EngineCm3         int
	FirstRegistration duty.RegistrationDate
}

// Result is a computed quote: the duty in the listing currency and the amount payable after conversion.
type Result struct {
	Vehicle  listing.Vehicle `json:"vehicle"`
	AgeYears int             `json:"age_years"`
	Duty     duty.Breakdown  `json:"duty"`
	Rate     decimal.Decimal `json:"rate"`
	Payable  decimal.Decimal `json:"payable"`
}

// Service chains listing lookup, duty calculation and currency conversion.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	Listings ListingSource
	Rates    RateSource
	Now      func() time.Time
}

// Quote computes the payable duty for the vehicle behind url.
func (s *Service) Quote(ctx context.Context, url string) (Result, error) {
	if s.Listings == nil {
		return Result{}, errors.New("quote: listing source not configured")
	}
	ctx, span := obs.StartSpan(ctx, "quote.Quote")
	defer span.End()

	start := time.Now()
	vehicle, err := s.Listings.Fetch(ctx, url)
	obs.ObserveUpstream("listing", resultLabel(err), obs.DurationMillis(time.Since(start)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("listing.url", vehicle.URL))
	result, err := s.calculate(ctx, vehicle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "calculate")
	}
	return result, err
}

// Calculate computes the payable duty for attributes supplied by the caller.
func (s *Service) Calculate(ctx context.Context, in Input) (Result, error) {
	ctx, span := obs.StartSpan(ctx, "quote.Calculate")
	defer span.End()

	result, err := s.calculate(ctx, listing.Vehicle{
		Price:             in.Price,
		EngineCm3:         in.EngineCm3,
		FirstRegistration: in.FirstRegistration,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "calculate")
	}
	return result, err
}

func (s *Service) calculate(ctx context.Context, vehicle listing.Vehicle) (Result, error) {
	if s.Rates == nil {
		return Result{}, errors.New("quote: rate source not configured")
	}
	breakdown, age, err := duty.ComputeForVehicle(vehicle.Price, vehicle.EngineCm3, vehicle.FirstRegistration, s.now())
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	rate, err := s.Rates.Rate(ctx)
	obs.ObserveUpstream("rate", resultLabel(err), obs.DurationMillis(time.Since(start)))
	if err != nil {
		return Result{}, err
	}
	payable, err := currency.Convert(breakdown.Chosen, rate)
	if err != nil {
		return Result{}, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("schedule", string(breakdown.Schedule)).
		Int("age_years", age).
		Str("chosen", breakdown.Chosen.String()).
		Str("rate", rate.String()).
		Str("payable", payable.String()).
		Msg("quote_computed")

	return Result{
		Vehicle:  vehicle,
		AgeYears: age,
		Duty:     breakdown,
		Rate:     rate,
		Payable:  payable,
	}, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
