package quote_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/quote"
	"github.com/noah-isme/duty-bot/internal/resilience"
)

type stubListings struct {
	vehicle listing.Vehicle
	err     error
	calls   int
}

func (s *stubListings) Fetch(_ context.Context, url string) (listing.Vehicle, error) {
	s.calls++
	if s.err != nil {
		return listing.Vehicle{}, s.err
	}
	v := s.vehicle
	v.URL = url
	return v, nil
}

type stubRates struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubRates) Rate(context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.rate, s.err
}

func fixedNow() time.Time {
	return time.Date(2021, time.March, 15, 12, 0, 0, 0, time.UTC)
}

func newService(l quote.ListingSource, r quote.RateSource) *quote.Service {
	return &quote.Service{Listings: l, Rates: r, Now: fixedNow}
}

func TestServiceQuoteYoungVehicle(t *testing.T) {
	listings := &stubListings{vehicle: listing.Vehicle{
		Title:             "VW Golf",
		Price:             decimal.NewFromInt(8000),
		EngineCm3:         1400,
		FirstRegistration: duty.RegistrationDate{Month: time.January, Year: 2020},
	}}
	rates := &stubRates{rate: decimal.RequireFromString("90.1234")}
	svc := newService(listings, rates)

	res, err := svc.Quote(context.Background(), "https://suchen.mobile.de/fahrzeuge/details.html?id=1")
	require.NoError(t, err)
	require.Equal(t, 1, res.AgeYears)
	require.Equal(t, duty.ScheduleYoung, res.Duty.Schedule)
	require.True(t, res.Duty.Chosen.Equal(decimal.NewFromInt(4900)), res.Duty.Chosen.String())
	// 4900 * 90.1234 = 441604.66
	require.True(t, res.Payable.Equal(decimal.RequireFromString("441604.66")), res.Payable.String())
	require.Equal(t, "VW Golf", res.Vehicle.Title)
	require.Equal(t, 1, rates.calls)
}

func TestServiceQuoteRoundsPayableUp(t *testing.T) {
	listings := &stubListings{vehicle: listing.Vehicle{
		Price:             decimal.NewFromInt(20000),
		EngineCm3:         1001,
		FirstRegistration: duty.RegistrationDate{Month: time.March, Year: 2017},
	}}
	svc := newService(listings, &stubRates{rate: decimal.RequireFromString("0.333")})

	res, err := svc.Quote(context.Background(), "https://m.mobile.de/auto-inserat/1.html")
	require.NoError(t, err)
	require.Equal(t, duty.ScheduleMidAge, res.Duty.Schedule)
	// 1001 * 1.7 = 1701.7; * 0.333 = 566.6661 -> 566.67
	require.True(t, res.Payable.Equal(decimal.RequireFromString("566.67")), res.Payable.String())
}

func TestServiceQuoteListingFailureSkipsRate(t *testing.T) {
	rates := &stubRates{rate: decimal.NewFromInt(90)}
	svc := newService(&stubListings{err: fmt.Errorf("%w: no price", listing.ErrURLParseFailed)}, rates)

	_, err := svc.Quote(context.Background(), "https://www.mobile.de/x")
	require.ErrorIs(t, err, listing.ErrURLParseFailed)
	require.Equal(t, quote.KindAttributeExtraction, quote.Classify(err))
	require.Zero(t, rates.calls)
}

func TestServiceQuoteRateFailures(t *testing.T) {
	vehicle := listing.Vehicle{
		Price:             decimal.NewFromInt(10000),
		EngineCm3:         1600,
		FirstRegistration: duty.RegistrationDate{Month: time.January, Year: 2014},
	}
	cases := map[string]*stubRates{
		"unavailable": {err: fmt.Errorf("%w: timeout", currency.ErrRateUnavailable)},
		"zero rate":   {rate: decimal.Zero},
		"negative":    {rate: decimal.NewFromInt(-1)},
	}
	for name, rates := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newService(&stubListings{vehicle: vehicle}, rates)
			_, err := svc.Quote(context.Background(), "https://www.mobile.de/details.html")
			require.Error(t, err)
			require.Equal(t, quote.KindInvalidRate, quote.Classify(err))
		})
	}
}

func TestServiceCalculate(t *testing.T) {
	svc := newService(nil, &stubRates{rate: decimal.NewFromInt(100)})

	res, err := svc.Calculate(context.Background(), quote.Input{
		Price:             decimal.NewFromInt(15000),
		EngineCm3:         3500,
		FirstRegistration: duty.RegistrationDate{Month: time.February, Year: 2014},
	})
	require.NoError(t, err)
	require.Equal(t, 7, res.AgeYears)
	require.Equal(t, duty.ScheduleOld, res.Duty.Schedule)
	require.True(t, res.Duty.Chosen.Equal(decimal.NewFromInt(19950)))
	require.True(t, res.Payable.Equal(decimal.NewFromInt(1995000)))
}

func TestServiceCalculateRejectsFutureRegistration(t *testing.T) {
	rates := &stubRates{rate: decimal.NewFromInt(100)}
	svc := newService(nil, rates)

	_, err := svc.Calculate(context.Background(), quote.Input{
		Price:             decimal.NewFromInt(15000),
		EngineCm3:         1500,
		FirstRegistration: duty.RegistrationDate{Month: time.April, Year: 2021},
	})
	require.ErrorIs(t, err, duty.ErrInvalidRegistration)
	require.Equal(t, quote.KindAttributeExtraction, quote.Classify(err))
	require.Zero(t, rates.calls)
}

func TestServiceNotConfigured(t *testing.T) {
	svc := &quote.Service{}
	_, err := svc.Quote(context.Background(), "https://www.mobile.de/details.html")
	require.Error(t, err)
	require.Equal(t, quote.KindInternal, quote.Classify(err))
}

func TestClassifyAndAppError(t *testing.T) {
	cases := []struct {
		err    error
		kind   quote.Kind
		status int
		code   string
		retry  bool
	}{
		{fmt.Errorf("%w: x", listing.ErrURLParseFailed), quote.KindAttributeExtraction, http.StatusUnprocessableEntity, "ATTRIBUTE_EXTRACTION_FAILED", false},
		{duty.ErrInvalidVehicle, quote.KindAttributeExtraction, http.StatusUnprocessableEntity, "ATTRIBUTE_EXTRACTION_FAILED", false},
		{currency.ErrInvalidRate, quote.KindInvalidRate, http.StatusServiceUnavailable, "INVALID_RATE", true},
		{fmt.Errorf("%w: 500", listing.ErrFetchFailed), quote.KindUnavailable, http.StatusBadGateway, "LISTING_UNAVAILABLE", true},
		{resilience.ErrOpenCircuit, quote.KindUnavailable, http.StatusBadGateway, "LISTING_UNAVAILABLE", true},
		{errors.New("boom"), quote.KindInternal, http.StatusInternalServerError, "INTERNAL", false},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String()+"/"+tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.kind, quote.Classify(tc.err))
			appErr := quote.AppError(tc.err)
			require.Equal(t, tc.status, appErr.HTTPStatus)
			require.Equal(t, tc.code, appErr.Code)
			require.Equal(t, tc.retry, appErr.RetryAfter > 0)
			require.ErrorIs(t, appErr, tc.err)
		})
	}
}
