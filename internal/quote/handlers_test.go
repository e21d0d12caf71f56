package quote_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/duty-bot/internal/common"
	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/quote"
)

type quoteEnvelope struct {
	Data struct {
		Vehicle struct {
			URL               string `json:"url"`
			EngineCm3         int    `json:"engine_cm3"`
			FirstRegistration string `json:"first_registration"`
		} `json:"vehicle"`
		AgeYears int `json:"age_years"`
		Duty     struct {
			Schedule string          `json:"schedule"`
			Chosen   decimal.Decimal `json:"chosen"`
		} `json:"duty"`
		Payable decimal.Decimal `json:"payable"`
	} `json:"data"`
	Error *common.ErrorBody `json:"error"`
}

func serve(t *testing.T, h http.HandlerFunc, body string) (*httptest.ResponseRecorder, quoteEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h(rr, req)
	var env quoteEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func TestHandlerQuote(t *testing.T) {
	listings := &stubListings{vehicle: listing.Vehicle{
		Price:             decimal.NewFromInt(10000),
		EngineCm3:         1600,
		FirstRegistration: duty.RegistrationDate{Month: time.January, Year: 2017},
	}}
	h := quote.NewHandler(quote.HandlerConfig{Service: newService(listings, &stubRates{rate: decimal.NewFromInt(100)})})

	rr, env := serve(t, h.Quote, `{"url":"https://suchen.mobile.de/fahrzeuge/details.html?id=42"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Nil(t, env.Error)
	require.Equal(t, 4, env.Data.AgeYears)
	require.Equal(t, "mid_age", env.Data.Duty.Schedule)
	require.True(t, env.Data.Duty.Chosen.Equal(decimal.NewFromInt(4000)))
	require.True(t, env.Data.Payable.Equal(decimal.NewFromInt(400000)))
	require.Equal(t, "01/2017", env.Data.Vehicle.FirstRegistration)
}

func TestHandlerQuoteValidation(t *testing.T) {
	h := quote.NewHandler(quote.HandlerConfig{Service: newService(&stubListings{}, &stubRates{})})

	cases := map[string]string{
		"malformed":     `{"url":`,
		"missing url":   `{}`,
		"not a url":     `{"url":"hello"}`,
		"unknown field": `{"url":"https://www.mobile.de/details.html","x":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr, env := serve(t, h.Quote, body)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.NotNil(t, env.Error)
			require.Equal(t, "INVALID_REQUEST", env.Error.Code)
		})
	}
}

func TestHandlerQuoteMapsErrors(t *testing.T) {
	t.Run("extraction", func(t *testing.T) {
		svc := newService(&stubListings{err: fmt.Errorf("%w: no price", listing.ErrURLParseFailed)}, &stubRates{})
		rr, env := serve(t, quote.NewHandler(quote.HandlerConfig{Service: svc}).Quote, `{"url":"https://www.mobile.de/details.html"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		require.Equal(t, "ATTRIBUTE_EXTRACTION_FAILED", env.Error.Code)
		require.Empty(t, rr.Header().Get("Retry-After"))
	})
	t.Run("rate", func(t *testing.T) {
		listings := &stubListings{vehicle: listing.Vehicle{
			Price:             decimal.NewFromInt(10000),
			EngineCm3:         1600,
			FirstRegistration: duty.RegistrationDate{Month: time.January, Year: 2017},
		}}
		svc := newService(listings, &stubRates{err: currency.ErrRateUnavailable})
		rr, env := serve(t, quote.NewHandler(quote.HandlerConfig{Service: svc}).Quote, `{"url":"https://www.mobile.de/details.html"}`)
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		require.Equal(t, "INVALID_RATE", env.Error.Code)
		require.Equal(t, "30", rr.Header().Get("Retry-After"))
	})
}

func TestHandlerCalculate(t *testing.T) {
	h := quote.NewHandler(quote.HandlerConfig{Service: newService(nil, &stubRates{rate: decimal.RequireFromString("1.5")})})

	rr, env := serve(t, h.Calculate, `{"price":"8000","engine_cm3":1400,"first_registration":"01/2020"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "young", env.Data.Duty.Schedule)
	require.True(t, env.Data.Duty.Chosen.Equal(decimal.NewFromInt(4900)))
	require.True(t, env.Data.Payable.Equal(decimal.NewFromInt(7350)))
}

func TestHandlerCalculateRejectsBadInput(t *testing.T) {
	h := quote.NewHandler(quote.HandlerConfig{Service: newService(nil, &stubRates{rate: decimal.NewFromInt(1)})})

	cases := map[string]struct {
		body    string
		status  int
		message string
	}{
		"price not numeric":   {`{"price":"abc","engine_cm3":1400,"first_registration":"01/2020"}`, http.StatusBadRequest, "validation failed"},
		"zero displacement":   {`{"price":"8000","engine_cm3":0,"first_registration":"01/2020"}`, http.StatusBadRequest, "validation failed"},
		"bad registration":    {`{"price":"8000","engine_cm3":1400,"first_registration":"2020-01"}`, http.StatusBadRequest, "first_registration must look like MM/YYYY"},
		"future registration": {`{"price":"8000","engine_cm3":1400,"first_registration":"12/2030"}`, http.StatusBadRequest, "first_registration must not be in the future"},
		"negative price":      {`{"price":"-5","engine_cm3":1400,"first_registration":"01/2020"}`, http.StatusBadRequest, "price must be positive"},
		"zero price":          {`{"price":"0","engine_cm3":1400,"first_registration":"01/2020"}`, http.StatusBadRequest, "price must be positive"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr, env := serve(t, h.Calculate, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.NotNil(t, env.Error)
			require.Equal(t, "INVALID_REQUEST", env.Error.Code)
			require.Equal(t, tc.message, env.Error.Message)
			require.NotContains(t, env.Error.Message, "listing")
		})
	}
}

func TestHandlerWithoutService(t *testing.T) {
	h := quote.NewHandler(quote.HandlerConfig{})
	rr, env := serve(t, h.Quote, `{"url":"https://www.mobile.de/details.html"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "INTERNAL", env.Error.Code)
}
