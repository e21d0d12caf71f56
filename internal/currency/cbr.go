package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCBRURL is the daily quote feed of the Central Bank of Russia mirror.
const DefaultCBRURL = "https://www.cbr-xml-daily.ru/daily_json.js"

const maxQuoteBody = 1 << 20

// Doer performs HTTP requests; resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type cbrQuote struct {
	CharCode string  `json:"CharCode"`
	Nominal  int64   `json:"Nominal"`
	Value    float64 `json:"Value"`
}

type cbrDaily struct {
	Date   string              `json:"Date"`
	Valute map[string]cbrQuote `json:"Valute"`
}

// CBRClient reads the RUB price of a foreign currency from the CBR daily feed.
// Every call hits the network; quotes are never cached.
type CBRClient struct {
	HTTP     Doer
	URL      string
	Currency string
}

// Rate returns how many roubles one unit of the configured currency costs.
func (c CBRClient) Rate(ctx context.Context) (decimal.Decimal, error) {
	daily, err := c.fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	code := c.currency()
	quote, ok := daily.Valute[code]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s missing from feed", ErrRateUnavailable, code)
	}
	value, err := RateFromFloat(quote.Value)
	if err != nil {
		return decimal.Zero, err
	}
	if quote.Nominal <= 0 {
		return decimal.Zero, fmt.Errorf("%w: nominal %d", ErrInvalidRate, quote.Nominal)
	}
	return value.Div(decimal.NewFromInt(quote.Nominal)), nil
}

// Ping checks that the feed is reachable and decodable.
func (c CBRClient) Ping(ctx context.Context) error {
	_, err := c.fetch(ctx)
	return err
}

func (c CBRClient) fetch(ctx context.Context) (cbrDaily, error) {
	if c.HTTP == nil {
		return cbrDaily{}, errors.New("currency: http client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		return cbrDaily{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return cbrDaily{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return cbrDaily{}, fmt.Errorf("%w: status %s", ErrRateUnavailable, resp.Status)
	}
	var daily cbrDaily
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxQuoteBody)).Decode(&daily); err != nil {
		return cbrDaily{}, fmt.Errorf("%w: decode feed: %v", ErrRateUnavailable, err)
	}
	return daily, nil
}

func (c CBRClient) url() string {
	if strings.TrimSpace(c.URL) == "" {
		return DefaultCBRURL
	}
	return c.URL
}

func (c CBRClient) currency() string {
	code := strings.ToUpper(strings.TrimSpace(c.Currency))
	if code == "" {
		return "EUR"
	}
	return code
}
