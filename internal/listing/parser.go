package listing

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/duty-bot/internal/duty"
)

// ErrURLParseFailed is returned when a link does not lead to a recognisable vehicle listing.
var ErrURLParseFailed = errors.New("listing: url does not point to a vehicle listing")

// Vehicle holds the attributes of a listing needed to compute duty.
type Vehicle struct {
	URL               string                `json:"url"`
	Title             string                `json:"title,omitempty"`
	Price             decimal.Decimal       `json:"price"`
	EngineCm3         int                   `json:"engine_cm3"`
	FirstRegistration duty.RegistrationDate `json:"first_registration"`
}

type attribute int

const (
	attrUnknown attribute = iota
	attrPrice
	attrDisplacement
	attrRegistration
)

var labelAttributes = map[string]attribute{
	"preis":              attrPrice,
	"bruttopreis":        attrPrice,
	"price":              attrPrice,
	"gross price":        attrPrice,
	"hubraum":            attrDisplacement,
	"cubic capacity":     attrDisplacement,
	"erstzulassung":      attrRegistration,
	"first registration": attrRegistration,
}

var testIDAttributes = map[string]attribute{
	"price-item":             attrPrice,
	"cubicCapacity-item":     attrDisplacement,
	"firstRegistration-item": attrRegistration,
}

// Parse extracts vehicle attributes from a listing page.
func Parse(r io.Reader, pageURL string) (Vehicle, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Vehicle{}, fmt.Errorf("%w: %v", ErrURLParseFailed, err)
	}
	raw := collectAttributes(doc)
	if price := strings.TrimSpace(doc.Find(`[data-testid="prime-price"]`).First().Text()); price != "" {
		raw[attrPrice] = price
	}

	for _, attr := range []attribute{attrPrice, attrDisplacement, attrRegistration} {
		if raw[attr] == "" {
			return Vehicle{}, fmt.Errorf("%w: missing %s", ErrURLParseFailed, attr)
		}
	}

	price, err := ParseAmount(raw[attrPrice])
	if err != nil {
		return Vehicle{}, err
	}
	cm3, err := ParseDisplacement(raw[attrDisplacement])
	if err != nil {
		return Vehicle{}, err
	}
	reg, err := duty.ParseRegistrationDate(raw[attrRegistration])
	if err != nil {
		return Vehicle{}, fmt.Errorf("%w: %v", ErrURLParseFailed, err)
	}

	return Vehicle{
		URL:               pageURL,
		Title:             title(doc),
		Price:             price,
		EngineCm3:         cm3,
		FirstRegistration: reg,
	}, nil
}

func (a attribute) String() string {
	switch a {
	case attrPrice:
		return "price"
	case attrDisplacement:
		return "displacement"
	case attrRegistration:
		return "first registration"
	default:
		return "unknown"
	}
}

// collectAttributes walks dt/dd pairs and data-testid items. The first value seen wins.
func collectAttributes(doc *goquery.Document) map[attribute]string {
	out := make(map[attribute]string, 3)
	set := func(attr attribute, value string) {
		value = collapseSpace(value)
		if attr == attrUnknown || value == "" || out[attr] != "" {
			return
		}
		out[attr] = value
	}

	doc.Find("[data-testid]").Each(func(_ int, s *goquery.Selection) {
		testID, _ := s.Attr("data-testid")
		attr, ok := testIDAttributes[testID]
		if !ok {
			return
		}
		value := s.Find("dd").First()
		if value.Length() == 0 {
			value = s.Children().Last()
		}
		set(attr, value.Text())
	})

	doc.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		label := normaliseLabel(dt.Text())
		set(labelAttributes[label], dt.NextFiltered("dd").Text())
	})
	return out
}

func title(doc *goquery.Document) string {
	if t := collapseSpace(doc.Find(`[data-testid="ad-title"]`).First().Text()); t != "" {
		return t
	}
	return collapseSpace(doc.Find("h1").First().Text())
}

func normaliseLabel(label string) string {
	label = strings.ToLower(collapseSpace(label))
	return strings.TrimRight(label, ": ")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
