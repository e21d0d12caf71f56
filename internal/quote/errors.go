package quote

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/duty-bot/internal/common"
	"github.com/noah-isme/duty-bot/internal/currency"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/listing"
	"github.com/noah-isme/duty-bot/internal/resilience"
)

// Kind groups quote failures by how they should be reported to the user.
type Kind int

const (
	// KindInternal covers programming and configuration errors.
	KindInternal Kind = iota
	// KindAttributeExtraction means the link or attributes cannot describe a vehicle; ask for another link.
	KindAttributeExtraction
	// KindInvalidRate means no usable exchange rate could be obtained; retry later.
	KindInvalidRate
	// KindUnavailable means the marketplace could not be reached; retry later.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAttributeExtraction:
		return "attribute_extraction_failed"
	case KindInvalidRate:
		return "invalid_rate"
	case KindUnavailable:
		return "listing_unavailable"
	default:
		return "internal"
	}
}

const retryLater = 30 * time.Second

// Classify maps an error returned by Service into a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, listing.ErrURLParseFailed),
		errors.Is(err, duty.ErrInvalidVehicle),
		errors.Is(err, duty.ErrInvalidRegistration):
		return KindAttributeExtraction
	case errors.Is(err, currency.ErrInvalidRate),
		errors.Is(err, currency.ErrRateUnavailable):
		return KindInvalidRate
	case errors.Is(err, listing.ErrFetchFailed),
		errors.Is(err, resilience.ErrOpenCircuit),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// AppError converts a service error into the HTTP error shape.
func AppError(err error) *common.AppError {
	switch Classify(err) {
	case KindAttributeExtraction:
		return common.NewAppError("ATTRIBUTE_EXTRACTION_FAILED", "could not read vehicle attributes from the listing", http.StatusUnprocessableEntity, err)
	case KindInvalidRate:
		return common.NewAppError("INVALID_RATE", "exchange rate unavailable, try again later", http.StatusServiceUnavailable, err).WithRetryAfter(retryLater)
	case KindUnavailable:
		return common.NewAppError("LISTING_UNAVAILABLE", "listing could not be fetched, try again later", http.StatusBadGateway, err).WithRetryAfter(retryLater)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
