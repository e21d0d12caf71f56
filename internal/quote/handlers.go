package quote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/duty-bot/internal/common"
	"github.com/noah-isme/duty-bot/internal/duty"
	"github.com/noah-isme/duty-bot/internal/obs"
)

const maxRequestBody = 16 << 10

// Quoter is the subset of Service used by the HTTP handlers.
type Quoter interface {
	Quote(ctx context.Context, url string) (Result, error)
	Calculate(ctx context.Context, in Input) (Result, error)
}

// Handler exposes the quote endpoints.
type Handler struct {
	svc      Quoter
	validate *validator.Validate
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service   Quoter
	Validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{svc: cfg.Service, validate: v}
}

type quoteRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

type calculationRequest struct {
	Price             string `json:"price" validate:"required,numeric"`
	EngineCm3         int    `json:"engine_cm3" validate:"required,gt=0"`
	FirstRegistration string `json:"first_registration" validate:"required"`
}

// Quote handles POST /api/v1/quotes.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	start := time.Now()
	result, err := h.svc.Quote(r.Context(), req.URL)
	h.observe(r.Context(), start, err)
	if err != nil {
		common.WriteError(w, AppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Calculate handles POST /api/v1/calculations.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req calculationRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "price must be a decimal number", nil)
		return
	}
	reg, err := duty.ParseRegistrationDate(req.FirstRegistration)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "first_registration must look like MM/YYYY", nil)
		return
	}
	start := time.Now()
	result, err := h.svc.Calculate(r.Context(), Input{Price: price, EngineCm3: req.EngineCm3, FirstRegistration: reg})
	h.observe(r.Context(), start, err)
	if err != nil {
		// attributes come from the caller here, not from a listing
		if Classify(err) == KindAttributeExtraction {
			common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", invalidInputMessage(err), nil)
			return
		}
		common.WriteError(w, AppError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "validation failed", validationDetails(err))
		return false
	}
	return true
}

func (h *Handler) observe(ctx context.Context, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = Classify(err).String()
		evt := zerolog.Ctx(ctx).Warn()
		if Classify(err) == KindInternal {
			evt = zerolog.Ctx(ctx).Error()
		}
		evt.Err(err).Str("kind", result).Msg("quote_failed")
	}
	obs.ObserveQuote("api", result, obs.DurationMillis(time.Since(start)))
}

func invalidInputMessage(err error) string {
	if errors.Is(err, duty.ErrInvalidRegistration) {
		return "first_registration must not be in the future"
	}
	return "price must be positive"
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
