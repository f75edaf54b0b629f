package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/order-service/internal/auth"
	"github.com/vasiliy-maslov/storefront/order-service/internal/inventory"
	"github.com/vasiliy-maslov/storefront/order-service/internal/order"
)

const internalErrorMessage = "Internal server error, please try again"

type ValidationErrorResponse struct {
	Error   string             `json:"error"`
	Details []order.FieldError `json:"details"`
}

type StockErrorResponse struct {
	Error     string    `json:"error"`
	ProductID uuid.UUID `json:"product_id"`
	Available int       `json:"available"`
	Requested int       `json:"requested"`
}

func newValidator() *validator.Validate {
	validate := validator.New()
	// Report JSON names so field paths match the request body.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// formatValidationErrors turns validator errors into field paths such as items[1].quantity.
func formatValidationErrors(errs validator.ValidationErrors) []order.FieldError {
	details := make([]order.FieldError, 0, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if _, rest, found := strings.Cut(field, "."); found {
			field = rest
		}

		var message string
		switch fe.Tag() {
		case "required":
			message = "is required"
		case "min":
			message = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			message = fmt.Sprintf("must be at most %s", fe.Param())
		case "gte":
			message = fmt.Sprintf("must be greater than or equal to %s", fe.Param())
		case "lte":
			message = fmt.Sprintf("must be less than or equal to %s", fe.Param())
		case "oneof":
			message = fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
		case "uuid", "uuid4":
			message = "must be a valid UUID"
		case "email":
			message = "must be a valid email address"
		default:
			message = fmt.Sprintf("failed on %s validation", fe.Tag())
		}
		details = append(details, order.FieldError{Field: field, Message: message})
	}
	return details
}

// decodeAndValidate writes the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst any, strict bool) bool {
	decoder := json.NewDecoder(r.Body)
	if strict {
		decoder.DisallowUnknownFields()
	}

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}

	return true
}

func principalFrom(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Not authorized, no token")
	}
	return principal, ok
}

func parseIDParam(w http.ResponseWriter, raw, what string) (uuid.UUID, bool) {
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(what+"_id", raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondWithServiceError renders a domain error. Unknown errors are logged and hidden from the client.
func respondWithServiceError(w http.ResponseWriter, err error, action string) {
	var validationErr *order.ValidationError
	var stockErr *order.InsufficientStockError

	switch {
	case errors.As(err, &validationErr):
		respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error:   "Validation failed",
			Details: validationErr.Fields,
		})
	case errors.As(err, &stockErr):
		respondWithJSON(w, http.StatusConflict, StockErrorResponse{
			Error:     stockErr.Error(),
			ProductID: stockErr.ProductID,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
	default:
		code := mapErrorToStatusCode(err)
		if code == http.StatusInternalServerError {
			log.Error().Err(err).Msg("Failed to " + action)
			respondWithError(w, code, internalErrorMessage)
			return
		}
		respondWithError(w, code, clientMessage(err))
	}
}

func mapErrorToStatusCode(err error) int {
	var productNotFound *order.ProductNotFoundError
	var unavailable *order.ProductUnavailableError
	var stockErr *order.InsufficientStockError
	var validationErr *order.ValidationError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &unavailable),
		errors.Is(err, order.ErrInvalidStatusTransition), errors.Is(err, inventory.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &productNotFound), errors.Is(err, order.ErrOrderNotFound), errors.Is(err, inventory.ErrProductNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr), errors.Is(err, order.ErrConcurrentUpdate),
		errors.Is(err, order.ErrAlreadyPaid), errors.Is(err, inventory.ErrDuplicateSKU):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, inventory.ErrProductNotFound):
		return "Product not found"
	case errors.Is(err, order.ErrForbidden):
		return "Not authorized for this action"
	default:
		return err.Error()
	}
}
