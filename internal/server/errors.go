package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/lock"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, lock.ErrLockContention):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code logged with a failed
// request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, ""
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case errors.Is(err, commissiondomain.ErrInvalidExternalRef),
		errors.Is(err, commissiondomain.ErrInvalidPayer),
		errors.Is(err, commissiondomain.ErrInvalidAmount),
		errors.Is(err, commissiondomain.ErrInvalidTransactionType),
		errors.Is(err, commissiondomain.ErrInvalidReason),
		errors.Is(err, commissiondomain.ErrInvalidActor),
		errors.Is(err, commissiondomain.ErrNoChange),
		errors.Is(err, commissiondomain.ErrInvalidTier):
		return true
	case errors.Is(err, networkdomain.ErrInvalidSubscriptionStatus),
		errors.Is(err, networkdomain.ErrInvalidTier),
		errors.Is(err, networkdomain.ErrReferrerNotFound):
		return true
	case errors.Is(err, qualificationdomain.ErrInvalidPeriod),
		errors.Is(err, volumedomain.ErrInvalidPeriod):
		return true
	case errors.Is(err, rewarddomain.ErrInvalidQuantity),
		errors.Is(err, rewarddomain.ErrInvalidReason),
		errors.Is(err, rewarddomain.ErrInvalidActor):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, networkdomain.ErrMemberExists),
		errors.Is(err, commissiondomain.ErrCommissionNotPending),
		errors.Is(err, commissiondomain.ErrCommissionNotPaid),
		errors.Is(err, commissiondomain.ErrInsufficientBalance),
		errors.Is(err, commissiondomain.ErrDuplicateLedgerEntry),
		errors.Is(err, qualificationdomain.ErrVolumeMissing),
		errors.Is(err, rewarddomain.ErrInvalidTransition),
		errors.Is(err, rewarddomain.ErrOutOfStock):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, networkdomain.ErrMemberNotFound),
		errors.Is(err, commissiondomain.ErrPayerNotFound),
		errors.Is(err, commissiondomain.ErrCommissionNotFound),
		errors.Is(err, qualificationdomain.ErrMemberNotFound),
		errors.Is(err, rewarddomain.ErrRewardNotFound),
		errors.Is(err, rewarddomain.ErrMemberNotFound),
		errors.Is(err, rewarddomain.ErrAllocationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
