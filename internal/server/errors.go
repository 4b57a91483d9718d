package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	"github.com/smallbiznis/penwork/internal/authorization"
	conversationdomain "github.com/smallbiznis/penwork/internal/conversation/domain"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	paysheetdomain "github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"github.com/smallbiznis/penwork/internal/storage"
	"github.com/smallbiznis/penwork/pkg/db"
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
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Action  string            `json:"action,omitempty"`
	Current string            `json:"current,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const (
	storageRetryAfter   = 5 * time.Second
	transientRetryAfter = time.Second
)

type errorClass struct {
	status  int
	typ     string
	message string
}

var (
	classValidation   = errorClass{http.StatusBadRequest, "validation_error", "validation error"}
	classSignature    = errorClass{http.StatusBadRequest, "invalid_signature", "invalid signature"}
	classUnauthorized = errorClass{http.StatusUnauthorized, "unauthorized", "unauthorized"}
	classForbidden    = errorClass{http.StatusForbidden, "forbidden", "forbidden"}
	classNotFound     = errorClass{http.StatusNotFound, "not_found", "not found"}
	classConflict     = errorClass{http.StatusConflict, "conflict", "conflict"}
	classTransition   = errorClass{http.StatusUnprocessableEntity, "invalid_transition", "action not allowed in the current state"}
	classRateLimited  = errorClass{http.StatusTooManyRequests, "rate_limited", "too many requests"}
	classUnavailable  = errorClass{http.StatusServiceUnavailable, "service_unavailable", "service unavailable"}
	classInternal     = errorClass{http.StatusInternalServerError, "internal_error", "internal server error"}
)

// sentinelClasses is matched in order with errors.Is.
var sentinelClasses = []struct {
	err   error
	class errorClass
}{
	{ErrInvalidRequest, classValidation},
	{assignmentdomain.ErrInvalidID, classValidation},
	{assignmentdomain.ErrInvalidTitle, classValidation},
	{assignmentdomain.ErrInvalidClient, classValidation},
	{assignmentdomain.ErrInvalidWriter, classValidation},
	{assignmentdomain.ErrInvalidPrice, classValidation},
	{assignmentdomain.ErrInvalidWriterPrice, classValidation},
	{assignmentdomain.ErrClientPriceRequired, classValidation},
	{assignmentdomain.ErrInvalidPaymentMethod, classValidation},
	{assignmentdomain.ErrProofRequired, classValidation},
	{assignmentdomain.ErrFilesRequired, classValidation},
	{assignmentdomain.ErrWriterRequired, classValidation},
	{assignmentdomain.ErrUnknownStatus, classValidation},
	{paymentdomain.ErrInvalidPayload, classValidation},
	{paymentdomain.ErrInvalidTarget, classValidation},
	{paymentdomain.ErrInvalidAmount, classValidation},
	{paymentdomain.ErrOrderMismatch, classValidation},
	{paymentdomain.ErrProofRequired, classValidation},
	{paysheetdomain.ErrInvalidPaysheetID, classValidation},
	{paysheetdomain.ErrInvalidStatus, classValidation},
	{paysheetdomain.ErrProofRequired, classValidation},
	{conversationdomain.ErrInvalidTarget, classValidation},
	{conversationdomain.ErrEmptyMessage, classValidation},
	{conversationdomain.ErrMessageTooLong, classValidation},
	{assignmentdomain.ErrInvalidPageToken, classValidation},
	{conversationdomain.ErrInvalidPageToken, classValidation},
	{auditdomain.ErrInvalidPageToken, classValidation},
	{auditdomain.ErrInvalidTimeRange, classValidation},
	{storage.ErrEmptyFile, classValidation},
	{storage.ErrInvalidReference, classValidation},

	{paymentdomain.ErrInvalidSignature, classSignature},

	{ErrUnauthorized, classUnauthorized},
	{authorization.ErrInvalidActor, classUnauthorized},

	{ErrForbidden, classForbidden},
	{authorization.ErrForbidden, classForbidden},
	{assignmentdomain.ErrNotParty, classForbidden},

	{ErrNotFound, classNotFound},
	{assignmentdomain.ErrNotFound, classNotFound},
	{paymentdomain.ErrOrderNotFound, classNotFound},
	{paymentdomain.ErrProviderNotFound, classNotFound},
	{paysheetdomain.ErrPaysheetNotFound, classNotFound},
	{conversationdomain.ErrNotFound, classNotFound},
	{storage.ErrFileNotFound, classNotFound},
	{gorm.ErrRecordNotFound, classNotFound},

	{assignmentdomain.ErrInvalidTransition, classTransition},

	{ErrConflict, classConflict},
	{assignmentdomain.ErrConflict, classConflict},
	{assignmentdomain.ErrAlreadyAssigned, classConflict},
	{assignmentdomain.ErrPriceLocked, classConflict},
	{assignmentdomain.ErrPayoutNotEligible, classConflict},
	{assignmentdomain.ErrPayoutAlreadyPending, classConflict},
	{assignmentdomain.ErrPayoutReference, classConflict},
	{assignmentdomain.ErrPayoutRecorded, classConflict},
	{paymentdomain.ErrOrderNotPending, classConflict},
	{paysheetdomain.ErrNothingDue, classConflict},
	{paysheetdomain.ErrNothingPending, classConflict},

	{ErrServiceUnavailable, classUnavailable},
	{storage.ErrStorageUnavailable, classUnavailable},
	{paymentdomain.ErrGatewayDisabled, classUnavailable},
	{paymentdomain.ErrInvalidConfig, classUnavailable},
	{conversationdomain.ErrNoSupportAdmin, classUnavailable},
	{paysheetdomain.ErrAggregationInconsistency, classUnavailable},
	{ratelimit.ErrLockNotAcquired, classUnavailable},

	{ErrInternal, classInternal},
}

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
		if wait, ok := retryAfter(lastErr.Err); ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
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
		return classInternal.status, classInternal.payload("")
	}

	if vErr := asValidationErrors(err); vErr != nil {
		payload := classValidation.payload("")
		payload.Errors = vErr.Errors
		return classValidation.status, payload
	}

	var transitionErr *assignmentdomain.TransitionError
	if errors.As(err, &transitionErr) {
		payload := classTransition.payload(assignmentdomain.ErrInvalidTransition.Error())
		payload.Action = string(transitionErr.Action)
		payload.Current = transitionErr.Current
		return classTransition.status, payload
	}

	var rateErr *paymentdomain.RateLimitError
	if errors.As(err, &rateErr) {
		return classRateLimited.status, classRateLimited.payload("rate_limited")
	}

	for _, entry := range sentinelClasses {
		if !errors.Is(err, entry.err) {
			continue
		}
		code := entry.err.Error()
		payload := entry.class.payload(code)
		if current, ok := assignmentdomain.CurrentState(err); ok {
			payload.Current = current
		}
		if entry.class == classValidation {
			payload.Errors = []ValidationError{{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			}}
		}
		return entry.class.status, payload
	}

	if db.IsTransient(err) {
		return classUnavailable.status, classUnavailable.payload("storage_busy")
	}
	return classInternal.status, classInternal.payload("")
}

func (c errorClass) payload(code string) errorPayload {
	return errorPayload{Type: c.typ, Code: code, Message: c.message}
}

// retryAfter reports how long a caller should wait before retrying.
func retryAfter(err error) (time.Duration, bool) {
	var rateErr *paymentdomain.RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.RetryAfter <= 0 {
			return time.Second, true
		}
		return rateErr.RetryAfter, true
	}
	switch {
	case errors.Is(err, storage.ErrStorageUnavailable),
		errors.Is(err, paysheetdomain.ErrAggregationInconsistency):
		return storageRetryAfter, true
	case errors.Is(err, ratelimit.ErrLockNotAcquired):
		return transientRetryAfter, true
	case db.IsTransient(err):
		return transientRetryAfter, true
	}
	return 0, false
}

// classifyErrorForLog feeds error_type and error_code into request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	case strings.HasSuffix(code, "_required"):
		return strings.TrimSuffix(code, "_required")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch {
	case code == "invalid_request":
		return "invalid request"
	case strings.HasSuffix(code, "_required"):
		return "value is required"
	default:
		return "invalid value"
	}
}
