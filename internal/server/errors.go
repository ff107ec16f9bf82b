package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/authorization"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/dispatcher"
	"github.com/smallbiznis/stockline/internal/normalize"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	queueservice "github.com/smallbiznis/stockline/internal/queue/service"
	"github.com/smallbiznis/stockline/internal/stationsync"
	dbpkg "github.com/smallbiznis/stockline/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Index   *int   `json:"index,omitempty"`
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
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
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
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{validationDetail(err)},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "actor role is required",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isUnavailableError(err):
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

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, normalize.ErrValidation),
		errors.Is(err, queuedomain.ErrInvalidSource),
		errors.Is(err, queuedomain.ErrEmptySubmission),
		errors.Is(err, queuedomain.ErrNoValidItems),
		errors.Is(err, queuedomain.ErrInvalidStatus),
		errors.Is(err, queuedomain.ErrInvalidRetention),
		errors.Is(err, queuedomain.ErrInvalidPriority),
		errors.Is(err, queuedomain.ErrInvalidMaxRetries),
		errors.Is(err, queuedomain.ErrSubmissionTooLarge),
		errors.Is(err, archivedomain.ErrInvalidIMEI),
		errors.Is(err, catalogdomain.ErrInvalidSkuCode),
		errors.Is(err, catalogdomain.ErrEmptyCatalog),
		errors.Is(err, stationsync.ErrInvalidStation),
		errors.Is(err, stationsync.ErrInvalidDate),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, queuedomain.ErrItemInFlight),
		errors.Is(err, queuedomain.ErrNotClaimable),
		errors.Is(err, queueservice.ErrCleanupInProgress),
		errors.Is(err, archivedomain.ErrAlreadyArchived),
		errors.Is(err, archivedomain.ErrRestoreConflict),
		errors.Is(err, dispatcher.ErrAlreadyRunning),
		errors.Is(err, dispatcher.ErrNotRunning),
		dbpkg.ClassifyViolation(err) == dbpkg.UniqueViolation:
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, queuedomain.ErrItemNotFound),
		errors.Is(err, queuedomain.ErrBatchNotFound),
		errors.Is(err, archivedomain.ErrArchiveNotFound),
		errors.Is(err, archivedomain.ErrNothingToArchive),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isUnavailableError(err error) bool {
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, diagnostics.ErrNotConfigured),
		errors.Is(err, diagnostics.ErrUnavailable),
		errors.Is(err, diagnostics.ErrTimeout),
		errors.Is(err, diagnostics.ErrUnauthorized):
		return true
	default:
		return false
	}
}

func validationDetail(err error) ValidationError {
	var nErr *normalize.ValidationError
	if errors.As(err, &nErr) {
		return ValidationError{Field: nErr.Field, Code: nErr.Code, Message: nErr.Message}
	}
	code := validationErrorCode(err)
	return ValidationError{Field: validationErrorField(code), Code: code, Message: err.Error()}
}

func validationErrorCode(err error) string {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_source":
		return "source"
	case "invalid_status":
		return "status"
	case "invalid_retention":
		return "olderThanDays"
	case "invalid_priority":
		return "priority"
	case "invalid_max_retries":
		return "max_retries"
	case "empty_submission", "no_valid_items", "submission_too_large":
		return "items"
	case "invalid_imei":
		return "imei"
	case "invalid_sku_code", "empty_catalog_import":
		return "sku_code"
	case "invalid_station":
		return "station"
	case "invalid_date":
		return "date"
	default:
		return "request"
	}
}

// classifyErrorForLog returns the error type and code logged per request.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil || isValidationError(err) {
		return obsmetrics.ErrorTypeValidation, validationErrorCode(err)
	}
	status, payload := mapError(err)
	switch {
	case status == http.StatusServiceUnavailable:
		return obsmetrics.ErrorTypeDependency, payload.Type
	case status >= http.StatusInternalServerError:
		return obsmetrics.ClassifyErrorType(err), payload.Type
	default:
		return obsmetrics.ErrorTypeBusinessRule, payload.Type
	}
}
