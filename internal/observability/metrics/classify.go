package metrics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/normalize"
	"gorm.io/gorm"
)

const (
	ErrorTypeValidation   = "validation"
	ErrorTypeTimeout      = "timeout"
	ErrorTypeDependency   = "dependency"
	ErrorTypeDB           = "db"
	ErrorTypeBusinessRule = "business_rule"
	ErrorTypeUnknown      = "unknown"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDependencyDown       = "dependency_unavailable"
	ReasonInvalidPayload       = "invalid_payload"
	ReasonUnknown              = "unknown"
)

// ClassifyErrorType returns a low-cardinality error type for logs and metrics.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, normalize.ErrValidation):
		return ErrorTypeValidation
	case isTimeout(err):
		return ErrorTypeTimeout
	case errors.Is(err, diagnostics.ErrUnavailable),
		errors.Is(err, diagnostics.ErrUnauthorized),
		errors.Is(err, diagnostics.ErrNotConfigured):
		return ErrorTypeDependency
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeBusinessRule
	}
}

// ClassifyReason maps errors to low-cardinality reasons.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, normalize.ErrValidation):
		return ReasonInvalidPayload
	case isTimeout(err):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case errors.Is(err, diagnostics.ErrUnavailable):
		return ReasonDependencyDown
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether another attempt could succeed without operator action.
func IsRetryable(err error) bool {
	switch ClassifyErrorType(err) {
	case ErrorTypeTimeout, ErrorTypeDependency, ErrorTypeDB:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, diagnostics.ErrTimeout)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
