package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Violation names the kind of integrity constraint a write broke.
type Violation string

const (
	NoViolation         Violation = ""
	UniqueViolation     Violation = "unique"
	ForeignKeyViolation Violation = "foreign_key"
	CheckViolation      Violation = "check"
	NotNullViolation    Violation = "not_null"
)

var pgViolations = map[string]Violation{
	"23505": UniqueViolation,
	"23503": ForeignKeyViolation,
	"23514": CheckViolation,
	"23502": NotNullViolation,
}

// Driver messages for connections opened without TranslateError, and for
// the sqlite and mysql drivers whose error types we do not import.
var messageViolations = []struct {
	fragment  string
	violation Violation
}{
	{"UNIQUE constraint failed", UniqueViolation},
	{"duplicate key value violates unique constraint", UniqueViolation},
	{"Error 1062", UniqueViolation},
	{"FOREIGN KEY constraint failed", ForeignKeyViolation},
	{"CHECK constraint failed", CheckViolation},
	{"NOT NULL constraint failed", NotNullViolation},
}

// ClassifyViolation reports which constraint err broke, if any.
func ClassifyViolation(err error) Violation {
	if err == nil {
		return NoViolation
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return UniqueViolation
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ForeignKeyViolation
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return CheckViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgViolations[pgErr.Code]
	}
	msg := err.Error()
	for _, m := range messageViolations {
		if strings.Contains(msg, m.fragment) {
			return m.violation
		}
	}
	return NoViolation
}

func IsDuplicateKeyErr(err error) bool {
	return ClassifyViolation(err) == UniqueViolation
}
