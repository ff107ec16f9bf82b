package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Violation
	}{
		{name: "nil", err: nil, want: NoViolation},
		{name: "gorm_duplicate", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: UniqueViolation},
		{name: "gorm_check", err: gorm.ErrCheckConstraintViolated, want: CheckViolation},
		{name: "pg_unique", err: &pgconn.PgError{Code: "23505"}, want: UniqueViolation},
		{name: "pg_not_null", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23502"}), want: NotNullViolation},
		{name: "pg_other", err: &pgconn.PgError{Code: "40001"}, want: NoViolation},
		{name: "mysql", err: errors.New("Error 1062: Duplicate entry"), want: UniqueViolation},
		{name: "sqlite_unique", err: errors.New("UNIQUE constraint failed: devices.imei"), want: UniqueViolation},
		{name: "sqlite_check", err: errors.New("CHECK constraint failed: working_status"), want: CheckViolation},
		{name: "other", err: errors.New("connection refused"), want: NoViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyViolation(tc.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicateKeyErr(nil))
}
