// Package repository offers a typed gorm accessor for simple models that
// need no hand-written SQL.
package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/stockline/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBatchSize = 500

// Table reads and writes rows of T.
type Table[T any] struct {
	db *gorm.DB
}

func For[T any](db *gorm.DB) Table[T] {
	return Table[T]{db: db}
}

// WithTx returns a Table bound to tx.
func (t Table[T]) WithTx(tx *gorm.DB) Table[T] {
	return Table[T]{db: tx}
}

func (t Table[T]) query(ctx context.Context, opts []option.QueryOption) *gorm.DB {
	stmt := t.db.WithContext(ctx).Model(new(T))
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

func (t Table[T]) Find(ctx context.Context, opts ...option.QueryOption) ([]T, error) {
	rows := []T{}
	err := t.query(ctx, opts).Find(&rows).Error
	return rows, err
}

// First returns nil without error when no row matches.
func (t Table[T]) First(ctx context.Context, opts ...option.QueryOption) (*T, error) {
	var row T
	err := t.query(ctx, opts).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (t Table[T]) Count(ctx context.Context, opts ...option.QueryOption) (int64, error) {
	var n int64
	err := t.query(ctx, opts).Count(&n).Error
	return n, err
}

// Upsert inserts rows in batches. Rows that collide on conflict get the
// update columns overwritten.
func (t Table[T]) Upsert(ctx context.Context, rows []T, conflict []string, update []string) error {
	if len(rows) == 0 {
		return nil
	}
	columns := make([]clause.Column, 0, len(conflict))
	for _, name := range conflict {
		columns = append(columns, clause.Column{Name: name})
	}
	return t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   columns,
		DoUpdates: clause.AssignmentColumns(update),
	}).CreateInBatches(rows, defaultBatchSize).Error
}

// UpdateWhere applies values to every row matching opts and reports how many
// changed.
func (t Table[T]) UpdateWhere(ctx context.Context, values map[string]any, opts ...option.QueryOption) (int64, error) {
	res := t.query(ctx, opts).Updates(values)
	return res.RowsAffected, res.Error
}
