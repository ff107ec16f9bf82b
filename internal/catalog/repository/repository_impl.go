package repository

import (
	"context"
	"time"

	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	"github.com/smallbiznis/stockline/pkg/db/option"
	"github.com/smallbiznis/stockline/pkg/repository"
	"gorm.io/gorm"
)

var upsertColumns = []string{"description", "brand", "category", "active", "updated_at"}

type repo struct {
	skus repository.Table[catalogdomain.MasterSku]
}

func Provide(db *gorm.DB) catalogdomain.Repository {
	return &repo{skus: repository.For[catalogdomain.MasterSku](db)}
}

func (r *repo) ListActive(ctx context.Context) ([]catalogdomain.MasterSku, error) {
	return r.skus.Find(ctx,
		option.ApplyWhere("active = ?", true),
		option.ApplyOrderBy("sku_code", "ASC"),
	)
}

func (r *repo) Upsert(ctx context.Context, skus []catalogdomain.MasterSku) error {
	return r.skus.Upsert(ctx, skus, []string{"sku_code"}, upsertColumns)
}

func (r *repo) Deactivate(ctx context.Context, skuCode string, now time.Time) (bool, error) {
	n, err := r.skus.UpdateWhere(ctx,
		map[string]any{"active": false, "updated_at": now},
		option.ApplyWhere("sku_code = ? AND active = ?", skuCode, true),
	)
	return n > 0, err
}

func (r *repo) Count(ctx context.Context) (int64, error) {
	return r.skus.Count(ctx, option.ApplyWhere("active = ?", true))
}
