package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stockline/internal/sku"
)

var (
	ErrInvalidSkuCode = errors.New("invalid_sku_code")
	ErrEmptyCatalog   = errors.New("empty_catalog_import")
)

// MasterSku is one variant of the master catalog the matcher scores against.
type MasterSku struct {
	SkuCode     string       `gorm:"primaryKey;type:varchar(128)" json:"sku_code"`
	Description string       `gorm:"type:text" json:"description"`
	Brand       string       `gorm:"type:text" json:"brand"`
	Category    sku.Category `gorm:"type:varchar(16)" json:"category"`
	Active      bool         `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (MasterSku) TableName() string { return "master_skus" }

type Repository interface {
	// ListActive returns active SKUs ordered by sku_code.
	ListActive(ctx context.Context) ([]MasterSku, error)
	Upsert(ctx context.Context, skus []MasterSku) error
	Deactivate(ctx context.Context, skuCode string, now time.Time) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// ImportItem is one catalog row supplied by an operator.
type ImportItem struct {
	SkuCode     string `json:"sku_code"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Active      *bool  `json:"active,omitempty"`
}

type Service interface {
	// Entries returns active SKU codes with their stored category, ordered
	// by code.
	Entries(ctx context.Context) ([]sku.Entry, error)
	Keys(ctx context.Context) ([]string, error)
	Import(ctx context.Context, items []ImportItem) (int, error)
	Deactivate(ctx context.Context, skuCode string) error
	Invalidate()
}
