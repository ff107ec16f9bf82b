package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/stockline/internal/cache"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	"github.com/smallbiznis/stockline/internal/clock"
	"github.com/smallbiznis/stockline/internal/sku"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keysCacheKey = "active"
	keysTTL      = time.Minute
)

type Params struct {
	fx.In

	Repo   catalogdomain.Repository
	Engine *sku.Engine
	Clock  clock.Clock
	Log    *zap.Logger
}

type Service struct {
	repo   catalogdomain.Repository
	engine *sku.Engine
	clock  clock.Clock
	log    *zap.Logger
	keys   cache.Cache[string, []sku.Entry]
}

func New(p Params) catalogdomain.Service {
	return &Service{
		repo:   p.Repo,
		engine: p.Engine,
		clock:  p.Clock,
		log:    p.Log.Named("catalog.service"),
		keys:   cache.NewTTLCache[string, []sku.Entry](),
	}
}

func (s *Service) Entries(ctx context.Context) ([]sku.Entry, error) {
	if entries, ok := s.keys.Get(keysCacheKey); ok {
		return entries, nil
	}
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]sku.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, sku.Entry{Key: row.SkuCode, Category: row.Category})
	}
	s.keys.Set(keysCacheKey, entries, keysTTL)
	return entries, nil
}

func (s *Service) Keys(ctx context.Context) ([]string, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Import upserts catalog rows. SKU codes are stored uppercased without
// whitespace so they compare like generated keys.
func (s *Service) Import(ctx context.Context, items []catalogdomain.ImportItem) (int, error) {
	if len(items) == 0 {
		return 0, catalogdomain.ErrEmptyCatalog
	}
	now := s.clock.Now()
	rows := make([]catalogdomain.MasterSku, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		code := canonicalCode(item.SkuCode)
		if code == "" {
			return 0, fmt.Errorf("%w: item %d", catalogdomain.ErrInvalidSkuCode, i)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		active := true
		if item.Active != nil {
			active = *item.Active
		}
		rows = append(rows, catalogdomain.MasterSku{
			SkuCode:     code,
			Description: strings.TrimSpace(item.Description),
			Brand:       strings.TrimSpace(item.Brand),
			Category:    s.engine.DetectCategory(item.Description, code, item.Brand),
			Active:      active,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if err := s.repo.Upsert(ctx, rows); err != nil {
		return 0, err
	}
	s.Invalidate()
	s.log.Info("catalog.imported", zap.Int("count", len(rows)))
	return len(rows), nil
}

func (s *Service) Deactivate(ctx context.Context, skuCode string) error {
	code := canonicalCode(skuCode)
	if code == "" {
		return catalogdomain.ErrInvalidSkuCode
	}
	if _, err := s.repo.Deactivate(ctx, code, s.clock.Now()); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func (s *Service) Invalidate() {
	s.keys.Delete(keysCacheKey)
}

func canonicalCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}
