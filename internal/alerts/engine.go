package alerts

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bizledger/backend/internal/cache"
	"bizledger/backend/internal/domain"
)

// Source is the read side the alerts are computed from.
type Source interface {
	ListCustomers(ctx context.Context, activeOnly bool) ([]domain.Customer, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
}

// Engine computes low stock and over-credit alerts and keeps the last
// snapshot in a cache until a ledger mutation invalidates it.
type Engine struct {
	source   Source
	cache    cache.AlertCache
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// generation moves on every Invalidate so a snapshot computed across
	// an invalidation is not written back.
	generation atomic.Uint64
}

func NewEngine(source Source, cacheStore cache.AlertCache, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopAlertCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger.Named("alerts"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot returns the cached alerts when fresh and recomputes them
// otherwise. Cache failures only cost a recompute. A snapshot that raced
// an Invalidate in this process is returned but not kept; invalidations
// from other processes sharing a redis cache are only bounded by the TTL.
func (e *Engine) Snapshot(ctx context.Context) (domain.AlertSnapshot, error) {
	if cached, ok, err := e.cache.Get(ctx, cache.AlertSnapshotKey); err != nil {
		e.logger.Warn("alert cache read failed", zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	gen := e.generation.Load()
	snapshot, err := e.compute(ctx)
	if err != nil {
		return domain.AlertSnapshot{}, err
	}
	if e.generation.Load() != gen {
		return snapshot, nil
	}
	if err := e.cache.Set(ctx, cache.AlertSnapshotKey, &snapshot, e.cacheTTL); err != nil {
		e.logger.Warn("alert cache write failed", zap.Error(err))
	}
	// an Invalidate between the check and Set may have deleted before we wrote
	if e.generation.Load() != gen {
		e.dropCached(ctx)
	}
	return snapshot, nil
}

func (e *Engine) Invalidate(ctx context.Context) {
	e.generation.Add(1)
	e.dropCached(ctx)
}

func (e *Engine) dropCached(ctx context.Context) {
	if err := e.cache.Delete(ctx, cache.AlertSnapshotKey); err != nil {
		e.logger.Warn("alert cache invalidation failed", zap.Error(err))
	}
}

func (e *Engine) compute(ctx context.Context) (domain.AlertSnapshot, error) {
	products, err := e.source.ListProducts(ctx, true)
	if err != nil {
		return domain.AlertSnapshot{}, err
	}
	customers, err := e.source.ListCustomers(ctx, true)
	if err != nil {
		return domain.AlertSnapshot{}, err
	}

	snapshot := domain.AlertSnapshot{
		LowStock:    []domain.LowStockAlert{},
		OverCredit:  []domain.CreditAlert{},
		GeneratedAt: e.now(),
	}
	for _, p := range products {
		if p.StockPieces > p.MinStockAlert {
			continue
		}
		snapshot.LowStock = append(snapshot.LowStock, domain.LowStockAlert{
			ProductID:     p.ID,
			Name:          p.Name,
			StockPieces:   p.StockPieces,
			MinStockAlert: p.MinStockAlert,
		})
	}
	for _, c := range customers {
		if !c.CreditLimit.IsPositive() || !c.TotalDue.GreaterThan(c.CreditLimit) {
			continue
		}
		snapshot.OverCredit = append(snapshot.OverCredit, domain.CreditAlert{
			CustomerID:  c.ID,
			Name:        c.Name,
			TotalDue:    c.TotalDue,
			CreditLimit: c.CreditLimit,
		})
	}

	// worst first
	sort.SliceStable(snapshot.LowStock, func(i, j int) bool {
		a, b := snapshot.LowStock[i], snapshot.LowStock[j]
		return a.StockPieces-a.MinStockAlert < b.StockPieces-b.MinStockAlert
	})
	sort.SliceStable(snapshot.OverCredit, func(i, j int) bool {
		a, b := snapshot.OverCredit[i], snapshot.OverCredit[j]
		return a.TotalDue.Sub(a.CreditLimit).GreaterThan(b.TotalDue.Sub(b.CreditLimit))
	})
	return snapshot, nil
}
