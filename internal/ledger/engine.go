package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/validation"
)

const (
	opCreateSale        = "create_sale"
	opEditSale          = "edit_sale"
	opDeleteSale        = "delete_sale"
	opCreatePayment     = "create_payment"
	opEditPayment       = "edit_payment"
	opDeletePayment     = "delete_payment"
	opCreateProduction  = "create_production"
	opEditProduction    = "edit_production"
	opDeleteProduction  = "delete_production"
	opCreateSalesReturn = "create_sales_return"
	opEditSalesReturn   = "edit_sales_return"
	opDeleteSalesReturn = "delete_sales_return"
)

type Options struct {
	// RejectNegativeStock turns any mutation that would leave a product
	// below zero pieces into store.ErrInsufficientStock. Off by default:
	// overselling is allowed and corrected by later production.
	RejectNegativeStock bool
	// MaxRetries bounds attempts when the store reports store.ErrConflict.
	MaxRetries int
}

// Engine applies sales, payments, productions and sales returns together
// with the paired adjustments to customer.total_due and
// product.stock_pieces, each inside a single store transaction.
type Engine struct {
	repo     store.Repository
	validate *validation.Validator
	metrics  *Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

func NewEngine(repo store.Repository, logger *zap.Logger, metrics *Metrics, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	return &Engine{
		repo:     repo,
		validate: validation.New(),
		metrics:  metrics,
		logger:   logger.Named("ledger"),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run validates cmd, then executes fn as one transaction, retrying the
// whole unit on store.ErrConflict.
func (e *Engine) run(ctx context.Context, op string, cmd any, fn func(tx store.Tx) error) error {
	startedAt := time.Now()

	var err error
	if cmd != nil {
		err = e.validate.Struct(cmd)
	}
	if err == nil {
		for attempt := 1; attempt <= e.opts.MaxRetries; attempt++ {
			err = e.repo.WithinTx(ctx, fn)
			if !errors.Is(err, store.ErrConflict) || ctx.Err() != nil {
				break
			}
			e.logger.Warn("ledger transaction conflict",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	e.metrics.observe(op, err, time.Since(startedAt))
	if err != nil {
		e.logger.Warn("ledger operation rolled back", zap.String("operation", op), zap.Error(err))
	}
	return err
}

func (e *Engine) logApplied(op string, id string, fields ...zap.Field) {
	e.logger.Info("ledger operation applied", append([]zap.Field{zap.String("operation", op), zap.String("id", id)}, fields...)...)
}

// guardStock enforces RejectNegativeStock for the net per-product change of
// an operation. Products whose net change is not negative are never
// rejected, even when already below zero.
func (e *Engine) guardStock(products map[string]domain.Product, net stockDelta) error {
	if !e.opts.RejectNegativeStock {
		return nil
	}
	for _, id := range net.ids() {
		delta := net[id]
		if delta >= 0 {
			continue
		}
		current := products[id].StockPieces
		if current+delta < 0 {
			return fmt.Errorf("%w: product %s has %d pieces, operation needs %d", store.ErrInsufficientStock, id, current, -delta)
		}
	}
	return nil
}

func (e *Engine) dateOr(field string, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		if fallback.IsZero() {
			now := e.now()
			return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		return fallback, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, store.NewValidationError(field, "must be a date in YYYY-MM-DD format")
	}
	return parsed.UTC(), nil
}

// stockDelta accumulates signed piece changes per product.
type stockDelta map[string]int64

func (d stockDelta) add(productID string, pieces int64) {
	d[productID] += pieces
}

func (d stockDelta) ids() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d stockDelta) negated() stockDelta {
	out := make(stockDelta, len(d))
	for id, n := range d {
		out[id] = -n
	}
	return out
}

func mergeDeltas(deltas ...stockDelta) stockDelta {
	out := stockDelta{}
	for _, d := range deltas {
		for id, n := range d {
			out[id] += n
		}
	}
	return out
}

// applyStock issues one increment per product in id order.
func applyStock(ctx context.Context, tx store.Tx, d stockDelta) error {
	for _, id := range d.ids() {
		if d[id] == 0 {
			continue
		}
		if err := tx.AdjustProductStock(ctx, id, d[id]); err != nil {
			return err
		}
	}
	return nil
}

func adjustDue(ctx context.Context, tx store.Tx, customerID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	return tx.AdjustCustomerDue(ctx, customerID, delta)
}

// line is a validated sale or return line.
type line struct {
	productID   string
	bundles     int64
	pieces      int64
	totalPieces int64
	rate        decimal.Decimal
	amount      decimal.Decimal
}

func buildLines(inputs []domain.LineItemInput, products map[string]domain.Product) ([]line, decimal.Decimal, error) {
	lines := make([]line, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		field := fmt.Sprintf("items[%d].product_id", i)
		product, ok := products[in.ProductID]
		if !ok {
			return nil, decimal.Zero, store.NewValidationError(field, fmt.Sprintf("unknown product %s", in.ProductID))
		}
		if !product.Active {
			return nil, decimal.Zero, store.NewValidationError(field, fmt.Sprintf("product %s is inactive", in.ProductID))
		}
		totalPieces, ok := domain.TotalPieces(in.Bundles, in.Pieces, product.PiecesPerBundle)
		if !ok {
			return nil, decimal.Zero, store.NewValidationError(fmt.Sprintf("items[%d].bundles", i), "quantity is too large")
		}
		if totalPieces <= 0 {
			return nil, decimal.Zero, store.NewValidationError(fmt.Sprintf("items[%d].pieces", i), "quantity must be greater than zero")
		}
		amount := in.Rate.Mul(decimal.NewFromInt(totalPieces))
		if !domain.ValidMoney(amount) {
			return nil, decimal.Zero, store.NewValidationError(fmt.Sprintf("items[%d].rate", i), "line amount is too large")
		}
		lines = append(lines, line{
			productID:   in.ProductID,
			bundles:     in.Bundles,
			pieces:      in.Pieces,
			totalPieces: totalPieces,
			rate:        in.Rate,
			amount:      amount,
		})
		total = total.Add(amount)
	}
	if !domain.ValidMoney(total) {
		return nil, decimal.Zero, store.NewValidationError("items", "total amount is too large")
	}
	return lines, total, nil
}

func linesDelta(lines []line) stockDelta {
	d := stockDelta{}
	for _, l := range lines {
		d.add(l.productID, l.totalPieces)
	}
	return d
}

func saleItemsDelta(items []domain.SaleItem) stockDelta {
	d := stockDelta{}
	for _, it := range items {
		d.add(it.ProductID, it.TotalPieces)
	}
	return d
}

func returnItemsDelta(items []domain.SalesReturnItem) stockDelta {
	d := stockDelta{}
	for _, it := range items {
		d.add(it.ProductID, it.TotalPieces)
	}
	return d
}

func inputProductIDs(inputs []domain.LineItemInput) []string {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.ProductID)
	}
	return ids
}

// uniqueSorted drops blanks and duplicates and sorts, giving every
// transaction the same row lock order.
func uniqueSorted(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
