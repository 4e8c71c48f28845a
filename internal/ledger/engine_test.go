package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/store/memory"
)

func newTestEngine(t *testing.T, repo store.Repository, opts Options) *Engine {
	t.Helper()
	return NewEngine(repo, zaptest.NewLogger(t), nil, opts)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, got.Equal(dec(want)), "want %d, got %s %v", want, got.String(), fmt.Sprint(msgAndArgs...))
}

func customerDue(t *testing.T, repo store.Repository, id string) decimal.Decimal {
	t.Helper()
	c, err := repo.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c.TotalDue
}

func productStock(t *testing.T, repo store.Repository, id string) int64 {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockPieces
}

// snapshot captures every running aggregate in comparable form.
func snapshot(t *testing.T, repo store.Repository) map[string]string {
	t.Helper()
	ctx := context.Background()
	out := map[string]string{}
	customers, err := repo.ListCustomers(ctx, false)
	require.NoError(t, err)
	for _, c := range customers {
		out["customer/"+c.ID] = c.TotalDue.StringFixed(2)
	}
	products, err := repo.ListProducts(ctx, false)
	require.NoError(t, err)
	for _, p := range products {
		out["product/"+p.ID] = fmt.Sprint(p.StockPieces)
	}
	return out
}

func saleCmd(customerID string, items ...domain.LineItemInput) domain.SaleCommand {
	return domain.SaleCommand{CustomerID: customerID, SaleDate: "2026-03-01", Items: items}
}

func item(productID string, pieces int64, rate int64) domain.LineItemInput {
	return domain.LineItemInput{ProductID: productID, Pieces: pieces, Rate: dec(rate)}
}

func TestSaleThenLinkedPaymentSettlesCustomer(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 5, 10)))
	require.NoError(t, err)
	assertDecimal(t, 50, sale.NetAmount)
	assertDecimal(t, 50, sale.DueAmount)
	assert.NotEmpty(t, sale.InvoiceNo)
	assertDecimal(t, 50, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(95), productStock(t, repo, "prod-001"))

	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{
		CustomerID: "cust-001",
		SaleID:     sale.ID,
		Amount:     dec(50),
		Method:     domain.PaymentMethodCash,
	})
	require.NoError(t, err)

	assertDecimal(t, 0, customerDue(t, repo, "cust-001"))
	stored, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assertDecimal(t, 50, stored.PaidAmount)
	assertDecimal(t, 0, stored.DueAmount)
}

func TestEditProductionAppliesSingleDelta(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	production, err := engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001", Pieces: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(120), productStock(t, repo, "prod-001"))

	edited, err := engine.EditProduction(ctx, production.ID, domain.ProductionCommand{ProductID: "prod-001", Pieces: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), edited.PiecesProduced)
	assert.Equal(t, production.ProducedOn, edited.ProducedOn)
	assert.Equal(t, int64(110), productStock(t, repo, "prod-001"))

	_, err = engine.DeleteProduction(ctx, production.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), productStock(t, repo, "prod-001"))
}

func TestEditProductionMovesPiecesBetweenProducts(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	production, err := engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001", Bundles: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(12), production.PiecesProduced)

	_, err = engine.EditProduction(ctx, production.ID, domain.ProductionCommand{ProductID: "prod-002", Bundles: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(100), productStock(t, repo, "prod-001"))
	assert.Equal(t, int64(72), productStock(t, repo, "prod-002"))
}

func TestProductionProductChecks(t *testing.T) {
	engine := newTestEngine(t, memory.NewSeeded(nil), Options{})
	ctx := context.Background()

	_, err := engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-404", Pieces: 1})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-003", Pieces: 1})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001"})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001", Bundles: 1537228672809129302})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bundles", verr.Field)
}

func TestPaymentRejectsSubCentAmount(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()
	before := snapshot(t, repo)

	_, err := engine.CreatePayment(ctx, domain.PaymentCommand{
		CustomerID: "cust-002",
		Amount:     decimal.RequireFromString("0.005"),
		Method:     domain.PaymentMethodCash,
	})
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
	assert.Equal(t, before, snapshot(t, repo))
}

func TestDeleteSaleRestoresStockAndDue(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	// 2 bundles of 12 plus 6 loose pieces
	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", domain.LineItemInput{ProductID: "prod-001", Bundles: 2, Pieces: 6, Rate: dec(10)}))
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, int64(30), sale.Items[0].TotalPieces)
	assertDecimal(t, 300, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(70), productStock(t, repo, "prod-001"))

	_, err = engine.DeleteSale(ctx, sale.ID)
	require.NoError(t, err)
	assertDecimal(t, 0, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(100), productStock(t, repo, "prod-001"))

	_, err = repo.GetSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSalesReturnRoundTrip(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 20, 10)))
	require.NoError(t, err)
	assertDecimal(t, 200, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(80), productStock(t, repo, "prod-001"))

	ret, err := engine.CreateSalesReturn(ctx, domain.SalesReturnCommand{
		CustomerID: "cust-001",
		SaleID:     sale.ID,
		Items:      []domain.LineItemInput{item("prod-001", 5, 10)},
	})
	require.NoError(t, err)
	assertDecimal(t, 50, ret.GrandTotal)
	assert.Equal(t, int64(85), productStock(t, repo, "prod-001"))
	assertDecimal(t, 150, customerDue(t, repo, "cust-001"))

	_, err = engine.DeleteSalesReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80), productStock(t, repo, "prod-001"))
	assertDecimal(t, 200, customerDue(t, repo, "cust-001"))
}

func TestEditSalesReturnReversesThenApplies(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	ret, err := engine.CreateSalesReturn(ctx, domain.SalesReturnCommand{
		CustomerID: "cust-002",
		Deduction:  dec(5),
		Items:      []domain.LineItemInput{item("prod-001", 4, 10)},
	})
	require.NoError(t, err)
	assertDecimal(t, 35, ret.GrandTotal)
	assertDecimal(t, 215, customerDue(t, repo, "cust-002"))

	_, err = engine.EditSalesReturn(ctx, ret.ID, domain.SalesReturnCommand{
		CustomerID: "cust-001",
		Items:      []domain.LineItemInput{item("prod-002", 2, 20)},
	})
	require.NoError(t, err)
	assertDecimal(t, 250, customerDue(t, repo, "cust-002"))
	assertDecimal(t, -40, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(100), productStock(t, repo, "prod-001"))
	assert.Equal(t, int64(62), productStock(t, repo, "prod-002"))
}

func TestDeleteUndoesCreate(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		create func(e *Engine) (string, error)
		remove func(e *Engine, id string) error
	}{
		{
			name: "sale",
			create: func(e *Engine) (string, error) {
				s, err := e.CreateSale(ctx, domain.SaleCommand{
					CustomerID: "cust-002",
					Discount:   dec(7),
					PaidAmount: dec(20),
					Items:      []domain.LineItemInput{item("prod-001", 3, 11), item("prod-002", 9, 4)},
				})
				return s.ID, err
			},
			remove: func(e *Engine, id string) error { _, err := e.DeleteSale(ctx, id); return err },
		},
		{
			name: "payment",
			create: func(e *Engine) (string, error) {
				p, err := e.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-002", Amount: decimal.RequireFromString("12.35"), Method: domain.PaymentMethodBank})
				return p.ID, err
			},
			remove: func(e *Engine, id string) error { _, err := e.DeletePayment(ctx, id); return err },
		},
		{
			name: "production",
			create: func(e *Engine) (string, error) {
				p, err := e.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-002", Bundles: 3, Pieces: 1})
				return p.ID, err
			},
			remove: func(e *Engine, id string) error { _, err := e.DeleteProduction(ctx, id); return err },
		},
		{
			name: "sales return",
			create: func(e *Engine) (string, error) {
				r, err := e.CreateSalesReturn(ctx, domain.SalesReturnCommand{CustomerID: "cust-001", Items: []domain.LineItemInput{item("prod-001", 2, 45)}})
				return r.ID, err
			},
			remove: func(e *Engine, id string) error { _, err := e.DeleteSalesReturn(ctx, id); return err },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := memory.NewSeeded(nil)
			engine := newTestEngine(t, repo, Options{})
			before := snapshot(t, repo)

			id, err := tc.create(engine)
			require.NoError(t, err)
			assert.NotEqual(t, before, snapshot(t, repo))

			require.NoError(t, tc.remove(engine, id))
			assert.Equal(t, before, snapshot(t, repo))
		})
	}
}

func TestEditSaleMatchesDeleteThenCreate(t *testing.T) {
	ctx := context.Background()
	first := domain.SaleCommand{
		CustomerID: "cust-001",
		PaidAmount: dec(10),
		Items:      []domain.LineItemInput{item("prod-001", 10, 5), item("prod-002", 1, 90)},
	}
	second := domain.SaleCommand{
		CustomerID: "cust-002",
		Discount:   dec(3),
		PaidAmount: dec(4),
		Items:      []domain.LineItemInput{item("prod-002", 7, 8)},
	}

	edited := memory.NewSeeded(nil)
	editEngine := newTestEngine(t, edited, Options{})
	sale, err := editEngine.CreateSale(ctx, first)
	require.NoError(t, err)
	_, err = editEngine.EditSale(ctx, sale.ID, second)
	require.NoError(t, err)

	replaced := memory.NewSeeded(nil)
	replaceEngine := newTestEngine(t, replaced, Options{})
	sale, err = replaceEngine.CreateSale(ctx, first)
	require.NoError(t, err)
	_, err = replaceEngine.DeleteSale(ctx, sale.ID)
	require.NoError(t, err)
	_, err = replaceEngine.CreateSale(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, snapshot(t, replaced), snapshot(t, edited))
}

func TestEditSaleKeepsLinkedPayments(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 10, 10)))
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", SaleID: sale.ID, Amount: dec(30), Method: domain.PaymentMethodCash})
	require.NoError(t, err)

	edited, err := engine.EditSale(ctx, sale.ID, saleCmd("cust-001", item("prod-001", 6, 10)))
	require.NoError(t, err)
	assertDecimal(t, 30, edited.PaidAmount)
	assertDecimal(t, 30, edited.DueAmount)
	assertDecimal(t, 30, customerDue(t, repo, "cust-001"))
	assert.Equal(t, int64(94), productStock(t, repo, "prod-001"))

	_, err = engine.EditSale(ctx, sale.ID, saleCmd("cust-002", item("prod-001", 6, 10)))
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestDeleteSaleUnlinksPayments(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 10, 10)))
	require.NoError(t, err)
	payment, err := engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", SaleID: sale.ID, Amount: dec(40), Method: domain.PaymentMethodCash})
	require.NoError(t, err)

	_, err = engine.DeleteSale(ctx, sale.ID)
	require.NoError(t, err)

	stored, err := repo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.SaleID)
	assertDecimal(t, -40, customerDue(t, repo, "cust-001"))

	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced, "%+v", report.Discrepancies)
}

func TestOverpaymentClampsSaleDue(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 10, 10)))
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", SaleID: sale.ID, Amount: dec(150), Method: domain.PaymentMethodCheque})
	require.NoError(t, err)

	stored, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assertDecimal(t, 150, stored.PaidAmount)
	assertDecimal(t, 0, stored.DueAmount)
	assertDecimal(t, -50, customerDue(t, repo, "cust-001"))
}

func TestEditPaymentMovesBetweenCustomers(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-002", item("prod-002", 2, 50)))
	require.NoError(t, err)
	assertDecimal(t, 350, customerDue(t, repo, "cust-002"))

	payment, err := engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", Amount: dec(30), Method: domain.PaymentMethodCash})
	require.NoError(t, err)
	assertDecimal(t, -30, customerDue(t, repo, "cust-001"))

	_, err = engine.EditPayment(ctx, payment.ID, domain.PaymentCommand{CustomerID: "cust-002", SaleID: sale.ID, Amount: dec(60), Method: domain.PaymentMethodMobileBanking})
	require.NoError(t, err)
	assertDecimal(t, 0, customerDue(t, repo, "cust-001"))
	assertDecimal(t, 290, customerDue(t, repo, "cust-002"))

	stored, err := repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assertDecimal(t, 60, stored.PaidAmount)
	assertDecimal(t, 40, stored.DueAmount)

	_, err = engine.DeletePayment(ctx, payment.ID)
	require.NoError(t, err)
	assertDecimal(t, 350, customerDue(t, repo, "cust-002"))
	stored, err = repo.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assertDecimal(t, 0, stored.PaidAmount)
	assertDecimal(t, 100, stored.DueAmount)
}

func TestPaymentRejectsSaleOfAnotherCustomer(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, saleCmd("cust-002", item("prod-002", 1, 90)))
	require.NoError(t, err)
	before := snapshot(t, repo)

	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", SaleID: sale.ID, Amount: dec(10), Method: domain.PaymentMethodCash})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-001", SaleID: "sale-missing", Amount: dec(10), Method: domain.PaymentMethodCash})
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, before, snapshot(t, repo))
}

func TestCreateSaleRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		cmd   domain.SaleCommand
		want  error
		field string
	}{
		{name: "unknown product", cmd: saleCmd("cust-001", item("prod-404", 1, 1)), want: store.ErrValidation, field: "items[0].product_id"},
		{name: "inactive product", cmd: saleCmd("cust-001", item("prod-001", 1, 1), item("prod-003", 1, 1)), want: store.ErrValidation, field: "items[1].product_id"},
		{name: "inactive customer", cmd: saleCmd("cust-003", item("prod-001", 1, 1)), want: store.ErrValidation, field: "customer_id"},
		{name: "unknown customer", cmd: saleCmd("cust-404", item("prod-001", 1, 1)), want: store.ErrNotFound},
		{name: "no items", cmd: saleCmd("cust-001"), want: store.ErrValidation, field: "items"},
		{name: "negative rate", cmd: saleCmd("cust-001", item("prod-001", 1, -1)), want: store.ErrValidation, field: "items[0].rate"},
		{name: "zero quantity", cmd: saleCmd("cust-001", item("prod-001", 0, 1)), want: store.ErrValidation, field: "items[0].pieces"},
		{name: "bad date", cmd: domain.SaleCommand{CustomerID: "cust-001", SaleDate: "01/03/2026", Items: []domain.LineItemInput{item("prod-001", 1, 1)}}, want: store.ErrValidation, field: "sale_date"},
		{
			name:  "sub-cent rate",
			cmd:   saleCmd("cust-001", domain.LineItemInput{ProductID: "prod-001", Pieces: 1, Rate: decimal.RequireFromString("0.005")}),
			want:  store.ErrValidation,
			field: "items[0].rate",
		},
		{
			name:  "bundle count wraps int64",
			cmd:   saleCmd("cust-001", domain.LineItemInput{ProductID: "prod-001", Bundles: 1537228672809129302, Rate: dec(1)}),
			want:  store.ErrValidation,
			field: "items[0].bundles",
		},
		{
			name:  "line amount beyond storage",
			cmd:   saleCmd("cust-001", domain.LineItemInput{ProductID: "prod-001", Pieces: 2, Rate: decimal.RequireFromString("999999999999.99")}),
			want:  store.ErrValidation,
			field: "items[0].rate",
		},
		{
			name:  "overpaid",
			cmd:   domain.SaleCommand{CustomerID: "cust-001", PaidAmount: dec(11), Items: []domain.LineItemInput{item("prod-001", 1, 10)}},
			want:  store.ErrValidation,
			field: "paid_amount",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := memory.NewSeeded(nil)
			engine := newTestEngine(t, repo, Options{})
			before := snapshot(t, repo)

			_, err := engine.CreateSale(ctx, tc.cmd)
			require.ErrorIs(t, err, tc.want)
			if tc.field != "" {
				var verr *store.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.field, verr.Field)
			}
			assert.Equal(t, before, snapshot(t, repo))

			sales, err := repo.ListSales(ctx, domain.RecordFilter{})
			require.NoError(t, err)
			assert.Empty(t, sales)
		})
	}
}

func TestNegativeStockAllowedByDefault(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})

	_, err := engine.CreateSale(context.Background(), saleCmd("cust-001", item("prod-002", 75, 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(-15), productStock(t, repo, "prod-002"))
}

func TestRejectNegativeStock(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{RejectNegativeStock: true})
	ctx := context.Background()

	_, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-002", 61, 1)))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, int64(60), productStock(t, repo, "prod-002"))

	sale, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-002", 60, 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), productStock(t, repo, "prod-002"))

	// shrinking the sale only returns stock
	_, err = engine.EditSale(ctx, sale.ID, saleCmd("cust-001", item("prod-002", 50, 1)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), productStock(t, repo, "prod-002"))

	production, err := engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001", Pieces: 5})
	require.NoError(t, err)
	_, err = engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 103, 1)))
	require.NoError(t, err)
	_, err = engine.DeleteProduction(ctx, production.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, int64(2), productStock(t, repo, "prod-001"))
}

// failingRepo runs the real unit of work but fails every due adjustment.
type failingRepo struct {
	*memory.Store
}

type failingTx struct {
	store.Tx
}

func (r failingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

func (failingTx) AdjustCustomerDue(context.Context, string, decimal.Decimal) error {
	return store.Persistence("adjust customer due", errors.New("disk full"))
}

func TestFailedAdjustmentRollsBackEverything(t *testing.T) {
	repo := failingRepo{Store: memory.NewSeeded(nil)}
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()
	before := snapshot(t, repo)

	_, err := engine.CreateSale(ctx, saleCmd("cust-001", item("prod-001", 5, 10)))
	require.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, before, snapshot(t, repo))

	sales, err := repo.ListSales(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

// conflictRepo reports a serialization conflict for the first n units.
type conflictRepo struct {
	*memory.Store
	n        int
	attempts int
}

func (r *conflictRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.attempts++
	if r.attempts <= r.n {
		return fmt.Errorf("lock customers: %w", store.ErrConflict)
	}
	return r.Store.WithinTx(ctx, fn)
}

func TestConflictIsRetried(t *testing.T) {
	repo := &conflictRepo{Store: memory.NewSeeded(nil), n: 2}
	engine := newTestEngine(t, repo, Options{MaxRetries: 3})

	_, err := engine.CreateProduction(context.Background(), domain.ProductionCommand{ProductID: "prod-001", Pieces: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.attempts)
	assert.Equal(t, int64(104), productStock(t, repo, "prod-001"))
}

func TestConflictGivesUpAfterMaxRetries(t *testing.T) {
	repo := &conflictRepo{Store: memory.NewSeeded(nil), n: 10}
	engine := newTestEngine(t, repo, Options{})

	_, err := engine.CreateProduction(context.Background(), domain.ProductionCommand{ProductID: "prod-001", Pieces: 4})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 3, repo.attempts)
	assert.Equal(t, int64(100), productStock(t, repo, "prod-001"))
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	engine := NewEngine(memory.NewSeeded(nil), zaptest.NewLogger(t), metrics, Options{})
	ctx := context.Background()

	_, err := engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-001", Pieces: 1})
	require.NoError(t, err)
	_, err = engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-404", Pieces: 1})
	require.Error(t, err)
	_, err = engine.DeletePayment(ctx, "pay-404")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues(opCreateProduction, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues(opCreateProduction, "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues(opDeletePayment, "not_found")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, MetricOperationsTotal)
	assert.Contains(t, names, MetricOperationDurationSeconds)
}

func TestReconcileDetectsDrift(t *testing.T) {
	repo := memory.NewSeeded(nil)
	engine := newTestEngine(t, repo, Options{})
	ctx := context.Background()

	sale, err := engine.CreateSale(ctx, domain.SaleCommand{CustomerID: "cust-002", PaidAmount: dec(15), Items: []domain.LineItemInput{item("prod-001", 5, 9)}})
	require.NoError(t, err)
	_, err = engine.CreatePayment(ctx, domain.PaymentCommand{CustomerID: "cust-002", SaleID: sale.ID, Amount: dec(10), Method: domain.PaymentMethodCash})
	require.NoError(t, err)
	_, err = engine.CreateProduction(ctx, domain.ProductionCommand{ProductID: "prod-002", Pieces: 3})
	require.NoError(t, err)
	_, err = engine.CreateSalesReturn(ctx, domain.SalesReturnCommand{CustomerID: "cust-002", Items: []domain.LineItemInput{item("prod-001", 1, 9)}})
	require.NoError(t, err)

	report, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced, "%+v", report.Discrepancies)
	assert.Equal(t, 3, report.CustomersChecked)
	assert.Equal(t, 3, report.ProductsChecked)

	// bypass the engine to simulate a lost update
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.AdjustProductStock(ctx, "prod-001", 1)
	}))

	report, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Balanced)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, domain.LedgerDiscrepancy{
		EntityType: "product",
		EntityID:   "prod-001",
		Field:      "stock_pieces",
		Expected:   "96",
		Actual:     "97",
	}, report.Discrepancies[0])
}
