package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
)

// memTx mutates a private copy of the ledger state. Row locks are implicit
// because the owning Store holds its write lock for the whole unit.
type memTx struct {
	state *ledgerState
}

func (t *memTx) LockCustomers(_ context.Context, ids []string) (map[string]domain.Customer, error) {
	out := make(map[string]domain.Customer, len(ids))
	for _, id := range ids {
		c, ok := t.state.customers[id]
		if !ok {
			return nil, store.NewNotFoundError("customer", id)
		}
		out[id] = c
	}
	return out, nil
}

func (t *memTx) LockProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.state.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) AdjustCustomerDue(_ context.Context, customerID string, delta decimal.Decimal) error {
	c, ok := t.state.customers[customerID]
	if !ok {
		return store.NewNotFoundError("customer", customerID)
	}
	c.TotalDue = c.TotalDue.Add(delta)
	c.UpdatedAt = time.Now().UTC()
	t.state.customers[customerID] = c
	return nil
}

func (t *memTx) AdjustProductStock(_ context.Context, productID string, delta int64) error {
	p, ok := t.state.products[productID]
	if !ok {
		return store.NewNotFoundError("product", productID)
	}
	p.StockPieces += delta
	p.UpdatedAt = time.Now().UTC()
	t.state.products[productID] = p
	return nil
}

func (t *memTx) AdjustSalePaid(_ context.Context, saleID string, delta decimal.Decimal) error {
	sale, ok := t.state.sales[saleID]
	if !ok {
		return store.NewNotFoundError("sale", saleID)
	}
	sale.PaidAmount = sale.PaidAmount.Add(delta)
	sale.DueAmount = domain.ClampZero(sale.NetAmount.Sub(sale.PaidAmount))
	sale.UpdatedAt = time.Now().UTC()
	t.state.sales[saleID] = sale
	return nil
}

func (t *memTx) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.state.sales[id]
	if !ok {
		return nil, store.NewNotFoundError("sale", id)
	}
	out := copySale(sale)
	return &out, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.state.sales[sale.ID]; exists {
		return store.NewValidationError("id", "sale already exists")
	}
	if sale.InvoiceNo != "" {
		for _, other := range t.state.sales {
			if other.InvoiceNo == sale.InvoiceNo {
				return store.NewValidationError("invoice_no", "invoice number already in use")
			}
		}
	}
	t.state.sales[sale.ID] = copySale(sale)
	return nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := t.state.sales[sale.ID]; !ok {
		return store.NewNotFoundError("sale", sale.ID)
	}
	for id, other := range t.state.sales {
		if id != sale.ID && sale.InvoiceNo != "" && other.InvoiceNo == sale.InvoiceNo {
			return store.NewValidationError("invoice_no", "invoice number already in use")
		}
	}
	t.state.sales[sale.ID] = copySale(sale)
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, id string) error {
	if _, ok := t.state.sales[id]; !ok {
		return store.NewNotFoundError("sale", id)
	}
	delete(t.state.sales, id)
	return nil
}

func (t *memTx) UnlinkSale(_ context.Context, saleID string) error {
	for id, p := range t.state.payments {
		if p.SaleID == saleID {
			p.SaleID = ""
			t.state.payments[id] = p
		}
	}
	for id, r := range t.state.returns {
		if r.SaleID == saleID {
			r.SaleID = ""
			t.state.returns[id] = r
		}
	}
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := t.state.payments[id]
	if !ok {
		return nil, store.NewNotFoundError("payment", id)
	}
	return &p, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, exists := t.state.payments[payment.ID]; exists {
		return store.NewValidationError("id", "payment already exists")
	}
	t.state.payments[payment.ID] = payment
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, payment domain.Payment) error {
	if _, ok := t.state.payments[payment.ID]; !ok {
		return store.NewNotFoundError("payment", payment.ID)
	}
	t.state.payments[payment.ID] = payment
	return nil
}

func (t *memTx) DeletePayment(_ context.Context, id string) error {
	if _, ok := t.state.payments[id]; !ok {
		return store.NewNotFoundError("payment", id)
	}
	delete(t.state.payments, id)
	return nil
}

func (t *memTx) GetProduction(_ context.Context, id string) (*domain.Production, error) {
	p, ok := t.state.productions[id]
	if !ok {
		return nil, store.NewNotFoundError("production", id)
	}
	return &p, nil
}

func (t *memTx) InsertProduction(_ context.Context, production domain.Production) error {
	if _, exists := t.state.productions[production.ID]; exists {
		return store.NewValidationError("id", "production already exists")
	}
	t.state.productions[production.ID] = production
	return nil
}

func (t *memTx) UpdateProduction(_ context.Context, production domain.Production) error {
	if _, ok := t.state.productions[production.ID]; !ok {
		return store.NewNotFoundError("production", production.ID)
	}
	t.state.productions[production.ID] = production
	return nil
}

func (t *memTx) DeleteProduction(_ context.Context, id string) error {
	if _, ok := t.state.productions[id]; !ok {
		return store.NewNotFoundError("production", id)
	}
	delete(t.state.productions, id)
	return nil
}

func (t *memTx) GetSalesReturn(_ context.Context, id string) (*domain.SalesReturn, error) {
	r, ok := t.state.returns[id]
	if !ok {
		return nil, store.NewNotFoundError("sales return", id)
	}
	out := copyReturn(r)
	return &out, nil
}

func (t *memTx) InsertSalesReturn(_ context.Context, ret domain.SalesReturn) error {
	if _, exists := t.state.returns[ret.ID]; exists {
		return store.NewValidationError("id", "sales return already exists")
	}
	t.state.returns[ret.ID] = copyReturn(ret)
	return nil
}

func (t *memTx) UpdateSalesReturn(_ context.Context, ret domain.SalesReturn) error {
	if _, ok := t.state.returns[ret.ID]; !ok {
		return store.NewNotFoundError("sales return", ret.ID)
	}
	t.state.returns[ret.ID] = copyReturn(ret)
	return nil
}

func (t *memTx) DeleteSalesReturn(_ context.Context, id string) error {
	if _, ok := t.state.returns[id]; !ok {
		return store.NewNotFoundError("sales return", id)
	}
	delete(t.state.returns, id)
	return nil
}
