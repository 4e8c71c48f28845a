package postgres

import (
	"context"
	"database/sql"
	"errors"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	saleColumns = `s.id, s.invoice_no, s.customer_id, s.sale_date, s.total_amount, s.discount, s.net_amount,
		s.initial_paid, s.paid_amount, s.due_amount, COALESCE(s.note, ''), s.created_by, s.created_at, s.updated_at`
	paymentColumns = `id, customer_id, COALESCE(sale_id, ''), amount, method, paid_on, COALESCE(note, ''),
		created_by, created_at, updated_at`
	productionColumns = `id, product_id, bundles, pieces, pieces_produced, produced_on, COALESCE(note, ''),
		created_by, created_at, updated_at`
	returnColumns = `r.id, r.customer_id, COALESCE(r.sale_id, ''), r.return_date, r.total_amount, r.deduction,
		r.grand_total, COALESCE(r.note, ''), r.created_by, r.created_at, r.updated_at`
)

func scanCustomer(sc scanner) (domain.Customer, error) {
	var c domain.Customer
	err := sc.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.OpeningBalance, &c.TotalDue, &c.CreditLimit, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

func scanProduct(sc scanner) (domain.Product, error) {
	var p domain.Product
	err := sc.Scan(&p.ID, &p.Name, &p.Code, &p.UnitPrice, &p.OpeningStock, &p.StockPieces, &p.PiecesPerBundle, &p.MinStockAlert, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanSale(sc scanner) (domain.Sale, error) {
	var s domain.Sale
	err := sc.Scan(&s.ID, &s.InvoiceNo, &s.CustomerID, &s.SaleDate, &s.TotalAmount, &s.Discount, &s.NetAmount,
		&s.InitialPaid, &s.PaidAmount, &s.DueAmount, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	s.SaleDate = s.SaleDate.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, err
}

func scanPayment(sc scanner) (domain.Payment, error) {
	var p domain.Payment
	err := sc.Scan(&p.ID, &p.CustomerID, &p.SaleID, &p.Amount, &p.Method, &p.PaidOn, &p.Note, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	p.PaidOn = p.PaidOn.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanProduction(sc scanner) (domain.Production, error) {
	var p domain.Production
	err := sc.Scan(&p.ID, &p.ProductID, &p.Bundles, &p.Pieces, &p.PiecesProduced, &p.ProducedOn, &p.Note, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	p.ProducedOn = p.ProducedOn.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanReturn(sc scanner) (domain.SalesReturn, error) {
	var r domain.SalesReturn
	err := sc.Scan(&r.ID, &r.CustomerID, &r.SaleID, &r.ReturnDate, &r.TotalAmount, &r.Deduction, &r.GrandTotal, &r.Note, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	r.ReturnDate = r.ReturnDate.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, err
}

func getSale(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales s WHERE s.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("sale", id)
		}
		return nil, classify("get sale", err)
	}
	items, err := loadSaleItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	sale.Items = items[id]
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, bundles, pieces, total_pieces, rate, amount
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, classify("load sale items", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var it domain.SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Bundles, &it.Pieces, &it.TotalPieces, &it.Rate, &it.Amount); err != nil {
			return nil, classify("scan sale item", err)
		}
		out[it.SaleID] = append(out[it.SaleID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load sale items", err)
	}
	return out, nil
}

func getSalesReturn(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.SalesReturn, error) {
	query := `SELECT ` + returnColumns + ` FROM sales_returns r WHERE r.id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	ret, err := scanReturn(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("sales return", id)
		}
		return nil, classify("get sales return", err)
	}
	items, err := loadReturnItems(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	ret.Items = items[id]
	if ret.Items == nil {
		ret.Items = []domain.SalesReturnItem{}
	}
	return &ret, nil
}

func loadReturnItems(ctx context.Context, q queryer, returnIDs []string) (map[string][]domain.SalesReturnItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sales_return_id, product_id, bundles, pieces, total_pieces, rate, amount
		FROM sales_return_items
		WHERE sales_return_id = ANY($1)
		ORDER BY sales_return_id, line_no
	`, returnIDs)
	if err != nil {
		return nil, classify("load sales return items", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.SalesReturnItem, len(returnIDs))
	for rows.Next() {
		var it domain.SalesReturnItem
		if err := rows.Scan(&it.ID, &it.SalesReturnID, &it.ProductID, &it.Bundles, &it.Pieces, &it.TotalPieces, &it.Rate, &it.Amount); err != nil {
			return nil, classify("scan sales return item", err)
		}
		out[it.SalesReturnID] = append(out[it.SalesReturnID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load sales return items", err)
	}
	return out, nil
}
