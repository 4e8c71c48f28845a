package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
)

// pgTx implements store.Tx. Running aggregates are only changed with
// relative UPDATEs so a concurrent writer can never be overwritten.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCustomers(ctx context.Context, ids []string) (map[string]domain.Customer, error) {
	out := make(map[string]domain.Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, classify("lock customers", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, classify("scan customer", err)
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, classify("lock customers", err)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, store.NewNotFoundError("customer", id)
		}
	}
	return out, nil
}

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, classify("lock products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, classify("lock products", err)
	}
	return out, nil
}

func (t *pgTx) AdjustCustomerDue(ctx context.Context, customerID string, delta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET total_due = total_due + $2, updated_at = now()
		WHERE id = $1
	`, customerID, delta)
	if err != nil {
		return classify("adjust customer due", err)
	}
	return expectAffected(res, "customer", customerID)
}

func (t *pgTx) AdjustProductStock(ctx context.Context, productID string, delta int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_pieces = stock_pieces + $2, updated_at = now()
		WHERE id = $1
	`, productID, delta)
	if err != nil {
		return classify("adjust product stock", err)
	}
	return expectAffected(res, "product", productID)
}

func (t *pgTx) AdjustSalePaid(ctx context.Context, saleID string, delta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET paid_amount = paid_amount + $2,
			due_amount = GREATEST(net_amount - (paid_amount + $2), 0),
			updated_at = now()
		WHERE id = $1
	`, saleID, delta)
	if err != nil {
		return classify("adjust sale paid", err)
	}
	return expectAffected(res, "sale", saleID)
}

func (t *pgTx) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, id, true)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_no, customer_id, sale_date, total_amount, discount, net_amount,
			initial_paid, paid_amount, due_amount, note, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.InvoiceNo, sale.CustomerID, nowDateUTC(sale.SaleDate), sale.TotalAmount, sale.Discount, sale.NetAmount,
		sale.InitialPaid, sale.PaidAmount, sale.DueAmount, nullIfEmpty(sale.Note), sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return classify("insert sale", err)
	}
	return t.insertSaleItems(ctx, sale.ID, sale.Items)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET invoice_no = $2, customer_id = $3, sale_date = $4, total_amount = $5, discount = $6,
			net_amount = $7, initial_paid = $8, paid_amount = $9, due_amount = $10, note = $11, updated_at = $12
		WHERE id = $1
	`, sale.ID, sale.InvoiceNo, sale.CustomerID, nowDateUTC(sale.SaleDate), sale.TotalAmount, sale.Discount,
		sale.NetAmount, sale.InitialPaid, sale.PaidAmount, sale.DueAmount, nullIfEmpty(sale.Note), sale.UpdatedAt)
	if err != nil {
		return classify("update sale", err)
	}
	if err := expectAffected(res, "sale", sale.ID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return classify("replace sale items", err)
	}
	return t.insertSaleItems(ctx, sale.ID, sale.Items)
}

func (t *pgTx) insertSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	for i, it := range items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, line_no, product_id, bundles, pieces, total_pieces, rate, amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, it.ID, saleID, i+1, it.ProductID, it.Bundles, it.Pieces, it.TotalPieces, it.Rate, it.Amount); err != nil {
			return classify("insert sale item", err)
		}
	}
	return nil
}

func (t *pgTx) DeleteSale(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return classify("delete sale items", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return classify("delete sale", err)
	}
	return expectAffected(res, "sale", id)
}

func (t *pgTx) UnlinkSale(ctx context.Context, saleID string) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE payments SET sale_id = NULL, updated_at = now() WHERE sale_id = $1`, saleID); err != nil {
		return classify("unlink payments", err)
	}
	if _, err := t.tx.ExecContext(ctx, `UPDATE sales_returns SET sale_id = NULL, updated_at = now() WHERE sale_id = $1`, saleID); err != nil {
		return classify("unlink sales returns", err)
	}
	return nil
}

func (t *pgTx) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("payment", id)
		}
		return nil, classify("get payment", err)
	}
	return &p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, sale_id, amount, method, paid_on, note, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.CustomerID, nullIfEmpty(p.SaleID), p.Amount, p.Method, nowDateUTC(p.PaidOn), nullIfEmpty(p.Note), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return classify("insert payment", err)
}

func (t *pgTx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments
		SET customer_id = $2, sale_id = $3, amount = $4, method = $5, paid_on = $6, note = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.CustomerID, nullIfEmpty(p.SaleID), p.Amount, p.Method, nowDateUTC(p.PaidOn), nullIfEmpty(p.Note), p.UpdatedAt)
	if err != nil {
		return classify("update payment", err)
	}
	return expectAffected(res, "payment", p.ID)
}

func (t *pgTx) DeletePayment(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return classify("delete payment", err)
	}
	return expectAffected(res, "payment", id)
}

func (t *pgTx) GetProduction(ctx context.Context, id string) (*domain.Production, error) {
	p, err := scanProduction(t.tx.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM productions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("production", id)
		}
		return nil, classify("get production", err)
	}
	return &p, nil
}

func (t *pgTx) InsertProduction(ctx context.Context, p domain.Production) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO productions (id, product_id, bundles, pieces, pieces_produced, produced_on, note, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.ProductID, p.Bundles, p.Pieces, p.PiecesProduced, nowDateUTC(p.ProducedOn), nullIfEmpty(p.Note), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return classify("insert production", err)
}

func (t *pgTx) UpdateProduction(ctx context.Context, p domain.Production) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE productions
		SET product_id = $2, bundles = $3, pieces = $4, pieces_produced = $5, produced_on = $6, note = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.ProductID, p.Bundles, p.Pieces, p.PiecesProduced, nowDateUTC(p.ProducedOn), nullIfEmpty(p.Note), p.UpdatedAt)
	if err != nil {
		return classify("update production", err)
	}
	return expectAffected(res, "production", p.ID)
}

func (t *pgTx) DeleteProduction(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM productions WHERE id = $1`, id)
	if err != nil {
		return classify("delete production", err)
	}
	return expectAffected(res, "production", id)
}

func (t *pgTx) GetSalesReturn(ctx context.Context, id string) (*domain.SalesReturn, error) {
	return getSalesReturn(ctx, t.tx, id, true)
}

func (t *pgTx) InsertSalesReturn(ctx context.Context, r domain.SalesReturn) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales_returns (
			id, customer_id, sale_id, return_date, total_amount, deduction, grand_total, note, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, r.ID, r.CustomerID, nullIfEmpty(r.SaleID), nowDateUTC(r.ReturnDate), r.TotalAmount, r.Deduction, r.GrandTotal,
		nullIfEmpty(r.Note), r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return classify("insert sales return", err)
	}
	return t.insertReturnItems(ctx, r.ID, r.Items)
}

func (t *pgTx) UpdateSalesReturn(ctx context.Context, r domain.SalesReturn) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales_returns
		SET customer_id = $2, sale_id = $3, return_date = $4, total_amount = $5, deduction = $6,
			grand_total = $7, note = $8, updated_at = $9
		WHERE id = $1
	`, r.ID, r.CustomerID, nullIfEmpty(r.SaleID), nowDateUTC(r.ReturnDate), r.TotalAmount, r.Deduction,
		r.GrandTotal, nullIfEmpty(r.Note), r.UpdatedAt)
	if err != nil {
		return classify("update sales return", err)
	}
	if err := expectAffected(res, "sales return", r.ID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sales_return_items WHERE sales_return_id = $1`, r.ID); err != nil {
		return classify("replace sales return items", err)
	}
	return t.insertReturnItems(ctx, r.ID, r.Items)
}

func (t *pgTx) insertReturnItems(ctx context.Context, returnID string, items []domain.SalesReturnItem) error {
	for i, it := range items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sales_return_items (id, sales_return_id, line_no, product_id, bundles, pieces, total_pieces, rate, amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, it.ID, returnID, i+1, it.ProductID, it.Bundles, it.Pieces, it.TotalPieces, it.Rate, it.Amount); err != nil {
			return classify("insert sales return item", err)
		}
	}
	return nil
}

func (t *pgTx) DeleteSalesReturn(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sales_return_items WHERE sales_return_id = $1`, id); err != nil {
		return classify("delete sales return items", err)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales_returns WHERE id = $1`, id)
	if err != nil {
		return classify("delete sales return", err)
	}
	return expectAffected(res, "sales return", id)
}
