package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/xid"
)

// CreateSale persists a sale with its items, takes the sold pieces out of
// stock and charges the unpaid part of the net amount to the customer.
func (e *Engine) CreateSale(ctx context.Context, cmd domain.SaleCommand) (domain.Sale, error) {
	var created domain.Sale
	err := e.run(ctx, opCreateSale, cmd, func(tx store.Tx) error {
		saleDate, err := e.dateOr("sale_date", cmd.SaleDate, time.Time{})
		if err != nil {
			return err
		}

		customers, err := tx.LockCustomers(ctx, []string{cmd.CustomerID})
		if err != nil {
			return err
		}
		customer := customers[cmd.CustomerID]
		if !customer.Active {
			return store.NewValidationError("customer_id", fmt.Sprintf("customer %s is inactive", customer.ID))
		}

		products, err := tx.LockProducts(ctx, uniqueSorted(inputProductIDs(cmd.Items)...))
		if err != nil {
			return err
		}
		lines, total, err := buildLines(cmd.Items, products)
		if err != nil {
			return err
		}
		outflow := linesDelta(lines).negated()
		if err := e.guardStock(products, outflow); err != nil {
			return err
		}

		now := e.now()
		sale := domain.Sale{
			ID:          xid.New("sale"),
			InvoiceNo:   cmd.InvoiceNo,
			CustomerID:  customer.ID,
			SaleDate:    saleDate,
			TotalAmount: total,
			Note:        cmd.Note,
			CreatedBy:   cmd.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if sale.InvoiceNo == "" {
			sale.InvoiceNo = xid.Invoice()
		}
		sale.Settle(cmd.Discount, cmd.PaidAmount, decimal.Zero)
		if cmd.PaidAmount.GreaterThan(sale.NetAmount) {
			return store.NewValidationError("paid_amount", "must not exceed the net amount")
		}
		sale.Items = saleItems(sale.ID, lines)

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, outflow); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, customer.ID, sale.BilledDue()); err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	e.logApplied(opCreateSale, created.ID, zap.String("customer_id", created.CustomerID), zap.String("billed_due", created.BilledDue().String()))
	return created, nil
}

// EditSale replaces a sale's items and amounts. The old stock and due
// effects are fully reversed before the new ones are applied. Payments
// already linked to the sale stay counted in its paid amount.
func (e *Engine) EditSale(ctx context.Context, id string, cmd domain.SaleCommand) (domain.Sale, error) {
	var updated domain.Sale
	err := e.run(ctx, opEditSale, cmd, func(tx store.Tx) error {
		old, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		customerChanged := cmd.CustomerID != old.CustomerID
		if customerChanged && old.LinkedPaid().IsPositive() {
			return store.NewValidationError("customer_id", "sale has linked payments; move them before changing the customer")
		}

		customers, err := tx.LockCustomers(ctx, uniqueSorted(old.CustomerID, cmd.CustomerID))
		if err != nil {
			return err
		}
		if customerChanged && !customers[cmd.CustomerID].Active {
			return store.NewValidationError("customer_id", fmt.Sprintf("customer %s is inactive", cmd.CustomerID))
		}

		productIDs := inputProductIDs(cmd.Items)
		for _, it := range old.Items {
			productIDs = append(productIDs, it.ProductID)
		}
		products, err := tx.LockProducts(ctx, uniqueSorted(productIDs...))
		if err != nil {
			return err
		}
		lines, total, err := buildLines(cmd.Items, products)
		if err != nil {
			return err
		}
		restock := saleItemsDelta(old.Items)
		outflow := linesDelta(lines).negated()
		if err := e.guardStock(products, mergeDeltas(restock, outflow)); err != nil {
			return err
		}

		saleDate, err := e.dateOr("sale_date", cmd.SaleDate, old.SaleDate)
		if err != nil {
			return err
		}
		next := *old
		next.CustomerID = cmd.CustomerID
		next.SaleDate = saleDate
		if cmd.InvoiceNo != "" {
			next.InvoiceNo = cmd.InvoiceNo
		}
		next.Note = cmd.Note
		next.TotalAmount = total
		next.Settle(cmd.Discount, cmd.PaidAmount, old.LinkedPaid())
		if cmd.PaidAmount.GreaterThan(next.NetAmount) {
			return store.NewValidationError("paid_amount", "must not exceed the net amount")
		}
		next.Items = saleItems(next.ID, lines)
		next.UpdatedAt = e.now()

		if err := applyStock(ctx, tx, restock); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, old.CustomerID, old.BilledDue().Neg()); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, next); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, outflow); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, next.CustomerID, next.BilledDue()); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	e.logApplied(opEditSale, updated.ID, zap.String("customer_id", updated.CustomerID), zap.String("billed_due", updated.BilledDue().String()))
	return updated, nil
}

// DeleteSale returns the sold pieces to stock, removes the sale's charge
// from the customer and deletes the sale. Linked payments and returns are
// kept and unlinked.
func (e *Engine) DeleteSale(ctx context.Context, id string) (domain.Sale, error) {
	var deleted domain.Sale
	err := e.run(ctx, opDeleteSale, nil, func(tx store.Tx) error {
		old, err := tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockCustomers(ctx, []string{old.CustomerID}); err != nil {
			return err
		}
		restock := saleItemsDelta(old.Items)
		if _, err := tx.LockProducts(ctx, restock.ids()); err != nil {
			return err
		}

		if err := applyStock(ctx, tx, restock); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, old.CustomerID, old.BilledDue().Neg()); err != nil {
			return err
		}
		if err := tx.UnlinkSale(ctx, old.ID); err != nil {
			return err
		}
		if err := tx.DeleteSale(ctx, old.ID); err != nil {
			return err
		}
		deleted = *old
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	e.logApplied(opDeleteSale, deleted.ID, zap.String("customer_id", deleted.CustomerID))
	return deleted, nil
}

func saleItems(saleID string, lines []line) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.SaleItem{
			ID:          xid.New("si"),
			SaleID:      saleID,
			ProductID:   l.productID,
			Bundles:     l.bundles,
			Pieces:      l.pieces,
			TotalPieces: l.totalPieces,
			Rate:        l.rate,
			Amount:      l.amount,
		})
	}
	return items
}
