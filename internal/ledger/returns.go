package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/xid"
)

// CreateSalesReturn puts the returned pieces back into stock and credits
// the grand total to the customer's balance.
func (e *Engine) CreateSalesReturn(ctx context.Context, cmd domain.SalesReturnCommand) (domain.SalesReturn, error) {
	var created domain.SalesReturn
	err := e.run(ctx, opCreateSalesReturn, cmd, func(tx store.Tx) error {
		returnDate, err := e.dateOr("return_date", cmd.ReturnDate, time.Time{})
		if err != nil {
			return err
		}
		if err := lockSalesFor(ctx, tx, cmd.CustomerID, cmd.SaleID); err != nil {
			return err
		}
		if _, err := tx.LockCustomers(ctx, []string{cmd.CustomerID}); err != nil {
			return err
		}
		products, err := tx.LockProducts(ctx, uniqueSorted(inputProductIDs(cmd.Items)...))
		if err != nil {
			return err
		}
		lines, total, err := buildLines(cmd.Items, products)
		if err != nil {
			return err
		}
		inflow := linesDelta(lines)

		now := e.now()
		ret := domain.SalesReturn{
			ID:          xid.New("ret"),
			CustomerID:  cmd.CustomerID,
			SaleID:      cmd.SaleID,
			ReturnDate:  returnDate,
			TotalAmount: total,
			Note:        cmd.Note,
			CreatedBy:   cmd.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		ret.Settle(cmd.Deduction)
		ret.Items = returnItems(ret.ID, lines)

		if err := tx.InsertSalesReturn(ctx, ret); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, inflow); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, ret.CustomerID, ret.GrandTotal.Neg()); err != nil {
			return err
		}
		created = ret
		return nil
	})
	if err != nil {
		return domain.SalesReturn{}, err
	}
	e.logApplied(opCreateSalesReturn, created.ID, zap.String("customer_id", created.CustomerID), zap.String("grand_total", created.GrandTotal.String()))
	return created, nil
}

// EditSalesReturn takes the old returned pieces back out of stock and the
// old credit off the customer, then applies the new return.
func (e *Engine) EditSalesReturn(ctx context.Context, id string, cmd domain.SalesReturnCommand) (domain.SalesReturn, error) {
	var updated domain.SalesReturn
	err := e.run(ctx, opEditSalesReturn, cmd, func(tx store.Tx) error {
		old, err := tx.GetSalesReturn(ctx, id)
		if err != nil {
			return err
		}
		if err := lockSalesFor(ctx, tx, cmd.CustomerID, cmd.SaleID); err != nil {
			return err
		}
		if _, err := tx.LockCustomers(ctx, uniqueSorted(old.CustomerID, cmd.CustomerID)); err != nil {
			return err
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
		withdraw := returnItemsDelta(old.Items).negated()
		inflow := linesDelta(lines)
		if err := e.guardStock(products, mergeDeltas(withdraw, inflow)); err != nil {
			return err
		}

		returnDate, err := e.dateOr("return_date", cmd.ReturnDate, old.ReturnDate)
		if err != nil {
			return err
		}
		next := *old
		next.CustomerID = cmd.CustomerID
		next.SaleID = cmd.SaleID
		next.ReturnDate = returnDate
		next.Note = cmd.Note
		next.TotalAmount = total
		next.Settle(cmd.Deduction)
		next.Items = returnItems(next.ID, lines)
		next.UpdatedAt = e.now()

		if err := applyStock(ctx, tx, withdraw); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, old.CustomerID, old.GrandTotal); err != nil {
			return err
		}
		if err := tx.UpdateSalesReturn(ctx, next); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, inflow); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, next.CustomerID, next.GrandTotal.Neg()); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.SalesReturn{}, err
	}
	e.logApplied(opEditSalesReturn, updated.ID, zap.String("customer_id", updated.CustomerID), zap.String("grand_total", updated.GrandTotal.String()))
	return updated, nil
}

// DeleteSalesReturn withdraws the returned pieces from stock, charges the
// grand total back to the customer and deletes the return.
func (e *Engine) DeleteSalesReturn(ctx context.Context, id string) (domain.SalesReturn, error) {
	var deleted domain.SalesReturn
	err := e.run(ctx, opDeleteSalesReturn, nil, func(tx store.Tx) error {
		old, err := tx.GetSalesReturn(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockCustomers(ctx, []string{old.CustomerID}); err != nil {
			return err
		}
		withdraw := returnItemsDelta(old.Items).negated()
		products, err := tx.LockProducts(ctx, withdraw.ids())
		if err != nil {
			return err
		}
		if err := e.guardStock(products, withdraw); err != nil {
			return err
		}

		if err := applyStock(ctx, tx, withdraw); err != nil {
			return err
		}
		if err := adjustDue(ctx, tx, old.CustomerID, old.GrandTotal); err != nil {
			return err
		}
		if err := tx.DeleteSalesReturn(ctx, old.ID); err != nil {
			return err
		}
		deleted = *old
		return nil
	})
	if err != nil {
		return domain.SalesReturn{}, err
	}
	e.logApplied(opDeleteSalesReturn, deleted.ID, zap.String("customer_id", deleted.CustomerID))
	return deleted, nil
}

func returnItems(returnID string, lines []line) []domain.SalesReturnItem {
	items := make([]domain.SalesReturnItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.SalesReturnItem{
			ID:            xid.New("ri"),
			SalesReturnID: returnID,
			ProductID:     l.productID,
			Bundles:       l.bundles,
			Pieces:        l.pieces,
			TotalPieces:   l.totalPieces,
			Rate:          l.rate,
			Amount:        l.amount,
		})
	}
	return items
}
