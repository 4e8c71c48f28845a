package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/xid"
)

// CreatePayment records money received from a customer. The customer's
// balance drops by the amount; a linked sale gets it added to paid_amount.
func (e *Engine) CreatePayment(ctx context.Context, cmd domain.PaymentCommand) (domain.Payment, error) {
	var created domain.Payment
	err := e.run(ctx, opCreatePayment, cmd, func(tx store.Tx) error {
		paidOn, err := e.dateOr("paid_on", cmd.PaidOn, time.Time{})
		if err != nil {
			return err
		}
		if err := lockSalesFor(ctx, tx, cmd.CustomerID, cmd.SaleID); err != nil {
			return err
		}
		if _, err := tx.LockCustomers(ctx, []string{cmd.CustomerID}); err != nil {
			return err
		}

		now := e.now()
		payment := domain.Payment{
			ID:         xid.New("pay"),
			CustomerID: cmd.CustomerID,
			SaleID:     cmd.SaleID,
			Amount:     cmd.Amount,
			Method:     cmd.Method,
			PaidOn:     paidOn,
			Note:       cmd.Note,
			CreatedBy:  cmd.CreatedBy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := applyPayment(ctx, tx, payment, 1); err != nil {
			return err
		}
		created = payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	e.logApplied(opCreatePayment, created.ID, zap.String("customer_id", created.CustomerID), zap.String("amount", created.Amount.String()))
	return created, nil
}

// EditPayment reverses the old payment's effect on its customer and sale,
// then applies the new one. Old and new customer or sale may differ.
func (e *Engine) EditPayment(ctx context.Context, id string, cmd domain.PaymentCommand) (domain.Payment, error) {
	var updated domain.Payment
	err := e.run(ctx, opEditPayment, cmd, func(tx store.Tx) error {
		old, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		for _, saleID := range uniqueSorted(old.SaleID, cmd.SaleID) {
			sale, err := tx.GetSale(ctx, saleID)
			if err != nil {
				return err
			}
			if saleID == cmd.SaleID && sale.CustomerID != cmd.CustomerID {
				return store.NewValidationError("sale_id", fmt.Sprintf("sale %s belongs to another customer", saleID))
			}
		}
		if _, err := tx.LockCustomers(ctx, uniqueSorted(old.CustomerID, cmd.CustomerID)); err != nil {
			return err
		}

		paidOn, err := e.dateOr("paid_on", cmd.PaidOn, old.PaidOn)
		if err != nil {
			return err
		}
		next := *old
		next.CustomerID = cmd.CustomerID
		next.SaleID = cmd.SaleID
		next.Amount = cmd.Amount
		next.Method = cmd.Method
		next.PaidOn = paidOn
		next.Note = cmd.Note
		next.UpdatedAt = e.now()

		if err := applyPayment(ctx, tx, *old, -1); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, next); err != nil {
			return err
		}
		if err := applyPayment(ctx, tx, next, 1); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	e.logApplied(opEditPayment, updated.ID, zap.String("customer_id", updated.CustomerID), zap.String("amount", updated.Amount.String()))
	return updated, nil
}

// DeletePayment gives the amount back to the customer's balance and the
// linked sale's due, then deletes the payment.
func (e *Engine) DeletePayment(ctx context.Context, id string) (domain.Payment, error) {
	var deleted domain.Payment
	err := e.run(ctx, opDeletePayment, nil, func(tx store.Tx) error {
		old, err := tx.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if old.SaleID != "" {
			if _, err := tx.GetSale(ctx, old.SaleID); err != nil {
				return err
			}
		}
		if _, err := tx.LockCustomers(ctx, []string{old.CustomerID}); err != nil {
			return err
		}
		if err := applyPayment(ctx, tx, *old, -1); err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, old.ID); err != nil {
			return err
		}
		deleted = *old
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	e.logApplied(opDeletePayment, deleted.ID, zap.String("customer_id", deleted.CustomerID))
	return deleted, nil
}

// applyPayment applies (sign 1) or reverses (sign -1) a payment's effect.
func applyPayment(ctx context.Context, tx store.Tx, p domain.Payment, sign int64) error {
	amount := p.Amount
	if sign < 0 {
		amount = amount.Neg()
	}
	if err := adjustDue(ctx, tx, p.CustomerID, amount.Neg()); err != nil {
		return err
	}
	if p.SaleID == "" || amount.IsZero() {
		return nil
	}
	return tx.AdjustSalePaid(ctx, p.SaleID, amount)
}

// lockSalesFor locks the sale a payment or return points at and checks it
// belongs to the same customer.
func lockSalesFor(ctx context.Context, tx store.Tx, customerID string, saleID string) error {
	if saleID == "" {
		return nil
	}
	sale, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.CustomerID != customerID {
		return store.NewValidationError("sale_id", fmt.Sprintf("sale %s belongs to another customer", saleID))
	}
	return nil
}
