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

// CreateProduction records a production run and adds its pieces to stock.
func (e *Engine) CreateProduction(ctx context.Context, cmd domain.ProductionCommand) (domain.Production, error) {
	var created domain.Production
	err := e.run(ctx, opCreateProduction, cmd, func(tx store.Tx) error {
		producedOn, err := e.dateOr("produced_on", cmd.ProducedOn, time.Time{})
		if err != nil {
			return err
		}
		products, err := tx.LockProducts(ctx, []string{cmd.ProductID})
		if err != nil {
			return err
		}
		pieces, err := producedPieces(products, cmd, false)
		if err != nil {
			return err
		}

		now := e.now()
		production := domain.Production{
			ID:             xid.New("prd"),
			ProductID:      cmd.ProductID,
			Bundles:        cmd.Bundles,
			Pieces:         cmd.Pieces,
			PiecesProduced: pieces,
			ProducedOn:     producedOn,
			Note:           cmd.Note,
			CreatedBy:      cmd.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertProduction(ctx, production); err != nil {
			return err
		}
		if err := tx.AdjustProductStock(ctx, production.ProductID, production.PiecesProduced); err != nil {
			return err
		}
		created = production
		return nil
	})
	if err != nil {
		return domain.Production{}, err
	}
	e.logApplied(opCreateProduction, created.ID, zap.String("product_id", created.ProductID), zap.Int64("pieces", created.PiecesProduced))
	return created, nil
}

// EditProduction applies the difference between the new and old piece
// count as one stock increment. Moving the run to another product takes
// the old pieces off the old product and adds the new pieces to the new one.
func (e *Engine) EditProduction(ctx context.Context, id string, cmd domain.ProductionCommand) (domain.Production, error) {
	var updated domain.Production
	err := e.run(ctx, opEditProduction, cmd, func(tx store.Tx) error {
		old, err := tx.GetProduction(ctx, id)
		if err != nil {
			return err
		}
		products, err := tx.LockProducts(ctx, uniqueSorted(old.ProductID, cmd.ProductID))
		if err != nil {
			return err
		}
		// a run already booked on an inactive product can still be corrected
		pieces, err := producedPieces(products, cmd, cmd.ProductID == old.ProductID)
		if err != nil {
			return err
		}

		delta := stockDelta{}
		delta.add(old.ProductID, -old.PiecesProduced)
		delta.add(cmd.ProductID, pieces)
		if err := e.guardStock(products, delta); err != nil {
			return err
		}

		producedOn, err := e.dateOr("produced_on", cmd.ProducedOn, old.ProducedOn)
		if err != nil {
			return err
		}
		next := *old
		next.ProductID = cmd.ProductID
		next.Bundles = cmd.Bundles
		next.Pieces = cmd.Pieces
		next.PiecesProduced = pieces
		next.ProducedOn = producedOn
		next.Note = cmd.Note
		next.UpdatedAt = e.now()

		if err := tx.UpdateProduction(ctx, next); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, delta); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Production{}, err
	}
	e.logApplied(opEditProduction, updated.ID, zap.String("product_id", updated.ProductID), zap.Int64("pieces", updated.PiecesProduced))
	return updated, nil
}

// DeleteProduction takes the run's pieces back out of stock and deletes it.
func (e *Engine) DeleteProduction(ctx context.Context, id string) (domain.Production, error) {
	var deleted domain.Production
	err := e.run(ctx, opDeleteProduction, nil, func(tx store.Tx) error {
		old, err := tx.GetProduction(ctx, id)
		if err != nil {
			return err
		}
		products, err := tx.LockProducts(ctx, []string{old.ProductID})
		if err != nil {
			return err
		}
		delta := stockDelta{old.ProductID: -old.PiecesProduced}
		if err := e.guardStock(products, delta); err != nil {
			return err
		}
		if err := applyStock(ctx, tx, delta); err != nil {
			return err
		}
		if err := tx.DeleteProduction(ctx, old.ID); err != nil {
			return err
		}
		deleted = *old
		return nil
	})
	if err != nil {
		return domain.Production{}, err
	}
	e.logApplied(opDeleteProduction, deleted.ID, zap.String("product_id", deleted.ProductID))
	return deleted, nil
}

func producedPieces(products map[string]domain.Product, cmd domain.ProductionCommand, allowInactive bool) (int64, error) {
	product, ok := products[cmd.ProductID]
	if !ok {
		return 0, store.NewNotFoundError("product", cmd.ProductID)
	}
	pieces, ok := domain.TotalPieces(cmd.Bundles, cmd.Pieces, product.PiecesPerBundle)
	if !ok {
		return 0, store.NewValidationError("bundles", "quantity is too large")
	}
	if pieces <= 0 {
		return 0, store.NewValidationError("pieces", "production must add at least one piece")
	}
	if !product.Active && !allowInactive {
		return 0, store.NewValidationError("product_id", fmt.Sprintf("product %s is inactive", cmd.ProductID))
	}
	return pieces, nil
}
