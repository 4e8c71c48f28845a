package service

import (
	"context"
	"errors"
	"fmt"

	"bizledger/backend/internal/domain"
)

var ErrForbidden = errors.New("forbidden")

type Action string

const (
	ActionRead            Action = "read"
	ActionCreateRecord    Action = "record_create"
	ActionChangeRecord    Action = "record_change"
	ActionManageCustomers Action = "customers_manage"
	ActionManageProducts  Action = "products_manage"
	ActionCreateExpense   Action = "expense_create"
	ActionDeleteExpense   Action = "expense_delete"
	ActionViewAuditLog    Action = "audit_view"
	ActionReconcileLedger Action = "ledger_reconcile"
	ActionManageUsers     Action = "users_manage"
)

var roleActions = map[string]map[Action]bool{
	domain.RoleManager: {
		ActionRead:            true,
		ActionCreateRecord:    true,
		ActionChangeRecord:    true,
		ActionManageCustomers: true,
		ActionManageProducts:  true,
		ActionCreateExpense:   true,
		ActionDeleteExpense:   true,
		ActionViewAuditLog:    true,
	},
	domain.RoleStaff: {
		ActionRead:          true,
		ActionCreateRecord:  true,
		ActionCreateExpense: true,
	},
}

// Can reports whether role may perform action. Admins may do everything.
func Can(role string, action Action) bool {
	if role == domain.RoleAdmin {
		return true
	}
	return roleActions[role][action]
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func authorize(ctx context.Context, action Action) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated user", ErrForbidden)
	}
	if !Can(actor.Role, action) {
		return domain.Actor{}, fmt.Errorf("%w: role %s may not %s", ErrForbidden, actor.Role, action)
	}
	return actor, nil
}
