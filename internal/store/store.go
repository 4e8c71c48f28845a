package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"bizledger/backend/internal/domain"
)

// Repository is the persistence provider. Ledger mutations go through
// WithinTx; everything else is a plain read or reference-data write.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListCustomers(ctx context.Context, activeOnly bool) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListSales(ctx context.Context, filter domain.RecordFilter) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListPayments(ctx context.Context, filter domain.RecordFilter) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListProductions(ctx context.Context, filter domain.RecordFilter) ([]domain.Production, error)
	GetProduction(ctx context.Context, id string) (*domain.Production, error)
	ListSalesReturns(ctx context.Context, filter domain.RecordFilter) ([]domain.SalesReturn, error)
	GetSalesReturn(ctx context.Context, id string) (*domain.SalesReturn, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is one atomic unit of ledger work. Get* and Lock* methods lock the
// rows they return until the unit ends. LockCustomers fails with a
// NotFoundError for an unknown id; LockProducts leaves unknown ids out of
// the map so callers can pick the error. Running aggregates only change
// through the Adjust* increments.
type Tx interface {
	LockCustomers(ctx context.Context, ids []string) (map[string]domain.Customer, error)
	LockProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	AdjustCustomerDue(ctx context.Context, customerID string, delta decimal.Decimal) error
	AdjustProductStock(ctx context.Context, productID string, delta int64) error
	AdjustSalePaid(ctx context.Context, saleID string, delta decimal.Decimal) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error
	UnlinkSale(ctx context.Context, saleID string) error

	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	InsertPayment(ctx context.Context, payment domain.Payment) error
	UpdatePayment(ctx context.Context, payment domain.Payment) error
	DeletePayment(ctx context.Context, id string) error

	GetProduction(ctx context.Context, id string) (*domain.Production, error)
	InsertProduction(ctx context.Context, production domain.Production) error
	UpdateProduction(ctx context.Context, production domain.Production) error
	DeleteProduction(ctx context.Context, id string) error

	GetSalesReturn(ctx context.Context, id string) (*domain.SalesReturn, error)
	InsertSalesReturn(ctx context.Context, ret domain.SalesReturn) error
	UpdateSalesReturn(ctx context.Context, ret domain.SalesReturn) error
	DeleteSalesReturn(ctx context.Context, id string) error
}
