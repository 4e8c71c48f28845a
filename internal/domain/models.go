package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

const (
	PaymentMethodCash          = "cash"
	PaymentMethodBank          = "bank"
	PaymentMethodMobileBanking = "mobile_banking"
	PaymentMethodCheque        = "cheque"
)

func PaymentMethods() []string {
	return []string{PaymentMethodCash, PaymentMethodBank, PaymentMethodMobileBanking, PaymentMethodCheque}
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	Address        string          `json:"address,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalDue       decimal.Decimal `json:"total_due"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Phone          string          `json:"phone" validate:"max=32"`
	Address        string          `json:"address" validate:"max=255"`
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"money"`
	CreditLimit    decimal.Decimal `json:"credit_limit" validate:"gte=0,money"`
}

type CustomerUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Phone       *string          `json:"phone,omitempty"`
	Address     *string          `json:"address,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Code            string          `json:"code,omitempty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	OpeningStock    int64           `json:"opening_stock"`
	StockPieces     int64           `json:"stock_pieces"`
	PiecesPerBundle int64           `json:"pieces_per_bundle"`
	MinStockAlert   int64           `json:"min_stock_alert"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name            string          `json:"name" validate:"required,max=120"`
	Code            string          `json:"code" validate:"max=40"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"gte=0,money"`
	OpeningStock    int64           `json:"opening_stock" validate:"gte=0"`
	PiecesPerBundle int64           `json:"pieces_per_bundle" validate:"gte=0,lte=100000"`
	MinStockAlert   int64           `json:"min_stock_alert" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name            *string          `json:"name,omitempty"`
	Code            *string          `json:"code,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	PiecesPerBundle *int64           `json:"pieces_per_bundle,omitempty"`
	MinStockAlert   *int64           `json:"min_stock_alert,omitempty"`
	Active          *bool            `json:"active,omitempty"`
}

type Sale struct {
	ID          string          `json:"id"`
	InvoiceNo   string          `json:"invoice_no"`
	CustomerID  string          `json:"customer_id"`
	SaleDate    time.Time       `json:"sale_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Discount    decimal.Decimal `json:"discount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	InitialPaid decimal.Decimal `json:"initial_paid"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	DueAmount   decimal.Decimal `json:"due_amount"`
	Note        string          `json:"note,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []SaleItem      `json:"items"`
}

type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	Bundles     int64           `json:"bundles"`
	Pieces      int64           `json:"pieces"`
	TotalPieces int64           `json:"total_pieces"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

type Payment struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	SaleID     string          `json:"sale_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	PaidOn     time.Time       `json:"paid_on"`
	Note       string          `json:"note,omitempty"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Production struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	Bundles        int64     `json:"bundles"`
	Pieces         int64     `json:"pieces"`
	PiecesProduced int64     `json:"pieces_produced"`
	ProducedOn     time.Time `json:"produced_on"`
	Note           string    `json:"note,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SalesReturn struct {
	ID          string            `json:"id"`
	CustomerID  string            `json:"customer_id"`
	SaleID      string            `json:"sale_id,omitempty"`
	ReturnDate  time.Time         `json:"return_date"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Deduction   decimal.Decimal   `json:"deduction"`
	GrandTotal  decimal.Decimal   `json:"grand_total"`
	Note        string            `json:"note,omitempty"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Items       []SalesReturnItem `json:"items"`
}

type SalesReturnItem struct {
	ID            string          `json:"id"`
	SalesReturnID string          `json:"sales_return_id"`
	ProductID     string          `json:"product_id"`
	Bundles       int64           `json:"bundles"`
	Pieces        int64           `json:"pieces"`
	TotalPieces   int64           `json:"total_pieces"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`
}

type Expense struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	SpentOn   time.Time       `json:"spent_on"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Category string          `json:"category" validate:"required,max=60"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0,money"`
	SpentOn  string          `json:"spent_on" validate:"omitempty,datetime=2006-01-02"`
	Note     string          `json:"note" validate:"max=500"`
}

// LineItemInput is one product line of a sale or sales return.
type LineItemInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	Bundles   int64           `json:"bundles" validate:"gte=0,lte=1000000000"`
	Pieces    int64           `json:"pieces" validate:"gte=0,lte=1000000000"`
	Rate      decimal.Decimal `json:"rate" validate:"gte=0,money"`
}

type SaleCommand struct {
	CustomerID string          `json:"customer_id" validate:"required"`
	InvoiceNo  string          `json:"invoice_no" validate:"max=40"`
	SaleDate   string          `json:"sale_date" validate:"omitempty,datetime=2006-01-02"`
	Discount   decimal.Decimal `json:"discount" validate:"gte=0,money"`
	PaidAmount decimal.Decimal `json:"paid_amount" validate:"gte=0,money"`
	Note       string          `json:"note" validate:"max=500"`
	Items      []LineItemInput `json:"items" validate:"required,min=1,dive"`
	CreatedBy  string          `json:"-"`
}

type PaymentCommand struct {
	CustomerID string          `json:"customer_id" validate:"required"`
	SaleID     string          `json:"sale_id"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0,money"`
	Method     string          `json:"method" validate:"required,oneof=cash bank mobile_banking cheque"`
	PaidOn     string          `json:"paid_on" validate:"omitempty,datetime=2006-01-02"`
	Note       string          `json:"note" validate:"max=500"`
	CreatedBy  string          `json:"-"`
}

type ProductionCommand struct {
	ProductID  string `json:"product_id" validate:"required"`
	Bundles    int64  `json:"bundles" validate:"gte=0,lte=1000000000"`
	Pieces     int64  `json:"pieces" validate:"gte=0,lte=1000000000"`
	ProducedOn string `json:"produced_on" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note" validate:"max=500"`
	CreatedBy  string `json:"-"`
}

type SalesReturnCommand struct {
	CustomerID string          `json:"customer_id" validate:"required"`
	SaleID     string          `json:"sale_id"`
	ReturnDate string          `json:"return_date" validate:"omitempty,datetime=2006-01-02"`
	Deduction  decimal.Decimal `json:"deduction" validate:"gte=0,money"`
	Note       string          `json:"note" validate:"max=500"`
	Items      []LineItemInput `json:"items" validate:"required,min=1,dive"`
	CreatedBy  string          `json:"-"`
}

// RecordFilter narrows list queries. A zero Limit means no limit.
type RecordFilter struct {
	CustomerID string
	ProductID  string
	Limit      int
}

type ReconciliationReport struct {
	Balanced         bool                `json:"balanced"`
	CheckedAt        time.Time           `json:"checked_at"`
	CustomersChecked int                 `json:"customers_checked"`
	ProductsChecked  int                 `json:"products_checked"`
	Discrepancies    []LedgerDiscrepancy `json:"discrepancies"`
}

type LedgerDiscrepancy struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual"`
}

type LowStockAlert struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	StockPieces   int64  `json:"stock_pieces"`
	MinStockAlert int64  `json:"min_stock_alert"`
}

type CreditAlert struct {
	CustomerID  string          `json:"customer_id"`
	Name        string          `json:"name"`
	TotalDue    decimal.Decimal `json:"total_due"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

type AlertSnapshot struct {
	LowStock    []LowStockAlert `json:"low_stock"`
	OverCredit  []CreditAlert   `json:"over_credit"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type ReferenceData struct {
	Products       []Product  `json:"products"`
	Customers      []Customer `json:"customers"`
	PaymentMethods []string   `json:"payment_methods"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
