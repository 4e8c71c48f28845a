package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/xid"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("postgres")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a read-committed transaction. Ledger rows are
// serialized by the SELECT ... FOR UPDATE locks taken through Tx.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("commit failed", zap.Error(err))
		return classify("commit transaction", err)
	}
	return nil
}

const customerColumns = `id, name, COALESCE(phone, ''), COALESCE(address, ''), opening_balance, total_due, credit_limit, active, created_at, updated_at`

func (s *Store) ListCustomers(ctx context.Context, activeOnly bool) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE ($1 = false OR active = true)
		ORDER BY name, id
	`, activeOnly)
	if err != nil {
		return nil, classify("list customers", err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, classify("scan customer", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list customers", err)
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("customer", id)
		}
		return nil, classify("get customer", err)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.NewValidationError("customer", "id and name are required")
	}
	created, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, address, opening_balance, total_due, credit_limit, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+customerColumns,
		customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address),
		customer.OpeningBalance, customer.TotalDue, customer.CreditLimit, customer.Active,
		customer.CreatedAt, customer.UpdatedAt,
	))
	if err != nil {
		return nil, classify("create customer", err)
	}
	return &created, nil
}

// UpdateCustomer writes descriptive fields only; balances are never
// touched outside the ledger.
func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, credit_limit = $5, active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.Name, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address),
		customer.CreditLimit, customer.Active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("customer", customer.ID)
		}
		return nil, classify("update customer", err)
	}
	return &updated, nil
}

const productColumns = `id, name, COALESCE(code, ''), unit_price, opening_stock, stock_pieces, pieces_per_bundle, min_stock_alert, active, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = false OR active = true)
		ORDER BY name, id
	`, activeOnly)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("product", id)
		}
		return nil, classify("get product", err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.NewValidationError("product", "id and name are required")
	}
	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, code, unit_price, opening_stock, stock_pieces, pieces_per_bundle, min_stock_alert, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+productColumns,
		product.ID, product.Name, nullIfEmpty(product.Code), product.UnitPrice, product.OpeningStock,
		product.StockPieces, product.PiecesPerBundle, product.MinStockAlert, product.Active,
		product.CreatedAt, product.UpdatedAt,
	))
	if err != nil {
		return nil, classify("create product", err)
	}
	return &created, nil
}

// UpdateProduct writes descriptive fields only; stock is kept.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, code = $3, unit_price = $4, pieces_per_bundle = $5, min_stock_alert = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, nullIfEmpty(product.Code), product.UnitPrice,
		product.PiecesPerBundle, product.MinStockAlert, product.Active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("product", product.ID)
		}
		return nil, classify("update product", err)
	}
	return &updated, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.RecordFilter) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		WHERE ($1 = '' OR s.customer_id = $1)
			AND ($2 = '' OR EXISTS (SELECT 1 FROM sale_items si WHERE si.sale_id = s.id AND si.product_id = $2))
		ORDER BY s.sale_date DESC, s.created_at DESC, s.id DESC
		LIMIT NULLIF($3, 0)
	`, filter.CustomerID, filter.ProductID, filter.Limit)
	if err != nil {
		return nil, classify("list sales", err)
	}
	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, classify("scan sale", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, classify("list sales", err)
	}
	_ = rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

func (s *Store) ListPayments(ctx context.Context, filter domain.RecordFilter) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY paid_on DESC, created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, filter.CustomerID, filter.Limit)
	if err != nil {
		return nil, classify("list payments", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, classify("scan payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list payments", err)
	}
	return payments, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("payment", id)
		}
		return nil, classify("get payment", err)
	}
	return &p, nil
}

func (s *Store) ListProductions(ctx context.Context, filter domain.RecordFilter) ([]domain.Production, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productionColumns+`
		FROM productions
		WHERE ($1 = '' OR product_id = $1)
		ORDER BY produced_on DESC, created_at DESC, id DESC
		LIMIT NULLIF($2, 0)
	`, filter.ProductID, filter.Limit)
	if err != nil {
		return nil, classify("list productions", err)
	}
	defer rows.Close()

	productions := make([]domain.Production, 0, 64)
	for rows.Next() {
		p, err := scanProduction(rows)
		if err != nil {
			return nil, classify("scan production", err)
		}
		productions = append(productions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list productions", err)
	}
	return productions, nil
}

func (s *Store) GetProduction(ctx context.Context, id string) (*domain.Production, error) {
	p, err := scanProduction(s.db.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM productions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewNotFoundError("production", id)
		}
		return nil, classify("get production", err)
	}
	return &p, nil
}

func (s *Store) ListSalesReturns(ctx context.Context, filter domain.RecordFilter) ([]domain.SalesReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM sales_returns r
		WHERE ($1 = '' OR r.customer_id = $1)
			AND ($2 = '' OR EXISTS (SELECT 1 FROM sales_return_items ri WHERE ri.sales_return_id = r.id AND ri.product_id = $2))
		ORDER BY r.return_date DESC, r.created_at DESC, r.id DESC
		LIMIT NULLIF($3, 0)
	`, filter.CustomerID, filter.ProductID, filter.Limit)
	if err != nil {
		return nil, classify("list sales returns", err)
	}
	returns := make([]domain.SalesReturn, 0, 32)
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			_ = rows.Close()
			return nil, classify("scan sales return", err)
		}
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, classify("list sales returns", err)
	}
	_ = rows.Close()

	if len(returns) == 0 {
		return returns, nil
	}
	ids := make([]string, 0, len(returns))
	for _, r := range returns {
		ids = append(ids, r.ID)
	}
	items, err := loadReturnItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range returns {
		returns[i].Items = items[returns[i].ID]
		if returns[i].Items == nil {
			returns[i].Items = []domain.SalesReturnItem{}
		}
	}
	return returns, nil
}

func (s *Store) GetSalesReturn(ctx context.Context, id string) (*domain.SalesReturn, error) {
	return getSalesReturn(ctx, s.db, id, false)
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, category, amount, spent_on, note, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.Category, expense.Amount, nowDateUTC(expense.SpentOn), nullIfEmpty(expense.Note), expense.CreatedBy, expense.CreatedAt)
	if err != nil {
		return nil, classify("create expense", err)
	}
	expense.SpentOn = nowDateUTC(expense.SpentOn)
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, amount, spent_on, COALESCE(note, ''), created_by, created_at
		FROM expenses
		WHERE spent_on >= $1 AND spent_on < $2
		ORDER BY spent_on DESC, created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, classify("list expenses", err)
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Category, &e.Amount, &e.SpentOn, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, classify("scan expense", err)
		}
		e.SpentOn = e.SpentOn.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list expenses", err)
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return classify("delete expense", err)
	}
	return expectAffected(res, "expense", id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return classify("create audit log", err)
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, classify("scan audit log", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit logs", err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.NewValidationError("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return classify("create user", err)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, classify("scan user", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.NewValidationError("password", "username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return classify("update user password", err)
	}
	return expectAffected(res, "user", username)
}

// classify maps driver errors onto the store sentinels. Errors that are
// already classified pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrPersistence) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %s", op, store.ErrConflict, pgErr.Message)
		case "23505":
			return store.NewValidationError(constraintField(pgErr), "already in use")
		case "23503":
			return store.NewValidationError(constraintField(pgErr), "references a record that does not exist")
		case "23514":
			return store.NewValidationError(constraintField(pgErr), "violates constraint "+pgErr.ConstraintName)
		}
	}
	return store.Persistence(op, err)
}

// constraintField guesses the offending column from a constraint name
// such as "sales_invoice_no_key" or "payments_sale_id_fkey".
func constraintField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	name := strings.TrimPrefix(pgErr.ConstraintName, pgErr.TableName+"_")
	for _, suffix := range []string{"_key", "_fkey", "_check"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

func expectAffected(res sql.Result, entity string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if affected == 0 {
		return store.NewNotFoundError(entity, id)
	}
	return nil
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
