package memory

import (
	"context"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/store"
)

type ledgerState struct {
	customers   map[string]domain.Customer
	products    map[string]domain.Product
	sales       map[string]domain.Sale
	payments    map[string]domain.Payment
	productions map[string]domain.Production
	returns     map[string]domain.SalesReturn
}

func newLedgerState() ledgerState {
	return ledgerState{
		customers:   make(map[string]domain.Customer),
		products:    make(map[string]domain.Product),
		sales:       make(map[string]domain.Sale),
		payments:    make(map[string]domain.Payment),
		productions: make(map[string]domain.Production),
		returns:     make(map[string]domain.SalesReturn),
	}
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		customers:   make(map[string]domain.Customer, len(s.customers)),
		products:    make(map[string]domain.Product, len(s.products)),
		sales:       make(map[string]domain.Sale, len(s.sales)),
		payments:    make(map[string]domain.Payment, len(s.payments)),
		productions: make(map[string]domain.Production, len(s.productions)),
		returns:     make(map[string]domain.SalesReturn, len(s.returns)),
	}
	for id, c := range s.customers {
		out.customers[id] = c
	}
	for id, p := range s.products {
		out.products[id] = p
	}
	for id, sale := range s.sales {
		out.sales[id] = copySale(sale)
	}
	for id, p := range s.payments {
		out.payments[id] = p
	}
	for id, p := range s.productions {
		out.productions[id] = p
	}
	for id, r := range s.returns {
		out.returns[id] = copyReturn(r)
	}
	return out
}

// Store keeps everything in process memory. Ledger transactions are
// serialized by mu and run against a cloned state that replaces the live
// one only when the unit succeeds.
type Store struct {
	mu              sync.RWMutex
	state           ledgerState
	expensesByID    map[string]domain.Expense
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		state:           newLedgerState(),
		expensesByID:    make(map[string]domain.Expense),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo customers, products and users.
// Seed passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_STAFF_PASSWORD; dev defaults are used when unset.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	customers := []domain.Customer{
		{ID: "cust-001", Name: "Rahim Traders", Phone: "01711000001", OpeningBalance: decimal.Zero, CreditLimit: decimal.NewFromInt(5000), Active: true},
		{ID: "cust-002", Name: "Karim Store", Phone: "01711000002", OpeningBalance: decimal.NewFromInt(250), CreditLimit: decimal.NewFromInt(1000), Active: true},
		{ID: "cust-003", Name: "Closed Mart", OpeningBalance: decimal.Zero, CreditLimit: decimal.Zero, Active: false},
	}
	for _, c := range customers {
		c.TotalDue = c.OpeningBalance
		c.CreatedAt, c.UpdatedAt = now, now
		s.state.customers[c.ID] = c
	}

	products := []domain.Product{
		{ID: "prod-001", Name: "Cotton Shirt", Code: "CS-01", UnitPrice: decimal.NewFromInt(45), OpeningStock: 100, PiecesPerBundle: 12, MinStockAlert: 20, Active: true},
		{ID: "prod-002", Name: "Denim Pant", Code: "DP-01", UnitPrice: decimal.NewFromInt(90), OpeningStock: 60, PiecesPerBundle: 6, MinStockAlert: 10, Active: true},
		{ID: "prod-003", Name: "Old Model Cap", Code: "OC-01", UnitPrice: decimal.NewFromInt(15), OpeningStock: 5, PiecesPerBundle: 10, MinStockAlert: 0, Active: false},
	}
	for _, p := range products {
		p.StockPieces = p.OpeningStock
		p.CreatedAt, p.UpdatedAt = now, now
		s.state.products[p.ID] = p
	}

	usingDefaults := false
	for _, u := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"staff", "SEED_STAFF_PASSWORD", "staff123", domain.RoleStaff},
	} {
		password := os.Getenv(u.envKey)
		if password == "" {
			password = u.fallback
			usingDefaults = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.usersByUsername[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	if usingDefaults {
		logger.Warn("memory store is using default dev credentials; set SEED_*_PASSWORD to override")
	}
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&memTx{state: &working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) ListCustomers(_ context.Context, activeOnly bool) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Customer, 0, len(s.state.customers))
	for _, c := range s.state.customers {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.state.customers[id]
	if !ok {
		return nil, store.NewNotFoundError("customer", id)
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.NewValidationError("customer", "id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.customers[customer.ID]; exists {
		return nil, store.NewValidationError("id", "customer already exists")
	}
	s.state.customers[customer.ID] = customer
	return &customer, nil
}

// UpdateCustomer writes descriptive fields only; the running balance and
// opening balance are kept from the stored row.
func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.state.customers[customer.ID]
	if !ok {
		return nil, store.NewNotFoundError("customer", customer.ID)
	}
	existing.Name = customer.Name
	existing.Phone = customer.Phone
	existing.Address = customer.Address
	existing.CreditLimit = customer.CreditLimit
	existing.Active = customer.Active
	existing.UpdatedAt = customer.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = time.Now().UTC()
	}
	s.state.customers[customer.ID] = existing
	return &existing, nil
}

func (s *Store) ListProducts(_ context.Context, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.products[id]
	if !ok {
		return nil, store.NewNotFoundError("product", id)
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.NewValidationError("product", "id and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.products[product.ID]; exists {
		return nil, store.NewValidationError("id", "product already exists")
	}
	if product.Code != "" {
		for _, p := range s.state.products {
			if strings.EqualFold(p.Code, product.Code) {
				return nil, store.NewValidationError("code", "product code already in use")
			}
		}
	}
	s.state.products[product.ID] = product
	return &product, nil
}

// UpdateProduct writes descriptive fields only; stock is kept.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.state.products[product.ID]
	if !ok {
		return nil, store.NewNotFoundError("product", product.ID)
	}
	existing.Name = product.Name
	existing.Code = product.Code
	existing.UnitPrice = product.UnitPrice
	existing.PiecesPerBundle = product.PiecesPerBundle
	existing.MinStockAlert = product.MinStockAlert
	existing.Active = product.Active
	existing.UpdatedAt = product.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = time.Now().UTC()
	}
	s.state.products[product.ID] = existing
	return &existing, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.RecordFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ProductID != "" && !slices.ContainsFunc(sale.Items, func(it domain.SaleItem) bool { return it.ProductID == filter.ProductID }) {
			continue
		}
		out = append(out, copySale(sale))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].SaleDate, out[i].CreatedAt, out[i].ID, out[j].SaleDate, out[j].CreatedAt, out[j].ID)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.state.sales[id]
	if !ok {
		return nil, store.NewNotFoundError("sale", id)
	}
	out := copySale(sale)
	return &out, nil
}

func (s *Store) ListPayments(_ context.Context, filter domain.RecordFilter) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Payment, 0, len(s.state.payments))
	for _, p := range s.state.payments {
		if filter.CustomerID != "" && p.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].PaidOn, out[i].CreatedAt, out[i].ID, out[j].PaidOn, out[j].CreatedAt, out[j].ID)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *Store) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.payments[id]
	if !ok {
		return nil, store.NewNotFoundError("payment", id)
	}
	return &p, nil
}

func (s *Store) ListProductions(_ context.Context, filter domain.RecordFilter) ([]domain.Production, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Production, 0, len(s.state.productions))
	for _, p := range s.state.productions {
		if filter.ProductID != "" && p.ProductID != filter.ProductID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].ProducedOn, out[i].CreatedAt, out[i].ID, out[j].ProducedOn, out[j].CreatedAt, out[j].ID)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *Store) GetProduction(_ context.Context, id string) (*domain.Production, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.productions[id]
	if !ok {
		return nil, store.NewNotFoundError("production", id)
	}
	return &p, nil
}

func (s *Store) ListSalesReturns(_ context.Context, filter domain.RecordFilter) ([]domain.SalesReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SalesReturn, 0, len(s.state.returns))
	for _, r := range s.state.returns {
		if filter.CustomerID != "" && r.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ProductID != "" && !slices.ContainsFunc(r.Items, func(it domain.SalesReturnItem) bool { return it.ProductID == filter.ProductID }) {
			continue
		}
		out = append(out, copyReturn(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].ReturnDate, out[i].CreatedAt, out[i].ID, out[j].ReturnDate, out[j].CreatedAt, out[j].ID)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *Store) GetSalesReturn(_ context.Context, id string) (*domain.SalesReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.returns[id]
	if !ok {
		return nil, store.NewNotFoundError("sales return", id)
	}
	out := copyReturn(r)
	return &out, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" {
		return nil, store.NewValidationError("id", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expensesByID[expense.ID] = expense
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Expense, 0, len(s.expensesByID))
	for _, e := range s.expensesByID {
		if e.SpentOn.Before(from) || !e.SpentOn.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].SpentOn, out[i].CreatedAt, out[i].ID, out[j].SpentOn, out[j].CreatedAt, out[j].ID)
	})
	return limitSlice(out, limit), nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expensesByID[id]; !ok {
		return store.NewNotFoundError("expense", id)
	}
	delete(s.expensesByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.NewValidationError("username", "username and password are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.NewValidationError("username", "already exists")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.NewNotFoundError("user", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func copySale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	return sale
}

func copyReturn(r domain.SalesReturn) domain.SalesReturn {
	r.Items = slices.Clone(r.Items)
	return r
}

func newerFirst(aDate, aCreated time.Time, aID string, bDate, bCreated time.Time, bID string) bool {
	if !aDate.Equal(bDate) {
		return aDate.After(bDate)
	}
	if !aCreated.Equal(bCreated) {
		return aCreated.After(bCreated)
	}
	return aID > bID
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
