package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizledger/backend/internal/alerts"
	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/ledger"
	"bizledger/backend/internal/store"
	"bizledger/backend/internal/validation"
	"bizledger/backend/internal/xid"
)

type Service struct {
	repo     store.Repository
	ledger   *ledger.Engine
	alerts   *alerts.Engine
	validate *validation.Validator
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, engine *ledger.Engine, alertEngine *alerts.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		ledger:   engine,
		alerts:   alertEngine,
		validate: validation.New(),
		logger:   logger.Named("service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListCustomers(ctx context.Context, activeOnly bool) ([]domain.Customer, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, activeOnly)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.Customer{}, err
	}
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *c, nil
}

// CreateCustomer opens a ledger for a new customer; the opening balance
// becomes the initial total due.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := authorize(ctx, ActionManageCustomers); err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if err := s.validate.Struct(req); err != nil {
		return domain.Customer{}, err
	}

	now := s.now()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:             xid.New("cust"),
		Name:           req.Name,
		Phone:          req.Phone,
		Address:        req.Address,
		OpeningBalance: req.OpeningBalance,
		TotalDue:       req.OpeningBalance,
		CreditLimit:    req.CreditLimit,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_create", "customer", created.ID,
		fmt.Sprintf("name=%s,opening_balance=%s", created.Name, created.OpeningBalance.StringFixed(2)))
	s.invalidateAlerts(ctx)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if _, err := authorize(ctx, ActionManageCustomers); err != nil {
		return domain.Customer{}, err
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, store.NewValidationError("name", "is required")
		}
		updated.Name = name
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.CreditLimit != nil {
		if req.CreditLimit.IsNegative() {
			return domain.Customer{}, store.NewValidationError("credit_limit", "must be greater than or equal to 0")
		}
		if !domain.ValidMoney(*req.CreditLimit) {
			return domain.Customer{}, store.NewValidationError("credit_limit", "must have at most 2 decimal places and be below 1000000000000")
		}
		updated.CreditLimit = *req.CreditLimit
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, "customer_update", "customer", saved.ID,
		fmt.Sprintf("active=%t,credit_limit=%s", saved.Active, saved.CreditLimit.StringFixed(2)))
	s.invalidateAlerts(ctx)
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, activeOnly)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// CreateProduct registers a product; opening stock becomes the initial
// stock count.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := authorize(ctx, ActionManageProducts); err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := s.validate.Struct(req); err != nil {
		return domain.Product{}, err
	}
	if req.PiecesPerBundle == 0 {
		req.PiecesPerBundle = 1
	}

	now := s.now()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:              xid.New("prod"),
		Name:            req.Name,
		Code:            req.Code,
		UnitPrice:       req.UnitPrice,
		OpeningStock:    req.OpeningStock,
		StockPieces:     req.OpeningStock,
		PiecesPerBundle: req.PiecesPerBundle,
		MinStockAlert:   req.MinStockAlert,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.UnitPrice.StringFixed(2), created.OpeningStock))
	s.invalidateAlerts(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := authorize(ctx, ActionManageProducts); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.NewValidationError("name", "is required")
		}
		updated.Name = name
	}
	if req.Code != nil {
		updated.Code = strings.ToUpper(strings.TrimSpace(*req.Code))
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return domain.Product{}, store.NewValidationError("unit_price", "must be greater than or equal to 0")
		}
		if !domain.ValidMoney(*req.UnitPrice) {
			return domain.Product{}, store.NewValidationError("unit_price", "must have at most 2 decimal places and be below 1000000000000")
		}
		updated.UnitPrice = *req.UnitPrice
	}
	if req.PiecesPerBundle != nil {
		if *req.PiecesPerBundle < 1 || *req.PiecesPerBundle > 100000 {
			return domain.Product{}, store.NewValidationError("pieces_per_bundle", "must be between 1 and 100000")
		}
		updated.PiecesPerBundle = *req.PiecesPerBundle
	}
	if req.MinStockAlert != nil {
		if *req.MinStockAlert < 0 {
			return domain.Product{}, store.NewValidationError("min_stock_alert", "must be greater than or equal to 0")
		}
		updated.MinStockAlert = *req.MinStockAlert
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID,
		fmt.Sprintf("active=%t,price=%s,min_stock=%d", saved.Active, saved.UnitPrice.StringFixed(2), saved.MinStockAlert))
	s.invalidateAlerts(ctx)
	return *saved, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.RecordFilter) ([]domain.Sale, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) CreateSale(ctx context.Context, cmd domain.SaleCommand) (domain.Sale, error) {
	actor, err := authorize(ctx, ActionCreateRecord)
	if err != nil {
		return domain.Sale{}, err
	}
	cmd.CreatedBy = actor.Username

	sale, err := s.ledger.CreateSale(ctx, cmd)
	if err != nil {
		return domain.Sale{}, err
	}
	s.afterLedgerChange(ctx, "sale_create", "sale", sale.ID, saleDetail(sale))
	return sale, nil
}

func (s *Service) EditSale(ctx context.Context, id string, cmd domain.SaleCommand) (domain.Sale, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.ledger.EditSale(ctx, id, cmd)
	if err != nil {
		return domain.Sale{}, err
	}
	s.afterLedgerChange(ctx, "sale_edit", "sale", sale.ID, saleDetail(sale))
	return sale, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.ledger.DeleteSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	s.afterLedgerChange(ctx, "sale_delete", "sale", sale.ID, saleDetail(sale))
	return sale, nil
}

func (s *Service) ListPayments(ctx context.Context, filter domain.RecordFilter) ([]domain.Payment, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, filter)
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.Payment{}, err
	}
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	return *p, nil
}

func (s *Service) CreatePayment(ctx context.Context, cmd domain.PaymentCommand) (domain.Payment, error) {
	actor, err := authorize(ctx, ActionCreateRecord)
	if err != nil {
		return domain.Payment{}, err
	}
	cmd.CreatedBy = actor.Username

	payment, err := s.ledger.CreatePayment(ctx, cmd)
	if err != nil {
		return domain.Payment{}, err
	}
	s.afterLedgerChange(ctx, "payment_create", "payment", payment.ID, paymentDetail(payment))
	return payment, nil
}

func (s *Service) EditPayment(ctx context.Context, id string, cmd domain.PaymentCommand) (domain.Payment, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Payment{}, err
	}
	payment, err := s.ledger.EditPayment(ctx, id, cmd)
	if err != nil {
		return domain.Payment{}, err
	}
	s.afterLedgerChange(ctx, "payment_edit", "payment", payment.ID, paymentDetail(payment))
	return payment, nil
}

func (s *Service) DeletePayment(ctx context.Context, id string) (domain.Payment, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Payment{}, err
	}
	payment, err := s.ledger.DeletePayment(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	s.afterLedgerChange(ctx, "payment_delete", "payment", payment.ID, paymentDetail(payment))
	return payment, nil
}

func (s *Service) ListProductions(ctx context.Context, filter domain.RecordFilter) ([]domain.Production, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListProductions(ctx, filter)
}

func (s *Service) GetProduction(ctx context.Context, id string) (domain.Production, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.Production{}, err
	}
	p, err := s.repo.GetProduction(ctx, id)
	if err != nil {
		return domain.Production{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduction(ctx context.Context, cmd domain.ProductionCommand) (domain.Production, error) {
	actor, err := authorize(ctx, ActionCreateRecord)
	if err != nil {
		return domain.Production{}, err
	}
	cmd.CreatedBy = actor.Username

	production, err := s.ledger.CreateProduction(ctx, cmd)
	if err != nil {
		return domain.Production{}, err
	}
	s.afterLedgerChange(ctx, "production_create", "production", production.ID, productionDetail(production))
	return production, nil
}

func (s *Service) EditProduction(ctx context.Context, id string, cmd domain.ProductionCommand) (domain.Production, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Production{}, err
	}
	production, err := s.ledger.EditProduction(ctx, id, cmd)
	if err != nil {
		return domain.Production{}, err
	}
	s.afterLedgerChange(ctx, "production_edit", "production", production.ID, productionDetail(production))
	return production, nil
}

func (s *Service) DeleteProduction(ctx context.Context, id string) (domain.Production, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.Production{}, err
	}
	production, err := s.ledger.DeleteProduction(ctx, id)
	if err != nil {
		return domain.Production{}, err
	}
	s.afterLedgerChange(ctx, "production_delete", "production", production.ID, productionDetail(production))
	return production, nil
}

func (s *Service) ListSalesReturns(ctx context.Context, filter domain.RecordFilter) ([]domain.SalesReturn, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	return s.repo.ListSalesReturns(ctx, filter)
}

func (s *Service) GetSalesReturn(ctx context.Context, id string) (domain.SalesReturn, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.SalesReturn{}, err
	}
	r, err := s.repo.GetSalesReturn(ctx, id)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	return *r, nil
}

func (s *Service) CreateSalesReturn(ctx context.Context, cmd domain.SalesReturnCommand) (domain.SalesReturn, error) {
	actor, err := authorize(ctx, ActionCreateRecord)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	cmd.CreatedBy = actor.Username

	ret, err := s.ledger.CreateSalesReturn(ctx, cmd)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	s.afterLedgerChange(ctx, "sales_return_create", "sales_return", ret.ID, returnDetail(ret))
	return ret, nil
}

func (s *Service) EditSalesReturn(ctx context.Context, id string, cmd domain.SalesReturnCommand) (domain.SalesReturn, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.SalesReturn{}, err
	}
	ret, err := s.ledger.EditSalesReturn(ctx, id, cmd)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	s.afterLedgerChange(ctx, "sales_return_edit", "sales_return", ret.ID, returnDetail(ret))
	return ret, nil
}

func (s *Service) DeleteSalesReturn(ctx context.Context, id string) (domain.SalesReturn, error) {
	if _, err := authorize(ctx, ActionChangeRecord); err != nil {
		return domain.SalesReturn{}, err
	}
	ret, err := s.ledger.DeleteSalesReturn(ctx, id)
	if err != nil {
		return domain.SalesReturn{}, err
	}
	s.afterLedgerChange(ctx, "sales_return_delete", "sales_return", ret.ID, returnDetail(ret))
	return ret, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := authorize(ctx, ActionCreateExpense)
	if err != nil {
		return domain.Expense{}, err
	}
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validate.Struct(req); err != nil {
		return domain.Expense{}, err
	}

	spentOn := s.now()
	if req.SpentOn != "" {
		parsed, err := time.Parse("2006-01-02", req.SpentOn)
		if err != nil {
			return domain.Expense{}, store.NewValidationError("spent_on", "must be a date in YYYY-MM-DD format")
		}
		spentOn = parsed
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		ID:        xid.New("exp"),
		Category:  req.Category,
		Amount:    req.Amount,
		SpentOn:   spentOn,
		Note:      strings.TrimSpace(req.Note),
		CreatedBy: actor.Username,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", created.ID,
		fmt.Sprintf("category=%s,amount=%s", created.Category, created.Amount.StringFixed(2)))
	return *created, nil
}

// ListExpenses returns expenses spent within [from, to]. Empty bounds
// default to the last 30 days.
func (s *Service) ListExpenses(ctx context.Context, from string, to string, limit int) ([]domain.Expense, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return nil, err
	}
	today := s.now().Truncate(24 * time.Hour)

	end := today
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, store.NewValidationError("to", "must be a date in YYYY-MM-DD format")
		}
		end = parsed
	}
	start := end.AddDate(0, 0, -30)
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, store.NewValidationError("from", "must be a date in YYYY-MM-DD format")
		}
		start = parsed
	}
	if end.Before(start) {
		return nil, store.NewValidationError("to", "must not be before from")
	}
	return s.repo.ListExpenses(ctx, start, end.Add(24*time.Hour), limit)
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if _, err := authorize(ctx, ActionDeleteExpense); err != nil {
		return err
	}
	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "expense_delete", "expense", id, "deleted")
	return nil
}

// ReferenceData lists what entry forms offer: active products, active
// customers and the accepted payment methods.
func (s *Service) ReferenceData(ctx context.Context) (domain.ReferenceData, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.ReferenceData{}, err
	}
	products, err := s.repo.ListProducts(ctx, true)
	if err != nil {
		return domain.ReferenceData{}, err
	}
	customers, err := s.repo.ListCustomers(ctx, true)
	if err != nil {
		return domain.ReferenceData{}, err
	}
	return domain.ReferenceData{
		Products:       products,
		Customers:      customers,
		PaymentMethods: domain.PaymentMethods(),
	}, nil
}

func (s *Service) Alerts(ctx context.Context) (domain.AlertSnapshot, error) {
	if _, err := authorize(ctx, ActionRead); err != nil {
		return domain.AlertSnapshot{}, err
	}
	return s.alerts.Snapshot(ctx)
}

func (s *Service) Reconcile(ctx context.Context) (domain.ReconciliationReport, error) {
	if _, err := authorize(ctx, ActionReconcileLedger); err != nil {
		return domain.ReconciliationReport{}, err
	}
	report, err := s.ledger.Reconcile(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	s.logAudit(ctx, "ledger_reconcile", "ledger", "all",
		fmt.Sprintf("balanced=%t,discrepancies=%d", report.Balanced, len(report.Discrepancies)))
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := authorize(ctx, ActionViewAuditLog); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.NewValidationError("date", "must be a date in YYYY-MM-DD format")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// RecordAudit lets other layers, such as user management, write to the
// activity log under the current actor.
func (s *Service) RecordAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	s.logAudit(ctx, action, entityType, entityID, detail)
}

func (s *Service) afterLedgerChange(ctx context.Context, action string, entityType string, entityID string, detail string) {
	s.logAudit(ctx, action, entityType, entityID, detail)
	s.invalidateAlerts(ctx)
}

func (s *Service) invalidateAlerts(ctx context.Context) {
	if s.alerts != nil {
		s.alerts.Invalidate(ctx)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

func saleDetail(sale domain.Sale) string {
	return fmt.Sprintf("invoice=%s,customer=%s,net=%s,due=%s",
		sale.InvoiceNo, sale.CustomerID, sale.NetAmount.StringFixed(2), sale.DueAmount.StringFixed(2))
}

func paymentDetail(p domain.Payment) string {
	return fmt.Sprintf("customer=%s,sale=%s,amount=%s,method=%s",
		p.CustomerID, defaultString(p.SaleID, "-"), p.Amount.StringFixed(2), p.Method)
}

func productionDetail(p domain.Production) string {
	return fmt.Sprintf("product=%s,pieces=%d", p.ProductID, p.PiecesProduced)
}

func returnDetail(r domain.SalesReturn) string {
	return fmt.Sprintf("customer=%s,sale=%s,grand_total=%s,deduction=%s",
		r.CustomerID, defaultString(r.SaleID, "-"), r.GrandTotal.StringFixed(2), r.Deduction.StringFixed(2))
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
