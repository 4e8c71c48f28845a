package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"bizledger/backend/internal/alerts"
	"bizledger/backend/internal/cache"
	"bizledger/backend/internal/domain"
	"bizledger/backend/internal/ledger"
	"bizledger/backend/internal/service"
	"bizledger/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	log := zaptest.NewLogger(t)
	repo := memory.NewSeeded(log)
	reg := prometheus.NewRegistry()
	engine := ledger.NewEngine(repo, log, ledger.NewMetrics(reg), ledger.Options{})
	alertEngine := alerts.NewEngine(repo, cache.NewMemoryAlertCache(), time.Minute, log)
	svc := service.New(repo, engine, alertEngine, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	auth := NewAuthManager(ctx, "test-secret-key-for-handler-tests", time.Hour, repo)

	return New(svc, auth, Options{
		AllowedOrigin: "*",
		Gatherer:      reg,
		Registerer:    reg,
		Logger:        log,
	})
}

var seedPasswords = map[string]string{
	"admin":   "admin123",
	"manager": "manager123",
	"staff":   "staff123",
}

// loginAs logs a seeded user in. Each user gets its own remote address so
// the login limiter never trips inside a single test.
func loginAs(t *testing.T, api *API, username string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: seedPasswords[username]})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = username + ":4000"
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// call sends an authenticated request, attaching a CSRF token on mutating
// methods.
func call(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCustomers_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/api/v1/customers", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestHandleCustomers_ActiveFilter(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff")

	rec := call(t, api, http.MethodGet, "/api/v1/customers?active=true", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Customers []domain.Customer `json:"customers"`
	}
	decodeBody(t, rec, &body)
	if len(body.Customers) != 2 {
		t.Fatalf("expected 2 active customers, got %d", len(body.Customers))
	}
	for _, c := range body.Customers {
		if !c.Active {
			t.Fatalf("inactive customer %s leaked into active list", c.ID)
		}
	}
}

func TestSaleLifecycleMovesDueAndStock(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager")

	rec := call(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleCommand{
		CustomerID: "cust-001",
		PaidAmount: decimal.NewFromInt(30),
		Items: []domain.LineItemInput{
			{ProductID: "prod-001", Bundles: 1, Pieces: 3, Rate: decimal.NewFromInt(45)},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	// 1 bundle of 12 plus 3 pieces at 45.
	if !created.Sale.NetAmount.Equal(decimal.NewFromInt(675)) {
		t.Fatalf("expected net 675, got %s", created.Sale.NetAmount)
	}

	assertCustomerDue(t, api, token, "cust-001", "645")
	assertProductStock(t, api, token, "prod-001", 85)

	rec = call(t, api, http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	assertCustomerDue(t, api, token, "cust-001", "0")
	assertProductStock(t, api, token, "prod-001", 100)

	rec = call(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestPaymentCreateAndEditViaHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager")

	rec := call(t, api, http.MethodPost, "/api/v1/payments", token, domain.PaymentCommand{
		CustomerID: "cust-002",
		Amount:     decimal.NewFromInt(100),
		Method:     domain.PaymentMethodCash,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Payment domain.Payment `json:"payment"`
	}
	decodeBody(t, rec, &created)
	assertCustomerDue(t, api, token, "cust-002", "150")

	rec = call(t, api, http.MethodPut, "/api/v1/payments/"+created.Payment.ID, token, domain.PaymentCommand{
		CustomerID: "cust-002",
		Amount:     decimal.NewFromInt(40),
		Method:     domain.PaymentMethodBank,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on edit, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	assertCustomerDue(t, api, token, "cust-002", "210")
}

func TestStaffCannotDeleteRecords(t *testing.T) {
	api := newTestAPI(t)
	staff := loginAs(t, api, "staff")

	rec := call(t, api, http.MethodPost, "/api/v1/productions", staff, domain.ProductionCommand{
		ProductID: "prod-002",
		Pieces:    10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Production domain.Production `json:"production"`
	}
	decodeBody(t, rec, &created)

	rec = call(t, api, http.MethodDelete, "/api/v1/productions/"+created.Production.ID, staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff delete, got %d", rec.Code)
	}
	assertProductStock(t, api, staff, "prod-002", 70)
}

func TestValidationErrorNamesField(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager")

	rec := call(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleCommand{
		CustomerID: "cust-001",
		Items:      []domain.LineItemInput{{ProductID: "prod-001", Rate: decimal.NewFromInt(45)}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero-quantity line, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["field"] == "" {
		t.Fatalf("expected field in validation response, got %v", body)
	}
}

func TestUnknownRecordReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager")

	for _, path := range []string{
		"/api/v1/sales/sale-missing",
		"/api/v1/payments/pay-missing",
		"/api/v1/productions/prd-missing",
		"/api/v1/sales-returns/ret-missing",
		"/api/v1/customers/cust-missing",
	} {
		rec := call(t, api, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestNestedResourcePathRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "manager")

	rec := call(t, api, http.MethodGet, "/api/v1/sales/a/b", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for nested path, got %d", rec.Code)
	}
}

func TestReconcileIsAdminOnlyOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/api/v1/ledger/reconcile", loginAs(t, api, "manager"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/ledger/reconcile", loginAs(t, api, "admin"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.ReconciliationReport
	decodeBody(t, rec, &report)
	if !report.Balanced {
		t.Fatalf("expected seeded ledger to be balanced, got %+v", report)
	}
}

func TestUsersEndpointCreatesAndAudits(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin")

	rec := call(t, api, http.MethodGet, "/api/v1/users", loginAs(t, api, "manager"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{
		Username: "clerk01",
		Password: "clerk-pass-01",
		Role:     domain.RoleStaff,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/audit-logs", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for audit logs, got %d", rec.Code)
	}
	var logs struct {
		AuditLogs []domain.AuditLog `json:"audit_logs"`
	}
	decodeBody(t, rec, &logs)
	if len(logs.AuditLogs) == 0 || logs.AuditLogs[0].Action != "user_create" {
		t.Fatalf("expected user_create audit entry, got %+v", logs.AuditLogs)
	}
}

func TestMetricsEndpointExposesLedgerCounters(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "staff")

	rec := call(t, api, http.MethodPost, "/api/v1/expenses", token, domain.ExpenseCreateRequest{
		Category: "transport",
		Amount:   decimal.NewFromInt(20),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for expense, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "bizledger_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}

func assertCustomerDue(t *testing.T, api *API, token, id, want string) {
	t.Helper()
	rec := call(t, api, http.MethodGet, "/api/v1/customers/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get customer %s: status %d", id, rec.Code)
	}
	var body struct {
		Customer domain.Customer `json:"customer"`
	}
	decodeBody(t, rec, &body)
	if !body.Customer.TotalDue.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("customer %s: expected due %s, got %s", id, want, body.Customer.TotalDue)
	}
}

func assertProductStock(t *testing.T, api *API, token, id string, want int64) {
	t.Helper()
	rec := call(t, api, http.MethodGet, "/api/v1/products/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product %s: status %d", id, rec.Code)
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &body)
	if body.Product.StockPieces != want {
		t.Fatalf("product %s: expected stock %d, got %d", id, want, body.Product.StockPieces)
	}
}
