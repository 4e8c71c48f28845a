package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bizledger/backend/internal/domain"
)

func recordFilter(r *http.Request) domain.RecordFilter {
	q := r.URL.Query()
	return domain.RecordFilter{
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		ProductID:  strings.TrimSpace(q.Get("product_id")),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 500),
	}
}

func activeOnly(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.ListCustomers(r.Context(), activeOnly(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.CreateCustomer(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/customers/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("customer id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		customer, err := a.service.GetCustomer(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
	case http.MethodPatch:
		var req domain.CustomerUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.UpdateCustomer(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context(), activeOnly(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/products/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("product id required"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.ListSales(r.Context(), recordFilter(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var cmd domain.SaleCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), cmd)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/sales/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("sale id required"))
		return
	}

	var (
		sale domain.Sale
		err  error
	)
	switch r.Method {
	case http.MethodGet:
		sale, err = a.service.GetSale(r.Context(), id)
	case http.MethodPut:
		var cmd domain.SaleCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err = a.service.EditSale(r.Context(), id, cmd)
	case http.MethodDelete:
		sale, err = a.service.DeleteSale(r.Context(), id)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		payments, err := a.service.ListPayments(r.Context(), recordFilter(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
	case http.MethodPost:
		var cmd domain.PaymentCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		payment, err := a.service.CreatePayment(r.Context(), cmd)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/payments/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("payment id required"))
		return
	}

	var (
		payment domain.Payment
		err     error
	)
	switch r.Method {
	case http.MethodGet:
		payment, err = a.service.GetPayment(r.Context(), id)
	case http.MethodPut:
		var cmd domain.PaymentCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		payment, err = a.service.EditPayment(r.Context(), id, cmd)
	case http.MethodDelete:
		payment, err = a.service.DeletePayment(r.Context(), id)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

func (a *API) handleProductions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		productions, err := a.service.ListProductions(r.Context(), recordFilter(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"productions": productions})
	case http.MethodPost:
		var cmd domain.ProductionCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		production, err := a.service.CreateProduction(r.Context(), cmd)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"production": production})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductionActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/productions/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("production id required"))
		return
	}

	var (
		production domain.Production
		err        error
	)
	switch r.Method {
	case http.MethodGet:
		production, err = a.service.GetProduction(r.Context(), id)
	case http.MethodPut:
		var cmd domain.ProductionCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		production, err = a.service.EditProduction(r.Context(), id, cmd)
	case http.MethodDelete:
		production, err = a.service.DeleteProduction(r.Context(), id)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"production": production})
}

func (a *API) handleSalesReturns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		returns, err := a.service.ListSalesReturns(r.Context(), recordFilter(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales_returns": returns})
	case http.MethodPost:
		var cmd domain.SalesReturnCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ret, err := a.service.CreateSalesReturn(r.Context(), cmd)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sales_return": ret})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSalesReturnActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/sales-returns/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("sales return id required"))
		return
	}

	var (
		ret domain.SalesReturn
		err error
	)
	switch r.Method {
	case http.MethodGet:
		ret, err = a.service.GetSalesReturn(r.Context(), id)
	case http.MethodPut:
		var cmd domain.SalesReturnCommand
		if err := decodeJSON(r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ret, err = a.service.EditSalesReturn(r.Context(), id, cmd)
	case http.MethodDelete:
		ret, err = a.service.DeleteSalesReturn(r.Context(), id)
	default:
		writeMethodNotAllowed(w)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales_return": ret})
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		expenses, err := a.service.ListExpenses(r.Context(), q.Get("from"), q.Get("to"), parsePositiveLimit(q.Get("limit"), 100, 500))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
	case http.MethodPost:
		var req domain.ExpenseCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expense, err := a.service.CreateExpense(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r.URL.Path, "/api/v1/expenses/")
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("expense id required"))
		return
	}
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteExpense(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleReferenceData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	ref, err := a.service.ReferenceData(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	snapshot, err := a.service.Alerts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.Reconcile(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		a.service.RecordAudit(r.Context(), "user_create", "user", user.Username, fmt.Sprintf("role=%s", user.Role))
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}
