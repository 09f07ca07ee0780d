// Package httpapi exposes the service and analytics engine over JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"posledger/backend/internal/analytics"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
)

type API struct {
	service *service.Service
	engine  *analytics.Engine
}

func New(svc *service.Service, engine *analytics.Engine) *API {
	return &API{service: svc, engine: engine}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/products", a.handleProducts)
	mux.HandleFunc("/api/v1/products/", a.handleProductActions)
	mux.HandleFunc("/api/v1/customers", a.handleCustomers)
	mux.HandleFunc("/api/v1/customers/", a.handleCustomerActions)
	mux.HandleFunc("/api/v1/sales", a.handleSales)
	mux.HandleFunc("/api/v1/sales/", a.handleSaleActions)
	mux.HandleFunc("/api/v1/returns/items", a.handleItemReturns)

	mux.HandleFunc("/api/v1/analytics/sales", a.handleSalesAnalytics)
	mux.HandleFunc("/api/v1/analytics/inventory", a.handleInventoryReport)
	mux.HandleFunc("/api/v1/analytics/customers", a.handleCustomerAnalytics)
	mux.HandleFunc("/api/v1/analytics/products", a.handleProductAnalytics)

	return a.withMiddleware(mux)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.Products(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.AddProduct(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, action := splitAction(r.URL.Path, "/api/v1/products/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id is required"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		product, err := a.service.Product(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case action == "" && r.Method == http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	case action == "" && r.Method == http.MethodDelete:
		if err := a.service.DeleteProduct(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	case action == "restore" && r.Method == http.MethodPost:
		product, err := a.service.RestoreProduct(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.service.Customers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		customer, err := a.service.AddCustomer(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerActions(w http.ResponseWriter, r *http.Request) {
	id, action := splitAction(r.URL.Path, "/api/v1/customers/")
	if id == "" || action != "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid customer path"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	customer, err := a.service.Customer(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.Sales(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var draft domain.SaleDraft
		if err := decodeJSON(r, &draft); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), draft)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	id, action := splitAction(r.URL.Path, "/api/v1/sales/")
	if id == "" || action != "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid sale path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sale, err := a.service.Sale(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodPatch:
		var patch domain.SalePatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.UpdateSale(r.Context(), id, patch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	case http.MethodDelete:
		sale, err := a.service.DeleteSale(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.ReturnItems(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSalesAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	period := analytics.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = analytics.PeriodDaily
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("asOf must be YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}

	report, err := a.engine.SalesAnalytics(r.Context(), period, asOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleInventoryReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.engine.InventoryReport(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCustomerAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.engine.CustomerAnalytics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleProductAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.engine.ProductAnalytics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeServiceError maps domain errors onto HTTP statuses. Stock and return
// conflicts are 409 so clients can distinguish them from plain bad input.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		productMissing  *domain.ProductNotFoundError
		saleMissing     *domain.SaleNotFoundError
		customerMissing *domain.CustomerNotFoundError
		insufficient    *domain.InsufficientStockError
		overReturn      *domain.OverReturnError
	)
	switch {
	case errors.As(err, &productMissing), errors.As(err, &saleMissing), errors.As(err, &customerMissing):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &insufficient), errors.As(err, &overReturn):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func splitAction(path string, prefix string) (id string, action string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return "", ""
	}
	parts := strings.SplitN(tail, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log, not the response body.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
