package httpapi

import (
	"crypto/rand"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dededemahendra/crm/internal/domain"
	"github.com/dededemahendra/crm/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	log           logrus.FieldLogger
	loginLimiter  *attemptLimiter
	exportLimiter *attemptLimiter
	csrf          *csrfSigner
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger logrus.FieldLogger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.WithError(err).Fatal("failed to generate csrf secret")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		log:           logger.WithField("component", "httpapi"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		exportLimiter: newAttemptLimiter(20, time.Minute),
		csrf:          newCSRFSigner(csrfSecret, time.Hour),
	}
}

var (
	anyRole    = []domain.Role{domain.RoleAdmin, domain.RoleManager, domain.RoleViewer}
	editorRole = []domain.Role{domain.RoleAdmin, domain.RoleManager}
	adminRole  = []domain.Role{domain.RoleAdmin}
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, editorRole...))
	mux.HandleFunc("POST /api/v1/products/bulk", a.requireAuth(a.handleBulkUpsertProducts, editorRole...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyRole...))
	mux.HandleFunc("PUT /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, editorRole...))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, adminRole...))
	mux.HandleFunc("POST /api/v1/products/{id}/adjust", a.requireAuth(a.handleAdjustStock, editorRole...))

	mux.HandleFunc("GET /api/v1/stock-movements", a.requireAuth(a.handleListStockMovements, anyRole...))
	mux.HandleFunc("POST /api/v1/stock-movements", a.requireAuth(a.handleCreateStockMovement, editorRole...))

	mux.HandleFunc("GET /api/v1/purchases", a.requireAuth(a.handleListPurchases, anyRole...))
	mux.HandleFunc("POST /api/v1/purchases", a.requireAuth(a.handleCreatePurchase, editorRole...))
	mux.HandleFunc("GET /api/v1/purchases/{id}", a.requireAuth(a.handleGetPurchase, anyRole...))
	mux.HandleFunc("POST /api/v1/purchases/{id}/cancel", a.requireAuth(a.handleCancelPurchase, editorRole...))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, anyRole...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, editorRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/void", a.requireAuth(a.handleVoidSale, editorRole...))

	mux.HandleFunc("GET /api/v1/expenses", a.requireAuth(a.handleListExpenses, anyRole...))
	mux.HandleFunc("POST /api/v1/expenses", a.requireAuth(a.handleCreateExpense, editorRole...))
	mux.HandleFunc("PUT /api/v1/expenses/{id}", a.requireAuth(a.handleUpdateExpense, editorRole...))
	mux.HandleFunc("DELETE /api/v1/expenses/{id}", a.requireAuth(a.handleDeleteExpense, editorRole...))

	mux.HandleFunc("GET /api/v1/other-income", a.requireAuth(a.handleListOtherIncome, anyRole...))
	mux.HandleFunc("POST /api/v1/other-income", a.requireAuth(a.handleCreateOtherIncome, editorRole...))
	mux.HandleFunc("PUT /api/v1/other-income/{id}", a.requireAuth(a.handleUpdateOtherIncome, editorRole...))
	mux.HandleFunc("DELETE /api/v1/other-income/{id}", a.requireAuth(a.handleDeleteOtherIncome, editorRole...))

	mux.HandleFunc("GET /api/v1/settings", a.requireAuth(a.handleGetSettings, anyRole...))
	mux.HandleFunc("PUT /api/v1/settings", a.requireAuth(a.handleUpsertSettings, adminRole...))

	mux.HandleFunc("GET /api/v1/reports/stock-summary", a.requireAuth(a.handleStockSummary, anyRole...))
	mux.HandleFunc("GET /api/v1/reports/pl", a.requireAuth(a.handlePLReport, anyRole...))
	mux.HandleFunc("GET /api/v1/dashboard", a.requireAuth(a.handleDashboard, anyRole...))
	mux.HandleFunc("GET /api/v1/reconciliation", a.requireAuth(a.handleReconciliation, editorRole...))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, adminRole...))

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, adminRole...))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, adminRole...))
	mux.HandleFunc("PUT /api/v1/users/{id}/role", a.requireAuth(a.handleUpdateUserRole, adminRole...))

	return a.withMiddleware(mux)
}

// requireAuth resolves the bearer token into a Principal and places it on the
// request context. The role list is a transport shortcut; the service checks
// roles again on every call.
func (a *API) requireAuth(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		principal, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, principal.Role) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithPrincipal(r.Context(), principal)))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if isStateChanging(r.Method) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		}).Info("request")
	})
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
