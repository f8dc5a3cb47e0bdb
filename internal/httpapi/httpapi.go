package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"warehouse/backend/internal/attrschema"
	"warehouse/backend/internal/domain"
	"warehouse/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	validate      *validator.Validate
	logger        *logrus.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *logrus.Logger) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		validate:      newValidator(),
		logger:        logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/companies", a.requireAuth(a.handleCompanies, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/warehouses", a.requireAuth(a.handleWarehouses))
	mux.HandleFunc("/api/v1/employees", a.requireAuth(a.handleEmployees, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/templates", a.requireAuth(a.handleTemplates))
	mux.HandleFunc("/api/v1/templates/", a.requireAuth(a.handleTemplateActions))
	mux.HandleFunc("/api/v1/attributes/hash", a.requireAuth(a.handleAttributeHash))

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts))
	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory))
	mux.HandleFunc("/api/v1/inventory/movements", a.requireAuth(a.handleMovements))
	mux.HandleFunc("/api/v1/inventory/export.xlsx", a.requireAuth(a.handleInventoryExport))

	mux.HandleFunc("/api/v1/shipments", a.requireAuth(a.handleShipments))
	mux.HandleFunc("/api/v1/shipments/", a.requireAuth(a.handleShipmentActions))

	mux.HandleFunc("/api/v1/requests", a.requireAuth(a.handleRequests))
	mux.HandleFunc("/api/v1/requests/", a.requireAuth(a.handleRequestActions))

	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin))

	mux.HandleFunc("/shipments/", a.requireAuth(a.handleShipmentPrint))
	mux.HandleFunc("/inventory/print", a.requireAuth(a.handleInventoryPrint))

	return a.withMiddleware(mux)
}

var errUnknownAction = errors.New("unknown action")

const maxBodyBytes = 1 << 20

// actorHandler is a handler that runs on behalf of an authenticated actor.
type actorHandler func(w http.ResponseWriter, r *http.Request, actor domain.Actor)

func (a *API) requireAuth(next actorHandler, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r, actor)
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeRequest(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	a.logger.WithFields(logrus.Fields{"username": strings.ToLower(strings.TrimSpace(req.Username)), "role": resp.Role}).Info("login")
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), actor, query.Get("warehouse_id"), query.Get("date"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		}).Info("http request")
	})
}

// malformedBodyError marks a request body that could not be decoded at all.
type malformedBodyError struct {
	err error
}

func (e *malformedBodyError) Error() string { return "malformed request body: " + e.err.Error() }
func (e *malformedBodyError) Unwrap() error { return e.err }

// decodeJSON decodes the request body into dest. An empty body leaves dest untouched.
func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// decodeRequest decodes a JSON body into dest and runs its validate tags.
func (a *API) decodeRequest(r *http.Request, dest any) error {
	if err := decodeJSON(r, dest); err != nil {
		var schemaErr *attrschema.Error
		var domainErr *domain.Error
		if errors.As(err, &schemaErr) || errors.As(err, &domainErr) {
			return err
		}
		return &malformedBodyError{err: err}
	}
	if err := a.validate.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.Validation(fe.Field(), "%s %s", fe.Field(), validationMessage(fe))
		}
		return domain.Validation("", "%v", err)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " items or characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "must be a valid email address"
	case "hexadecimal":
		return "must be hexadecimal"
	}
	return "failed " + fe.Tag() + " validation"
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// resourcePath splits "/prefix/{id}/{action}" into id and action.
func resourcePath(path string, prefix string) (string, string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ := strings.Cut(tail, "/")
	return strings.TrimSpace(id), strings.TrimSpace(action)
}

type errorResponse struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind,omitempty"`
	Field     string   `json:"field,omitempty"`
	Allowed   []string `json:"allowed,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

func statusForKind(kind error, retryable bool) int {
	switch kind {
	case domain.ErrValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrState, domain.ErrConsistency:
		return http.StatusConflict
	case domain.ErrAuthorization:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	}
	if retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeServiceError maps a classified service error onto the JSON error body.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *malformedBodyError
	if errors.As(err, &malformed) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: malformed.Error(), Kind: domain.KindName(domain.ErrValidation)})
		return
	}

	kind := domain.KindOf(err)
	body := errorResponse{Error: err.Error(), Kind: domain.KindName(kind)}

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		body.Field = domainErr.Field
		body.Retryable = domainErr.Retryable
	}
	var schemaErr *attrschema.Error
	if errors.As(err, &schemaErr) {
		if body.Field == "" {
			body.Field = schemaErr.Field
		}
		body.Allowed = schemaErr.Allowed
	}

	status := statusForKind(kind, body.Retryable)
	if status >= 500 {
		a.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).WithError(err).Error("request failed")
		body.Error = "internal server error"
		if body.Retryable {
			body.Error = "temporarily unavailable, retry the request"
		}
	}
	writeJSON(w, status, body)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError writes a transport-level error. 5xx bodies never carry the cause.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func idRequired(entity string) error {
	return domain.Validation("id", "%s id required", entity)
}
