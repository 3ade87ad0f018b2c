package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/invoice"
	"apotekpos/backend/internal/ledger"
	"apotekpos/backend/internal/metrics"
	"apotekpos/backend/internal/returns"
	"apotekpos/backend/internal/session"
)

const sessionsPrefix = "/api/v1/sessions/"

type API struct {
	sessions      *session.Manager
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *keyedLimiter
	pinLimiter    *keyedLimiter
}

func New(sessions *session.Manager, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		sessions:      sessions,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newKeyedLimiter(5, time.Minute),
		pinLimiter:    newKeyedLimiter(8, time.Minute),
	}
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
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc(sessionsPrefix, a.requireAuth(a.handleSessions, RoleCashier, RoleAdmin))

	return a.withMiddleware(mux)
}

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
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
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"at":       time.Now().UTC().Format(time.RFC3339),
		"sessions": a.sessions.Len(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSessions routes /api/v1/sessions/{flow}/{id}[/...].
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionsPrefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		writeError(w, http.StatusBadRequest, errors.New("session path must be /api/v1/sessions/{flow}/{id}"))
		return
	}

	sess, err := a.sessions.Get(r.Context(), domain.Flow(parts[0]), parts[1])
	if err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}

	action := parts[2:]
	switch {
	case len(action) == 0:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, sess.State())
	case len(action) == 1 && action[0] == "commands":
		a.handleCommand(w, r, sess)
	case len(action) == 1 && action[0] == "complete":
		a.handleComplete(w, r, sess)
	case len(action) == 3 && action[0] == "pending":
		a.handlePending(w, r, sess, action[1], action[2])
	case len(action) == 2 && action[0] == "returns" && action[1] == "item-based":
		a.handleItemBasedReturn(w, r, sess)
	case len(action) == 2 && action[0] == "returns" && action[1] == "full":
		a.handleFullReturn(w, r, sess)
	default:
		writeError(w, http.StatusNotFound, errors.New("unknown session action"))
	}
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := session.CommandFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := sess.Dispatch(cmd)
	if err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CommandResponse{
		Changed: res.Changed,
		ItemID:  res.ItemID,
		State:   sess.State(),
	})
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request, sess *session.Session, actionID string, verb string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var err error
	switch verb {
	case "confirm":
		_, err = sess.Confirm(actionID)
	case "dismiss":
		err = sess.Dismiss(actionID)
	default:
		writeError(w, http.StatusNotFound, errors.New("pending action verb must be confirm or dismiss"))
		return
	}
	if err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (a *API) handleItemBasedReturn(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ItemBasedReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := sess.LoadItemBasedReturn(r.Context(), req.InvoiceNumber); err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (a *API) handleFullReturn(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.FullReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:full-return:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	result, err := sess.FullReturn(r.Context(), req.InvoiceNumber, req.Reason)
	if err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}
	if actor, ok := actorFromContext(r.Context()); ok {
		log.Printf("[httpapi] full return of %s by %s", req.InvoiceNumber, actor.Username)
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleComplete(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	result, totals, err := sess.Complete(r.Context())
	if err != nil {
		writeError(w, sessionErrorStatus(err), err)
		return
	}
	if actor, ok := actorFromContext(r.Context()); ok {
		log.Printf("[httpapi] %s/%s completed by %s", sess.Flow(), sess.ID(), actor.Username)
	}
	writeJSON(w, http.StatusOK, domain.CompleteResponse{Result: result, Totals: totals})
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, session.ErrInvalidCommand),
		errors.Is(err, ledger.ErrUnknownCommand),
		errors.Is(err, returns.ErrInvoiceRequired),
		errors.Is(err, returns.ErrReasonRequired):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, returns.ErrStaleLookup),
		errors.Is(err, session.ErrSubmitting),
		errors.Is(err, session.ErrValidationPending):
		return http.StatusConflict
	case errors.Is(err, invoice.ErrNetwork),
		errors.Is(err, returns.ErrEmptyInvoice):
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies are generic, except 502 where the upstream message is meant
	// for the operator.
	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
