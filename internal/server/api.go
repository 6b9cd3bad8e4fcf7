package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/shared"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 16 << 20
)

// APIHandler serves the admin JSON API over an [admin.Service].
type APIHandler struct {
	svc    *admin.Service
	mux    *http.ServeMux
	logger *log.Logger
}

// NewAPIHandler creates an [APIHandler].
func NewAPIHandler(svc *admin.Service, logger *log.Logger) *APIHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	h := &APIHandler{svc: svc, mux: http.NewServeMux(), logger: logger}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /api/stats", h.stats)

	h.mux.HandleFunc("GET /api/accounts", h.listAccounts)
	h.mux.HandleFunc("POST /api/accounts", h.createAccount)
	h.mux.HandleFunc("POST /api/accounts/import", h.importAccounts)
	h.mux.HandleFunc("POST /api/accounts/check", h.checkAccounts)
	h.mux.HandleFunc("DELETE /api/accounts/{id}", h.deleteAccount)
	h.mux.HandleFunc("POST /api/accounts/{id}/challenge", h.requestChallenge)
	h.mux.HandleFunc("POST /api/accounts/{id}/verify", h.verifyAccount)
	h.mux.HandleFunc("PUT /api/accounts/{id}/proxy", h.assignProxy)

	h.mux.HandleFunc("GET /api/proxies", h.listProxies)
	h.mux.HandleFunc("POST /api/proxies", h.createProxy)
	h.mux.HandleFunc("DELETE /api/proxies/{id}", h.deleteProxy)

	h.mux.HandleFunc("GET /api/tasks", h.listTasks)
	h.mux.HandleFunc("POST /api/tasks", h.createTask)
	h.mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	h.mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	h.mux.HandleFunc("POST /api/tasks/{id}/run", h.runTask)
	h.mux.HandleFunc("POST /api/tasks/{id}/reset", h.resetTask)
	h.mux.HandleFunc("PUT /api/tasks/{id}/schedule", h.rescheduleTask)
	return h
}

// Routes implements [Handler].
func (h *APIHandler) Routes() []string {
	return []string{"/health", "/api/"}
}

// ServeHTTP implements [http.Handler].
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *APIHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	criteria := map[string]any{}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: active=%q", shared.ErrInvalidArgument, v))
			return
		}
		criteria["active"] = active
	}

	views, err := h.svc.ListAccounts(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) createAccount(w http.ResponseWriter, r *http.Request) {
	var in admin.AccountInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	verify, _ := strconv.ParseBool(r.URL.Query().Get("verify"))

	account, err := h.svc.CreateAccount(r.Context(), in, verify)
	if err != nil {
		if account != nil && errors.Is(err, shared.ErrChallengeRequired) {
			writeJSON(w, http.StatusAccepted, map[string]any{"account": account, "error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *APIHandler) importAccounts(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	report, err := h.svc.ImportAccounts(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *APIHandler) checkAccounts(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.CheckValidity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *APIHandler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.DeleteAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": r.PathValue("id"), "tasks_removed": removed})
}

func (h *APIHandler) requestChallenge(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.RequestChallenge(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pending": pending})
}

func (h *APIHandler) verifyAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	account, err := h.svc.VerifyChallenge(r.Context(), r.PathValue("id"), in.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *APIHandler) assignProxy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ProxyID string `json:"proxy_id"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.AssignProxy(r.Context(), r.PathValue("id"), in.ProxyID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) listProxies(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.ListProxies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) createProxy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	proxy, err := h.svc.CreateProxy(r.Context(), in.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, admin.ProxyView{Proxy: proxy, URL: proxy.Redacted()})
}

func (h *APIHandler) deleteProxy(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProxy(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := map[string]any{}
	if status := q.Get("status"); status != "" {
		criteria["status"] = status
	}
	if ref := q.Get("account"); ref != "" {
		account, err := h.svc.ResolveAccount(r.Context(), ref)
		if err != nil {
			writeError(w, err)
			return
		}
		criteria["account_id"] = account.ID
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, fmt.Errorf("%w: limit=%q", shared.ErrInvalidArgument, v))
			return
		}
		criteria["limit"] = limit
	}

	views, err := h.svc.ListTasks(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *APIHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var in admin.TaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.svc.CreateTask(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *APIHandler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *APIHandler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) runTask(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.RunTask(r.Context(), r.PathValue("id"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *APIHandler) resetTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetTask(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.svc.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *APIHandler) rescheduleTask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ScheduledTime *time.Time `json:"scheduled_time"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.svc.RescheduleTask(r.Context(), r.PathValue("id"), in.ScheduledTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", shared.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case admin.IsNotFound(err):
		return http.StatusNotFound
	case admin.IsConflict(err):
		return http.StatusConflict
	case admin.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrChallengeRequired),
		errors.Is(err, shared.ErrAccountInactive),
		errors.Is(err, shared.ErrNoPendingChallenge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrUnknownAuthFailure),
		errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorBody{Error: err.Error(), Time: time.Now().UTC()})
}
