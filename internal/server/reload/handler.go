package reload

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewHandler builds the router a data plane mounts to receive reload
// requests from featherd. Each POST /reload is handed to trigger. A non-empty
// apiKey requires a matching bearer token.
func NewHandler(trigger Trigger, apiKey string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{trigger: trigger, apiKey: strings.TrimSpace(apiKey), logger: logger.With("component", "reload-receiver")}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(h.requireKey)
		r.Post("/reload", h.handleReload)
	})
	return r
}

type handler struct {
	trigger Trigger
	apiKey  string
	logger  *slog.Logger
}

func (h *handler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.trigger.Reload(r.Context()); err != nil {
		h.logger.Warn("reload failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.logger.Info("reload accepted", "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reloading"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
