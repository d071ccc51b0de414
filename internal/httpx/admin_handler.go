package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/order-relay/internal/orders"
	"github.com/ariefcatur/order-relay/internal/resequencer"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type GroupSource interface {
	Stats() resequencer.Stats
	Group(key string) (resequencer.GroupInfo, bool)
}

type FailureLister interface {
	ListRecent(ctx context.Context, limit int) ([]orders.Failure, error)
}

// AdminHandler exposes the relay's in-memory ordering state and the
// failure journal. Failures is nil when no database is configured.
type AdminHandler struct {
	Groups   GroupSource
	Failures FailureLister
	Log      *zap.Logger
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/groups", h.stats)
	r.Get("/groups/{id}", h.group)
	r.Get("/failures", h.failures)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Groups.Stats())
}

func (h *AdminHandler) group(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, ok := h.Groups.Group(id)
	if !ok {
		// tidak ada group aktif (sudah di-evict, belum pernah ada, atau sedang sibuk)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no live group"})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *AdminHandler) failures(w http.ResponseWriter, r *http.Request) {
	if h.Failures == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failure journal disabled"})
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	fs, err := h.Failures.ListRecent(ctx, limit)
	if err != nil {
		if h.Log != nil {
			h.Log.Error("list failures", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if fs == nil {
		fs = []orders.Failure{}
	}
	writeJSON(w, http.StatusOK, fs)
}
