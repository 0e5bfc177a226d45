package journal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Read route defaults.
const (
	DefaultSince       = time.Hour
	DefaultSearchLimit = 50
	MaxSearchLimit     = 500
)

// page is the JSON body of both read routes.
type page struct {
	Entries []Entry `json:"entries"`
}

// Handler serves read access to a [Store]:
//
//   - GET /journal?since=15m returns entries no older than since (default
//     one hour), oldest first.
//   - GET /journal/search?q=clock+sorry&limit=20 returns entries matching
//     every word of q, newest first.
type Handler struct {
	store Store
	log   *slog.Logger
}

// NewHandler returns a Handler reading from store. A nil log uses
// slog.Default.
func NewHandler(store Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, log: log}
}

// Recent handles GET /journal.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	since := DefaultSince
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "since must be a positive duration such as 15m", http.StatusBadRequest)
			return
		}
		since = d
	}

	entries, err := h.store.Recent(r.Context(), since)
	if err != nil {
		h.log.Warn("journal: recent failed", "since", since, "err", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, page{Entries: entries})
}

// Search handles GET /journal/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	limit := DefaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxSearchLimit)
	}

	entries, err := h.store.Search(r.Context(), query, limit)
	if err != nil {
		h.log.Warn("journal: search failed", "query", query, "err", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, page{Entries: entries})
}

// Register adds the /journal and /journal/search routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /journal", h.Recent)
	mux.HandleFunc("GET /journal/search", h.Search)
}

func writeJSON(w http.ResponseWriter, p page) {
	if p.Entries == nil {
		p.Entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(p)
}
