package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/store"
)

// DecisionsHandler handles GET /admin/v1/decisions?limit=N&offset=N.
func DecisionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeJSON(w, http.StatusOK, map[string]any{"decisions": []store.DecisionRecord{}})
			return
		}
		limit := 100
		offset := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		decisions, err := d.Store.ListDecisions(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if decisions == nil {
			decisions = []store.DecisionRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"decisions": decisions,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

// StatsHandler handles GET /admin/v1/stats, optionally grouped with ?by=mode.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Stats == nil {
			writeJSON(w, http.StatusOK, map[string]any{"global": []any{}})
			return
		}
		var grouped any
		switch r.URL.Query().Get("by") {
		case "mode":
			grouped = d.Stats.SummaryByMode()
		default:
			grouped = d.Stats.Summary()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"global":  d.Stats.Global(),
			"grouped": grouped,
		})
	}
}

// LogLevelHandler handles PUT /admin/v1/loglevel with body {"level":"debug"}.
func LogLevelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Level string `json:"level"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		switch body.Level {
		case "debug", "info", "warn", "error":
		default:
			jsonError(w, "level must be one of debug, info, warn, error", http.StatusBadRequest)
			return
		}
		logging.SetLevel(body.Level)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "level": body.Level})
	}
}
