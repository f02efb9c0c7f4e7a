package api

import (
	"encoding/json"
	"net/http"

	"github.com/zoravur/reactable/pkg/reltable"
)

// tableSummary is the /api/live view of one registered table: its name
// only, enough to confirm a table is live; it carries no cache statistics
// and no snapshot of cached rows.
type tableSummary struct {
	Name string `json:"name"`
}

// handleLiveQueries reports every table currently registered, replacing
// the original per-live-query snapshot with a per-table one now that
// subscriptions are rooted at FindMany/FindUnique calls rather than
// arbitrary parsed SQL.
func handleLiveQueries(tables *reltable.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []tableSummary
		tables.ForEach(func(name string, _ *reltable.Table) {
			out = append(out, tableSummary{Name: name})
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
