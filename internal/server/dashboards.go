package server

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
)

const dashboardsPrefix = "/dashboards/"

// DashboardsHandler serves dashboard JSON by path. The bare prefix returns
// the list of known paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index := slices.Sorted(maps.Keys(dashboards))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == dashboardsPrefix {
			_ = json.NewEncoder(w).Encode(map[string][]string{"dashboards": index})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			w.Header().Del("Content-Type")
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
}
