package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/gohome-medtrum/internal/core"
)

type pluginHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Plugins map[string]pluginHealth `json:"plugins"`
}

// HealthHandler reports per-plugin health. Any plugin in ERROR turns the
// response into a 503; DEGRADED plugins still answer 200.
func HealthHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Plugins: make(map[string]pluginHealth, len(plugins))}
		code := http.StatusOK
		for _, p := range plugins {
			health := p.Health()
			resp.Plugins[p.ID()] = pluginHealth{Status: string(health), Message: p.HealthMessage()}
			if health == core.HealthError {
				resp.Status = "error"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
