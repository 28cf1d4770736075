package medtrum

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	snapshotEndpoint = "/medtrum/snapshot"
	readingsEndpoint = "/medtrum/readings"
)

func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc(snapshotEndpoint, func(w http.ResponseWriter, r *http.Request) {
		snapshot, ok := p.currentSnapshot(w)
		if !ok {
			return
		}
		writeJSON(w, snapshotView{Snapshot: snapshot, FetchedAt: snapshot.FetchedAt.Format(time.RFC3339)})
	})

	mux.HandleFunc(readingsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		snapshot, ok := p.currentSnapshot(w)
		if !ok {
			return
		}
		switch scope := Scope(r.URL.Query().Get("scope")); scope {
		case "":
			writeJSON(w, Readings(snapshot))
		case ScopePump, ScopeSensor:
			writeJSON(w, ReadingsForScope(snapshot, scope))
		default:
			http.Error(w, "unknown scope", http.StatusBadRequest)
		}
	})
}

func (p *Plugin) currentSnapshot(w http.ResponseWriter) (*Snapshot, bool) {
	if p.coordinator == nil {
		http.Error(w, "medtrum unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	snapshot := p.coordinator.Snapshot()
	if snapshot == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return snapshot, true
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
