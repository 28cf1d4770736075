package core

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsRegistry registers the Go runtime and process collectors plus every
// plugin's collectors. A collector returned by more than one plugin is
// registered once; any other descriptor clash names the offending plugin.
func MetricsRegistry(plugins []Plugin) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			err := registry.Register(collector)
			var already prometheus.AlreadyRegisteredError
			if err == nil || errors.As(err, &already) {
				continue
			}
			return nil, fmt.Errorf("register %s metrics: %w", plugin.ID(), err)
		}
	}
	return registry, nil
}
