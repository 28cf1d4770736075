package medtrum

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the coordinator's current snapshot. It never
// triggers a fetch; scrapes read whatever the refresh loop last stored.
type MetricsCollector struct {
	coordinator *Coordinator

	readings    map[string]*prometheus.GaugeVec
	order       []string
	delivering  *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
	authOK      prometheus.Gauge
	cycles      *prometheus.Desc

	mu sync.Mutex
}

func NewMetricsCollector(coordinator *Coordinator) *MetricsCollector {
	labels := []string{"uid"}
	c := &MetricsCollector{
		coordinator: coordinator,
		readings:    make(map[string]*prometheus.GaugeVec),
		delivering: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gohome_medtrum_pump_delivering",
			Help: "Pump is delivering basal insulin (1=yes, 0=no)",
		}, labels),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_medtrum_last_success_timestamp_seconds",
			Help: "Last successful EasyView refresh timestamp (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_medtrum_scrape_success",
			Help: "Last refresh success (1=ok, 0=error)",
		}),
		authOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gohome_medtrum_session_valid",
			Help: "EasyView session is authenticated (1=ok, 0=re-authentication required)",
		}),
		cycles: prometheus.NewDesc(
			"gohome_medtrum_refresh_cycles_total",
			"Refresh cycles by outcome",
			[]string{"outcome"}, nil,
		),
	}

	for _, desc := range sensorDescriptors {
		if desc.Metric == "" {
			continue
		}
		if _, ok := c.readings[desc.Metric]; ok {
			continue
		}
		c.readings[desc.Metric] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: desc.Metric,
			Help: desc.Help,
		}, labels)
		c.order = append(c.order, desc.Metric)
	}
	return c
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, name := range c.order {
		c.readings[name].Describe(ch)
	}
	c.delivering.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
	c.authOK.Describe(ch)
	ch <- c.cycles
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.order {
		c.readings[name].Reset()
	}
	c.delivering.Reset()

	if snapshot := c.coordinator.Snapshot(); snapshot != nil {
		for _, reading := range Readings(snapshot) {
			if reading.Metric == "" || reading.Value == nil {
				continue
			}
			c.readings[reading.Metric].WithLabelValues(snapshot.UID).Set(*reading.Value)
		}
		if code, ok := snapshot.Pump.Int("status"); ok {
			c.delivering.WithLabelValues(snapshot.UID).Set(boolGauge(pumpDelivering(code)))
		}
	}

	stats := c.coordinator.Stats()
	c.success.Set(boolGauge(stats.Last.Kind == OutcomeSuccess))
	c.authOK.Set(boolGauge(!stats.AuthFailed))
	if !stats.LastSuccess.IsZero() {
		c.lastSuccess.Set(float64(stats.LastSuccess.Unix()))
	}

	for _, name := range c.order {
		c.readings[name].Collect(ch)
	}
	c.delivering.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
	c.authOK.Collect(ch)
	for _, kind := range outcomeKinds {
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(stats.Cycles[kind]), kind.String())
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
