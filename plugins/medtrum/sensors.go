package medtrum

import (
	"strconv"
	"strings"
	"time"
)

// SensorKind selects how a field is rendered.
type SensorKind int

const (
	KindNumber SensorKind = iota
	KindEnum
	KindTimestamp
)

// SensorDescriptor maps one snapshot field to its display metadata.
type SensorDescriptor struct {
	Key         string
	Scope       Scope
	Name        string
	Kind        SensorKind
	Unit        string
	DeviceClass string
	Icon        string
	// Metric is the Prometheus gauge name; empty skips export.
	Metric string
	Help   string
}

const (
	iconPump          = "mdi:needle"
	iconSensor        = "mdi:diabetes"
	iconClock         = "mdi:clock"
	iconTimeline      = "mdi:timeline-clock"
	iconBasal         = "mdi:water-sync"
	iconBolus         = "mdi:water-plus"
	iconVolume        = "mdi:gauge"
	iconRemainingTime = "mdi:clock-end"
)

var sensorDescriptors = []SensorDescriptor{
	{Key: "status", Scope: ScopePump, Name: "Pump Status", Kind: KindEnum, DeviceClass: "enum", Icon: iconPump,
		Metric: "gohome_medtrum_pump_status_code", Help: "Pump status code"},
	{Key: "remainingTime", Scope: ScopePump, Name: "Pump Remaining time", Unit: "min", DeviceClass: "duration", Icon: iconRemainingTime,
		Metric: "gohome_medtrum_pump_remaining_minutes", Help: "Pump patch remaining time (minutes)"},
	{Key: "remainingDose", Scope: ScopePump, Name: "Pump Remaining dose", Unit: "U", DeviceClass: "volume_storage", Icon: iconVolume,
		Metric: "gohome_medtrum_pump_remaining_units", Help: "Insulin remaining in reservoir (units)"},
	{Key: "updateTime", Scope: ScopePump, Name: "Pump Last update", Kind: KindTimestamp, DeviceClass: "timestamp", Icon: iconClock,
		Metric: "gohome_medtrum_pump_last_update_timestamp_seconds", Help: "Last pump report (epoch seconds)"},
	{Key: "basalRate", Scope: ScopePump, Name: "Pump Basal rate", Unit: "U/h", Icon: iconBasal,
		Metric: "gohome_medtrum_pump_basal_rate_units_per_hour", Help: "Current basal rate (units/hour)"},
	{Key: "basalSum", Scope: ScopePump, Name: "Pump Basal today", Unit: "U", Icon: iconBasal,
		Metric: "gohome_medtrum_pump_basal_today_units", Help: "Basal insulin delivered today (units)"},
	{Key: "bolusSum", Scope: ScopePump, Name: "Pump Bolus today", Unit: "U", Icon: iconBolus,
		Metric: "gohome_medtrum_pump_bolus_today_units", Help: "Bolus insulin delivered today (units)"},
	{Key: "bolusDeliveried", Scope: ScopePump, Name: "Pump Last bolus", Unit: "U", Icon: iconBolus,
		Metric: "gohome_medtrum_pump_last_bolus_units", Help: "Last bolus delivered (units)"},
	{Key: "bolusDeliveriedTime", Scope: ScopePump, Name: "Pump Last bolus time", Kind: KindTimestamp, DeviceClass: "timestamp", Icon: iconTimeline,
		Metric: "gohome_medtrum_pump_last_bolus_timestamp_seconds", Help: "Last bolus time (epoch seconds)"},
	{Key: "iob", Scope: ScopePump, Name: "Pump Insulin on board", Unit: "U", Icon: iconBolus,
		Metric: "gohome_medtrum_pump_insulin_on_board_units", Help: "Insulin on board (units)"},
	{Key: "bGTarget", Scope: ScopePump, Name: "Pump Glucose target", Unit: "mmol/L", Icon: iconSensor,
		Metric: "gohome_medtrum_pump_glucose_target_mmol", Help: "Configured glucose target (mmol/L)"},
	{Key: "autobasalstatus", Scope: ScopePump, Name: "Pump Auto basal status", Icon: iconBasal,
		Metric: "gohome_medtrum_pump_auto_basal_status", Help: "Auto basal status code"},
	{Key: "status", Scope: ScopeSensor, Name: "Sensor Status", Icon: iconSensor,
		Metric: "gohome_medtrum_sensor_status_code", Help: "CGM sensor status code"},
}

// SensorDescriptors returns the static sensor table.
func SensorDescriptors() []SensorDescriptor {
	out := make([]SensorDescriptor, len(sensorDescriptors))
	copy(out, sensorDescriptors)
	return out
}

// UniqueID is stable per account and field.
func (d SensorDescriptor) UniqueID(uid string) string {
	if d.Scope == ScopePump {
		return uid + "_" + d.Key
	}
	return uid + "_" + string(d.Scope) + "_" + d.Key
}

// Reading is one rendered sensor value.
type Reading struct {
	Key         string            `json:"key"`
	Scope       Scope             `json:"scope"`
	UniqueID    string            `json:"unique_id"`
	Name        string            `json:"name"`
	State       string            `json:"state"`
	Value       *float64          `json:"value,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	DeviceClass string            `json:"device_class,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	Available   bool              `json:"available"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Metric      string            `json:"-"`
}

// Readings renders every descriptor against the snapshot. Fields missing
// from the snapshot come back unavailable.
func Readings(snapshot *Snapshot) []Reading {
	if snapshot == nil {
		return nil
	}
	out := make([]Reading, 0, len(sensorDescriptors))
	for _, desc := range sensorDescriptors {
		out = append(out, render(desc, snapshot))
	}
	return out
}

// ReadingsForScope filters Readings to one device scope.
func ReadingsForScope(snapshot *Snapshot, scope Scope) []Reading {
	var out []Reading
	for _, r := range Readings(snapshot) {
		if r.Scope == scope {
			out = append(out, r)
		}
	}
	return out
}

func render(desc SensorDescriptor, snapshot *Snapshot) Reading {
	fields := snapshot.ScopeFields(desc.Scope)
	reading := Reading{
		Key:         desc.Key,
		Scope:       desc.Scope,
		UniqueID:    desc.UniqueID(snapshot.UID),
		Name:        desc.Name,
		Unit:        desc.Unit,
		DeviceClass: desc.DeviceClass,
		Icon:        desc.Icon,
		Metric:      desc.Metric,
	}
	if desc.Key == "status" && fields != nil {
		reading.Attributes = statusAttributes(snapshot, fields)
	}
	if !fields.Has(desc.Key) {
		return reading
	}

	switch desc.Kind {
	case KindEnum:
		code, ok := fields.Int(desc.Key)
		if !ok {
			return reading
		}
		value := float64(code)
		reading.Value = &value
		reading.State = PumpStatusLabel(code)
	case KindTimestamp:
		ts, ok := fields.Time(desc.Key)
		if !ok {
			return reading
		}
		value := float64(ts.Unix())
		reading.Value = &value
		reading.State = ts.Format(time.RFC3339)
	default:
		if v, ok := fields.Float(desc.Key); ok {
			reading.Value = &v
		}
		state, ok := fields.String(desc.Key)
		if !ok {
			return reading
		}
		reading.State = state
	}
	reading.Available = true
	return reading
}

func statusAttributes(snapshot *Snapshot, fields Fields) map[string]string {
	attrs := map[string]string{
		"User ID": snapshot.UID,
		"Patient": snapshot.RealName,
	}
	if serial, ok := fields.Int("serial"); ok {
		attrs["Serial number"] = FormatSerial(serial)
	}
	return attrs
}

// FormatSerial renders a device serial as upper-case hex.
func FormatSerial(serial int64) string {
	if serial < 0 {
		return "-" + strings.ToUpper(strconv.FormatInt(-serial, 16))
	}
	return strings.ToUpper(strconv.FormatInt(serial, 16))
}
