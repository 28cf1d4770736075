package medtrum

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Scope namespaces fields within a snapshot.
type Scope string

const (
	ScopePump   Scope = "pump"
	ScopeSensor Scope = "sensor"
)

// StatusKey is the snapshot key holding the scope's fields.
func (s Scope) StatusKey() string {
	return string(s) + "_status"
}

// Fields holds one device scope's raw values. Numbers are json.Number.
type Fields map[string]any

// Snapshot is the normalized result of one successful fetch. Published
// snapshots are shared between readers and must not be modified.
type Snapshot struct {
	UID      string `json:"uid"`
	RealName string `json:"realname"`
	Pump     Fields `json:"pump_status"`
	Sensor   Fields `json:"sensor_status"`

	FetchedAt time.Time `json:"-"`
}

// ScopeFields returns the fields for the given device scope.
func (s *Snapshot) ScopeFields(scope Scope) Fields {
	if s == nil {
		return nil
	}
	switch scope {
	case ScopePump:
		return s.Pump
	case ScopeSensor:
		return s.Sensor
	default:
		return nil
	}
}

func (f Fields) Has(key string) bool {
	if f == nil {
		return false
	}
	value, ok := f[key]
	return ok && value != nil
}

func (f Fields) Float(key string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	switch typed := f[key].(type) {
	case json.Number:
		v, err := typed.Float64()
		return v, err == nil
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case bool:
		if typed {
			return 1, true
		}
		return 0, true
	case string:
		v, err := strconv.ParseFloat(typed, 64)
		return v, err == nil
	}
	return 0, false
}

func (f Fields) Int(key string) (int64, bool) {
	if f == nil {
		return 0, false
	}
	if number, ok := f[key].(json.Number); ok {
		if v, err := number.Int64(); err == nil {
			return v, true
		}
	}
	v, ok := f.Float(key)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int64(v), true
}

func (f Fields) String(key string) (string, bool) {
	if f == nil {
		return "", false
	}
	switch typed := f[key].(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case bool:
		return strconv.FormatBool(typed), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	}
	return "", false
}

// Time reads an epoch timestamp in seconds or milliseconds.
func (f Fields) Time(key string) (time.Time, bool) {
	v, ok := f.Int(key)
	if !ok || v <= 0 {
		return time.Time{}, false
	}
	if v > 1e12 {
		return time.UnixMilli(v).UTC(), true
	}
	return time.Unix(v, 0).UTC(), true
}
