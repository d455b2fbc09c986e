package thermostat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	stateUnavailable = "unavailable"
	stateUnknown     = "unknown"
)

// SensorFault describes why a reading was rejected. It matches
// ErrSensorInvalid with errors.Is.
type SensorFault struct {
	Raw    string
	Reason string
}

func (f *SensorFault) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrSensorInvalid, f.Raw, f.Reason)
}

func (f *SensorFault) Unwrap() error { return ErrSensorInvalid }

// processVariable is the latest valid temperature. It is only ever
// overwritten by a newer valid reading.
type processVariable struct {
	value float64
	valid bool
	at    time.Time
}

// ingest validates r and stores it. On error the previous value is kept.
func (pv *processVariable) ingest(r Reading, now time.Time) (float64, error) {
	v, err := ParseReading(r)
	if err != nil {
		return 0, err
	}
	pv.value = v
	pv.valid = true
	pv.at = now
	return v, nil
}

// ParseReading converts a raw sensor state into a finite temperature.
func ParseReading(r Reading) (float64, error) {
	raw := strings.TrimSpace(r.Value)
	if !r.Available {
		return 0, &SensorFault{Raw: raw, Reason: "sensor not available"}
	}
	switch strings.ToLower(raw) {
	case stateUnavailable, stateUnknown, "":
		return 0, &SensorFault{Raw: raw, Reason: "sensor not available"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &SensorFault{Raw: raw, Reason: "not a number"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &SensorFault{Raw: raw, Reason: "not finite"}
	}
	return v, nil
}

// FormatReading renders a numeric value the way transports deliver it.
func FormatReading(v float64) Reading {
	return Reading{Value: strconv.FormatFloat(v, 'f', -1, 64), Available: true}
}
