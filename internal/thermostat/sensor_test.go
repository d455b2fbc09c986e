package thermostat

import (
	"errors"
	"testing"
	"time"
)

func TestParseReading(t *testing.T) {
	tests := []struct {
		name    string
		r       Reading
		want    float64
		wantErr bool
	}{
		{"number", Reading{Value: "21.5", Available: true}, 21.5, false},
		{"padded", Reading{Value: " 18 ", Available: true}, 18, false},
		{"negative", Reading{Value: "-4.25", Available: true}, -4.25, false},
		{"unavailable", Reading{Value: "unavailable", Available: true}, 0, true},
		{"unknown", Reading{Value: "Unknown", Available: true}, 0, true},
		{"empty", Reading{Value: "", Available: true}, 0, true},
		{"not available flag", Reading{Value: "21", Available: false}, 0, true},
		{"text", Reading{Value: "hot", Available: true}, 0, true},
		{"nan", Reading{Value: "NaN", Available: true}, 0, true},
		{"inf", Reading{Value: "-Inf", Available: true}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReading(tt.r)
			if tt.wantErr {
				if !errors.Is(err, ErrSensorInvalid) {
					t.Fatalf("expected ErrSensorInvalid, got %v", err)
				}
				var fault *SensorFault
				if !errors.As(err, &fault) {
					t.Fatalf("expected *SensorFault, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIngestKeepsLastValid(t *testing.T) {
	var pv processVariable
	t0 := time.Unix(1000, 0)
	if _, err := pv.ingest(FormatReading(20.5), t0); err != nil {
		t.Fatal(err)
	}
	if _, err := pv.ingest(Reading{Value: "unavailable", Available: true}, t0.Add(time.Minute)); err == nil {
		t.Fatal("expected error")
	}
	if !pv.valid || pv.value != 20.5 || !pv.at.Equal(t0) {
		t.Fatalf("previous reading lost: %+v", pv)
	}
}
