package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Agrid-Dev/thermopid/internal/metrics"
	"github.com/Agrid-Dev/thermopid/internal/ports"
	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

type Server struct {
	svc       ports.ThermostatService
	srv       *http.Server
	deviceID  string
	log       *logrus.Entry
	// accessLog feeds the request log into logrus; closed when Run returns.
	accessLog *io.PipeWriter
}

// New returns a runnable server. m may be nil, in which case /metrics is
// not served.
func New(svc ports.ThermostatService, addr string, deviceID string, m *metrics.Metrics, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{svc: svc, deviceID: deviceID, log: log.WithField("component", "http")}

	r := mux.NewRouter()
	route := func(path string, h http.HandlerFunc, method string) {
		r.Handle(path, m.WrapHandler(path, h)).Methods(method)
	}

	// Read
	route("/v1", s.handleGet, http.MethodGet)

	// Write: one endpoint per variable
	route("/v1/temperature", s.handlePostSetpoint, http.MethodPost)
	route("/v1/hvac_mode", s.handlePostMode, http.MethodPost)
	route("/v1/preset_mode", s.handlePostPreset, http.MethodPost)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(s.log), handlers.PrintRecoveryStack(true))(h)
	s.accessLog = s.log.WriterLevel(logrus.DebugLevel)
	h = handlers.LoggingHandler(s.accessLog, h)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	defer s.accessLog.Close()
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.log.WithField("addr", s.srv.Addr).Info("http controller listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type pidDTO struct {
	Mode   string  `json:"mode"`
	Kp     float64 `json:"kp"`
	Ki     float64 `json:"ki"`
	Kd     float64 `json:"kd"`
	P      float64 `json:"p"`
	I      float64 `json:"i"`
	D      float64 `json:"d"`
	Output float64 `json:"output"`
}

type snapshotDTO struct {
	DeviceID           string     `json:"device_id"`
	Name               string     `json:"name,omitempty"`
	Temperature        float64    `json:"temperature"`
	CurrentTemperature *float64   `json:"current_temperature"`
	HVACMode           string     `json:"hvac_mode"`
	HVACModes          []string   `json:"hvac_modes"`
	HVACAction         string     `json:"hvac_action"`
	PresetMode         string     `json:"preset_mode"`
	PresetModes        []string   `json:"preset_modes"`
	MinTemp            float64    `json:"min_temp"`
	MaxTemp            float64    `json:"max_temp"`
	Output             float64    `json:"output"`
	LastCycle          *time.Time `json:"last_cycle,omitempty"`
	PID                pidDTO     `json:"pid"`
}

func toDTO(s thermostat.Snapshot) snapshotDTO {
	dto := snapshotDTO{
		DeviceID:    s.DeviceID,
		Name:        s.Name,
		Temperature: s.Setpoint,
		HVACMode:    s.Mode.String(),
		HVACAction:  s.Action.String(),
		PresetMode:  s.Preset.String(),
		MinTemp:     s.MinTemp,
		MaxTemp:     s.MaxTemp,
		Output:      s.Output,
		PID: pidDTO{
			Mode:   s.PID.Mode.String(),
			Kp:     s.PID.Kp,
			Ki:     s.PID.Ki,
			Kd:     s.PID.Kd,
			P:      s.PID.P,
			I:      s.PID.I,
			D:      s.PID.D,
			Output: s.PID.Output,
		},
	}
	if s.TemperatureValid {
		v := s.CurrentTemperature
		dto.CurrentTemperature = &v
	}
	if !s.LastCycleStart.IsZero() {
		ts := s.LastCycleStart
		dto.LastCycle = &ts
	}
	for _, m := range s.Modes {
		dto.HVACModes = append(dto.HVACModes, m.String())
	}
	for _, p := range s.Presets {
		dto.PresetModes = append(dto.PresetModes, p.String())
	}
	return dto
}

// ---- Handlers ----

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	s.respondSnapshot(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.Healthy(); err != nil {
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePostSetpoint(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(v float64) error {
		return s.svc.SetSetpoint(v)
	})
}

func (s *Server) handlePostMode(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "heat"}
	postValue(s, w, r, func(v string) error {
		m, err := thermostat.ParseMode(v)
		if err != nil {
			return err
		}
		return s.svc.SetMode(m)
	})
}

func (s *Server) handlePostPreset(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "away"}
	postValue(s, w, r, func(v string) error {
		p, err := thermostat.ParsePreset(v)
		if err != nil {
			return err
		}
		return s.svc.SetPreset(p)
	})
}

// ---- generic helpers ----
func (s *Server) respondSnapshot(w http.ResponseWriter) {
	dto := toDTO(s.svc.Get())
	dto.DeviceID = s.deviceID
	writeJSON(w, http.StatusOK, dto)
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) error) {
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(*req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respondSnapshot(w)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
