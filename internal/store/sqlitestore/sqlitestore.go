package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

const schema = `
CREATE TABLE IF NOT EXISTS thermostat_state (
	device_id      TEXT PRIMARY KEY,
	setpoint       REAL,
	hvac_mode      TEXT,
	preset_mode    TEXT,
	saved_setpoint REAL,
	updated_at     TIMESTAMP NOT NULL
)`

// Store keeps restart snapshots in SQLite, one row per device.
type Store struct {
	db       *sql.DB
	deviceID string
	now      func() time.Time
}

// Open opens (or creates) the database at dsn, e.g. "/var/lib/thermopid/state.db"
// or ":memory:".
func Open(dsn, deviceID string) (*Store, error) {
	if deviceID == "" {
		return nil, errors.New("sqlitestore: device id is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, deviceID: deviceID, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Load(ctx context.Context) (thermostat.PersistedState, bool, error) {
	var (
		st                thermostat.PersistedState
		setpoint, saved   sql.NullFloat64
		hvacMode, presetM sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT setpoint, hvac_mode, preset_mode, saved_setpoint FROM thermostat_state WHERE device_id = ?`,
		s.deviceID,
	).Scan(&setpoint, &hvacMode, &presetM, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("load state: %w", err)
	}
	if setpoint.Valid {
		st.Setpoint = &setpoint.Float64
	}
	if hvacMode.Valid {
		st.Mode = &hvacMode.String
	}
	if presetM.Valid {
		st.Preset = &presetM.String
	}
	if saved.Valid {
		st.SavedSetpoint = &saved.Float64
	}
	return st, true, nil
}

func (s *Store) Save(ctx context.Context, st thermostat.PersistedState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO thermostat_state (device_id, setpoint, hvac_mode, preset_mode, saved_setpoint, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
	setpoint = excluded.setpoint,
	hvac_mode = excluded.hvac_mode,
	preset_mode = excluded.preset_mode,
	saved_setpoint = excluded.saved_setpoint,
	updated_at = excluded.updated_at`,
		s.deviceID, nullFloat(st.Setpoint), nullString(st.Mode), nullString(st.Preset), nullFloat(st.SavedSetpoint), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
