package tokenring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"go-tokenring/database"
)

var (
	// ErrInvalidTablePrefix is returned when the table prefix contains invalid characters
	ErrInvalidTablePrefix = errors.New("table prefix must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validTablePrefixPattern validates PostgreSQL-safe identifiers
	validTablePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Sink persists the readings of completed laps. Each Store is independent:
// a failed write is not rolled back with the rest of the lap.
type Sink interface {
	// Store writes one reading under its slot. A nil reading is a no-op.
	Store(ctx context.Context, slot int, reading *Reading) error
}

// ValidateTablePrefix checks if the prefix is valid for use in PostgreSQL table names.
func ValidateTablePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("table prefix cannot be empty")
	}

	// Leaves room for the "_readings_<slot>" suffix within 63 characters.
	if len(prefix) > 48 {
		return errors.New("table prefix must be 48 characters or less")
	}

	if !validTablePrefixPattern.MatchString(prefix) {
		return ErrInvalidTablePrefix
	}

	return nil
}

// DatabaseSink stores readings in one Postgres table per slot.
type DatabaseSink struct {
	db          *sql.DB
	tablePrefix string
	queries     *database.Queries
	migrated    map[int]bool
}

// NewDatabaseSink validates the prefix and creates tables for slots 1..slots.
// Tables for further slots are created on first use.
func NewDatabaseSink(db *sql.DB, tablePrefix string, slots int) (*DatabaseSink, error) {
	if err := ValidateTablePrefix(tablePrefix); err != nil {
		return nil, fmt.Errorf("invalid table prefix: %w", err)
	}

	if err := database.Migrate(db, tablePrefix, slots); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var migrated = make(map[int]bool, slots)
	for slot := 1; slot <= slots; slot++ {
		migrated[slot] = true
	}

	return &DatabaseSink{
		db:          db,
		tablePrefix: tablePrefix,
		queries:     database.NewQueries(db, tablePrefix),
		migrated:    migrated,
	}, nil
}

// Store implements Sink.
func (s *DatabaseSink) Store(ctx context.Context, slot int, reading *Reading) error {
	if reading == nil {
		return nil
	}

	if !s.migrated[slot] {
		if err := database.MigrateSlot(s.db, s.tablePrefix, slot); err != nil {
			return fmt.Errorf("failed to migrate slot %d: %w", slot, err)
		}
		s.migrated[slot] = true
	}

	record, err := readingToRecord(slot, reading)
	if err != nil {
		return err
	}

	if err := s.queries.InsertReading(ctx, record); err != nil {
		return fmt.Errorf("failed to store reading %s in slot %d: %w", reading.ID, slot, err)
	}

	return nil
}

// readingToRecord converts a reading to its row in the slot table.
func readingToRecord(slot int, reading *Reading) (*database.ReadingRecord, error) {
	var topology string
	if len(reading.Topology) > 0 {
		raw, err := json.Marshal(reading.Topology)
		if err != nil {
			return nil, fmt.Errorf("failed to encode topology: %w", err)
		}
		topology = string(raw)
	}

	var metric = func(name string) *float64 {
		if v, ok := reading.Metrics.Get(name); ok {
			return &v
		}
		return nil
	}

	return &database.ReadingRecord{
		ID:              reading.ID,
		Slot:            slot,
		Round:           reading.Round,
		NodeIndex:       reading.Node,
		Temperature:     metric(MetricTemperature),
		Humidity:        metric(MetricHumidity),
		SoilMoisture:    metric(MetricSoilMoisture),
		SoilTemperature: metric(MetricSoilTemperature),
		WindSpeed:       metric(MetricWindSpeed),
		Topology:        topology,
		CapturedAt:      reading.CapturedAt,
	}, nil
}

// LogSink writes readings to a logger. Used when no database is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Store implements Sink.
func (s *LogSink) Store(ctx context.Context, slot int, reading *Reading) error {
	if reading == nil {
		return nil
	}

	var attrs = []any{
		"slot", slot,
		"round", reading.Round,
		"node", reading.Node,
		"id", reading.ID,
	}
	for _, name := range MetricNames {
		if v, ok := reading.Metrics.Get(name); ok {
			attrs = append(attrs, name, v)
		}
	}
	s.logger.InfoContext(ctx, "stored reading", attrs...)
	return nil
}
