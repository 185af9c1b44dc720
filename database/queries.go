package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// undefinedTable is the Postgres error code for a missing relation. Slot
// tables are created on first use, so a missing one is an empty slot.
const undefinedTable pq.ErrorCode = "42P01"

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedTable
}

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides slot-table-aware database operations.
type Queries struct {
	db          DBTX
	tablePrefix string
}

// NewQueries creates a new Queries instance with the given table prefix.
func NewQueries(db DBTX, tablePrefix string) *Queries {
	return &Queries{
		db:          db,
		tablePrefix: tablePrefix,
	}
}

var (
	insertReadingSQL = `
INSERT INTO %s (id, round, node_index, temperature, humidity, soil_moisture, soil_temperature, wind_speed, topology_state, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING;`

	listReadingsSQL = `
SELECT id, round, node_index, temperature, humidity, soil_moisture, soil_temperature, wind_speed, COALESCE(topology_state, ''), captured_at, recorded_at
FROM %s
ORDER BY recorded_at DESC, round DESC
LIMIT $1;`

	latestTopologySQL = `
SELECT topology_state, recorded_at
FROM %s
WHERE topology_state IS NOT NULL AND topology_state <> ''
ORDER BY recorded_at DESC
LIMIT 1;`
)

// InsertReading writes one reading into its slot table. Re-inserting the same
// reading ID is a no-op.
func (q *Queries) InsertReading(ctx context.Context, reading *ReadingRecord) error {
	var query = fmt.Sprintf(insertReadingSQL, TableName(q.tablePrefix, reading.Slot))
	_, err := q.db.ExecContext(ctx, query,
		reading.ID, reading.Round, reading.NodeIndex,
		reading.Temperature, reading.Humidity, reading.SoilMoisture,
		reading.SoilTemperature, reading.WindSpeed,
		reading.Topology, reading.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ListReadings returns up to limit readings of a slot, newest first. A slot
// whose table was never created has no readings.
func (q *Queries) ListReadings(ctx context.Context, slot int, limit int) ([]*ReadingRecord, error) {
	var (
		query     = fmt.Sprintf(listReadingsSQL, TableName(q.tablePrefix, slot))
		rows, err = q.db.QueryContext(ctx, query, limit)
	)
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*ReadingRecord
	for rows.Next() {
		var reading = ReadingRecord{Slot: slot}
		if err := rows.Scan(&reading.ID, &reading.Round, &reading.NodeIndex,
			&reading.Temperature, &reading.Humidity, &reading.SoilMoisture,
			&reading.SoilTemperature, &reading.WindSpeed,
			&reading.Topology, &reading.CapturedAt, &reading.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, &reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return readings, nil
}

// LatestTopology returns the newest topology snapshot stored in slots 1..slots,
// or nil if none has been recorded.
func (q *Queries) LatestTopology(ctx context.Context, slots int) (*TopologySnapshot, error) {
	var newest *TopologySnapshot

	for slot := 1; slot <= slots; slot++ {
		var (
			query    = fmt.Sprintf(latestTopologySQL, TableName(q.tablePrefix, slot))
			snapshot = TopologySnapshot{Slot: slot}
			err      = q.db.QueryRowContext(ctx, query).Scan(&snapshot.Topology, &snapshot.RecordedAt)
		)
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get topology for slot %d: %w", slot, err)
		}

		if newest == nil || snapshot.RecordedAt.After(newest.RecordedAt) {
			newest = &snapshot
		}
	}

	return newest, nil
}
