package database

import (
	"database/sql"
	"fmt"
)

var (
	createReadingsTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    id                VARCHAR            NOT NULL,
    round             INTEGER            NOT NULL,
    node_index        INTEGER            NOT NULL,
    temperature       DOUBLE PRECISION,
    humidity          DOUBLE PRECISION,
    soil_moisture     DOUBLE PRECISION,
    soil_temperature  DOUBLE PRECISION,
    wind_speed        DOUBLE PRECISION,
    topology_state    TEXT,
    captured_at       TIMESTAMPTZ        NOT NULL,
    recorded_at       TIMESTAMPTZ        NOT NULL DEFAULT now(),

    PRIMARY KEY (id)
);`

	createReadingsIndexSQL = `
CREATE INDEX IF NOT EXISTS %s
ON %s (recorded_at DESC);`
)

// TableName returns the readings table for a slot.
func TableName(tablePrefix string, slot int) string {
	return fmt.Sprintf("%s_readings_%d", tablePrefix, slot)
}

// Migrate creates the readings tables for slots 1..slots.
func Migrate(db *sql.DB, tablePrefix string, slots int) error {
	for slot := 1; slot <= slots; slot++ {
		if err := MigrateSlot(db, tablePrefix, slot); err != nil {
			return err
		}
	}
	return nil
}

// MigrateSlot creates the readings table and index for one slot.
func MigrateSlot(db *sql.DB, tablePrefix string, slot int) error {
	if slot < 1 {
		return fmt.Errorf("invalid slot %d", slot)
	}

	if err := createReadingsTable(db, tablePrefix, slot); err != nil {
		return err
	}

	if err := createReadingsIndex(db, tablePrefix, slot); err != nil {
		return err
	}

	return nil
}

func createReadingsTable(db *sql.DB, tablePrefix string, slot int) error {
	var query = fmt.Sprintf(createReadingsTableSQL, TableName(tablePrefix, slot))
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create readings table for slot %d: %w", slot, err)
	}
	return nil
}

func createReadingsIndex(db *sql.DB, tablePrefix string, slot int) error {
	var (
		tableName = TableName(tablePrefix, slot)
		indexName = fmt.Sprintf("%s_recorded_idx", tableName)
		query     = fmt.Sprintf(createReadingsIndexSQL, indexName, tableName)
	)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create readings index for slot %d: %w", slot, err)
	}
	return nil
}
