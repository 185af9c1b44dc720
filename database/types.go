package database

import "time"

// ReadingRecord represents a stored reading in a slot table.
type ReadingRecord struct {
	ID              string
	Slot            int
	Round           int
	NodeIndex       int
	Temperature     *float64
	Humidity        *float64
	SoilMoisture    *float64
	SoilTemperature *float64
	WindSpeed       *float64
	Topology        string // JSON array of host:port in ring order
	CapturedAt      time.Time
	RecordedAt      time.Time
}

// TopologySnapshot is the newest ring order persisted across all slots.
type TopologySnapshot struct {
	Slot       int
	Topology   string
	RecordedAt time.Time
}
