package tokenring

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var (
	// ErrInvalidAddress is returned when an address is not a host:port pair.
	ErrInvalidAddress = errors.New("address must be host:port")

	// ErrInvalidRole is returned for a role other than start, mid or plot.
	ErrInvalidRole = errors.New("role must be one of start, mid, plot")
)

// NodeAddress identifies a ring participant as "host:port".
// Two addresses are the same node only if the strings are equal.
type NodeAddress string

// ParseAddress validates a host:port string.
func ParseAddress(s string) (NodeAddress, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	if host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidAddress, s)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, s)
	}
	return NodeAddress(s), nil
}

// String implements fmt.Stringer.
func (a NodeAddress) String() string {
	return string(a)
}

// Role tells a node whether it initiates the first lap.
type Role string

const (
	RoleStart Role = "start"
	RoleMid   Role = "mid"
	RolePlot  Role = "plot"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleStart, RoleMid, RolePlot:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Initiates reports whether the role starts round 1.
func (r Role) Initiates() bool {
	return r == RoleStart
}

// Metric names produced by sensors.
const (
	MetricTemperature     = "temperature"
	MetricHumidity        = "humidity"
	MetricSoilMoisture    = "soil_moisture"
	MetricSoilTemperature = "soil_temperature"
	MetricWindSpeed       = "wind_speed"
)

// MetricNames lists the known metrics in display order.
var MetricNames = []string{
	MetricTemperature,
	MetricHumidity,
	MetricSoilMoisture,
	MetricSoilTemperature,
	MetricWindSpeed,
}

// Metrics maps a metric name to its value. A nil value means the sensor failed.
type Metrics map[string]*float64

// Get returns the value of a metric and whether it is present.
func (m Metrics) Get(name string) (float64, bool) {
	var v, ok = m[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Reading is one sensor snapshot taken by a node during a lap.
type Reading struct {
	ID         string        `json:"id"`
	Node       int           `json:"node"`
	Round      int           `json:"round"`
	Metrics    Metrics       `json:"metrics"`
	Topology   []NodeAddress `json:"topology_state,omitempty"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Slot is the per-position history slot a reading is stored under.
func (r *Reading) Slot() int {
	return r.Node + 1
}

// withTopology returns r itself when it already carries a topology
// snapshot, otherwise a copy stamped with the given ring order.
func (r *Reading) withTopology(ring []NodeAddress) *Reading {
	if len(r.Topology) > 0 {
		return r
	}
	var c = *r
	c.Topology = ring
	return &c
}

// Token is the message circulated around the ring.
type Token struct {
	Source NodeAddress `json:"source"`
	Data   []*Reading  `json:"data"`
	Round  int         `json:"round"`
	Closed bool        `json:"closed"`
}

// NewToken returns an empty token for the given round.
func NewToken(source NodeAddress, round int) *Token {
	return &Token{
		Source: source,
		Data:   make([]*Reading, 0),
		Round:  round,
	}
}

// validate checks a decoded token.
func (t *Token) validate() error {
	if t.Round < 1 {
		return fmt.Errorf("%w: round %d", ErrMalformedToken, t.Round)
	}
	for i, r := range t.Data {
		if r == nil {
			return fmt.Errorf("%w: null reading at %d", ErrMalformedToken, i)
		}
	}
	if t.Data == nil {
		t.Data = make([]*Reading, 0)
	}
	return nil
}
