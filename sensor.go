package tokenring

import (
	"context"
	"math/rand"
	"time"
)

// Sensor captures the local node's metrics. It must not block indefinitely;
// a failed sensor is reported as a nil metric value.
type Sensor interface {
	Capture(ctx context.Context) Metrics
}

// SensorFunc adapts a function to the Sensor interface.
type SensorFunc func(ctx context.Context) Metrics

// Capture implements Sensor.
func (f SensorFunc) Capture(ctx context.Context) Metrics {
	return f(ctx)
}

// metricRange bounds a simulated metric.
type metricRange struct {
	name           string
	min, max, step float64
}

var simulatedRanges = []metricRange{
	{name: MetricTemperature, min: -10, max: 45, step: 0.5},
	{name: MetricHumidity, min: 0, max: 100, step: 1.5},
	{name: MetricSoilMoisture, min: 200, max: 2000, step: 25},
	{name: MetricSoilTemperature, min: -5, max: 40, step: 0.3},
	{name: MetricWindSpeed, min: 0, max: 32.4, step: 1.2},
}

// SimulatedSensor produces a bounded random walk per metric. It stands in for
// the I2C sensor board on machines without one.
type SimulatedSensor struct {
	rnd      *rand.Rand
	failRate float64
	values   map[string]float64
}

// NewSimulatedSensor creates a sensor seeded by seed. Each metric is reported
// absent with probability failRate.
func NewSimulatedSensor(seed int64, failRate float64) *SimulatedSensor {
	var (
		rnd    = rand.New(rand.NewSource(seed))
		values = make(map[string]float64, len(simulatedRanges))
	)
	for _, r := range simulatedRanges {
		values[r.name] = r.min + rnd.Float64()*(r.max-r.min)
	}
	return &SimulatedSensor{
		rnd:      rnd,
		failRate: failRate,
		values:   values,
	}
}

// NewSimulatedSensorNow seeds a simulated sensor from the clock.
func NewSimulatedSensorNow(failRate float64) *SimulatedSensor {
	return NewSimulatedSensor(time.Now().UnixNano(), failRate)
}

// Capture implements Sensor.
func (s *SimulatedSensor) Capture(ctx context.Context) Metrics {
	var metrics = make(Metrics, len(simulatedRanges))
	for _, r := range simulatedRanges {
		var v = s.values[r.name] + (s.rnd.Float64()*2-1)*r.step
		v = min(max(v, r.min), r.max)
		s.values[r.name] = v

		if s.rnd.Float64() < s.failRate {
			metrics[r.name] = nil
			continue
		}
		metrics[r.name] = &v
	}
	return metrics
}
