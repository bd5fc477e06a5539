package controller

// Category is a logical measurement channel. Each physical sensor link
// produces readings for exactly one category.
type Category string

const (
	Depth     Category = "depth"
	Density   Category = "density"
	WaterTemp Category = "water_temp"
	Distance  Category = "distance"
)

// Reading is one calibrated sensor sample. Timestamps are unix seconds.
// Readings are immutable once created; only a sensor link constructs them.
type Reading struct {
	Category  Category `json:"category"`
	Timestamp float64  `json:"timestamp"`
	Value     float64  `json:"value"`
}

// Delta is the interval (seconds) and rate of change (units per minute)
// between two consecutive readings of the same category. A Delta is only
// meaningful as a pair; use FindDelta to compute one.
type Delta struct {
	Interval float64 `json:"interval"`
	Rate     float64 `json:"rate"`
}

// FindDelta computes the interval and per-minute rate of change between a
// reading and its predecessor. It reports ok=false when there is no
// predecessor or when the two readings carry the same timestamp: the rate is
// undefined in both cases, never zero.
func FindDelta(cur Reading, prev *Reading) (Delta, bool) {
	if prev == nil {
		return Delta{}, false
	}
	interval := cur.Timestamp - prev.Timestamp
	if interval == 0 {
		return Delta{}, false
	}
	return Delta{
		Interval: interval,
		Rate:     60.0 * (cur.Value - prev.Value) / interval,
	}, true
}

// TankAlert records a single threshold or rate violation. Delta is nil for
// absolute-level alerts and carries the offending rate for rate alerts.
type TankAlert struct {
	Category  Category `json:"category"`
	Timestamp float64  `json:"timestamp"`
	Value     float64  `json:"value"`
	Delta     *float64 `json:"delta,omitempty"`
}
