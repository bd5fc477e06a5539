// Package timeseries keeps the per-category reading history the dashboard
// charts from. History is bucketed at three fixed granularities; within a
// bucket the latest sample wins, matching the "current value" semantics the
// rest of the monitor displays.
package timeseries

import (
	"math"
	"sync"

	"github.com/rweeks/tankmonitor/controller"
)

// Granularity is a resampling bucket width in seconds.
type Granularity int64

const (
	TenSecond Granularity = 10
	Minute    Granularity = 60
	Hour      Granularity = 3600
)

var Granularities = []Granularity{TenSecond, Minute, Hour}

// DeltaPoint pairs a bucketed reading with the delta versus its predecessor
// in the same bucketed sequence. Delta is nil for the first reading of a
// sequence and for zero-interval pairs.
type DeltaPoint struct {
	Reading controller.Reading `json:"reading"`
	Delta   *controller.Delta  `json:"delta,omitempty"`
}

// series is one (category, granularity) bucketed history. Exactly one
// goroutine appends (the category's sensor link); many read.
type series struct {
	interval   float64
	maxRecords int

	mu      sync.RWMutex
	records []controller.Reading
}

func (s *series) bucket(ts float64) float64 {
	return math.Floor(ts / s.interval)
}

func (s *series) append(r controller.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.records); n > 0 && s.bucket(s.records[n-1].Timestamp) == s.bucket(r.Timestamp) {
		// Same bucket: the latest sample wins.
		s.records[n-1] = r
		return
	}
	s.records = append(s.records, r)
	if len(s.records) > s.maxRecords {
		s.records = s.records[len(s.records)-s.maxRecords:]
	}
}

func (s *series) snapshot(since *float64) []controller.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]controller.Reading, 0, len(s.records))
	for _, r := range s.records {
		if since != nil && r.Timestamp < *since {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *series) evictOlderThan(cutoff float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.records) && s.records[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		s.records = append([]controller.Reading{}, s.records[i:]...)
	}
}

// Store holds every category's bucketed history.
type Store struct {
	maxRecords int

	mu     sync.RWMutex
	series map[controller.Category]map[Granularity]*series
}

func NewStore(maxRecords int) *Store {
	return &Store{
		maxRecords: maxRecords,
		series:     make(map[controller.Category]map[Granularity]*series),
	}
}

func (st *Store) seriesFor(cat controller.Category, g Granularity) *series {
	st.mu.RLock()
	byGran, ok := st.series[cat]
	if ok {
		if s, ok := byGran[g]; ok {
			st.mu.RUnlock()
			return s
		}
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	byGran, ok = st.series[cat]
	if !ok {
		byGran = make(map[Granularity]*series)
		st.series[cat] = byGran
	}
	s, ok := byGran[g]
	if !ok {
		s = &series{interval: float64(g), maxRecords: st.maxRecords}
		byGran[g] = s
	}
	return s
}

// Append offers one calibrated reading to every granularity of its
// category. It never blocks the producing sensor link on readers.
func (st *Store) Append(r controller.Reading) {
	for _, g := range Granularities {
		st.seriesFor(r.Category, g).append(r)
	}
}

// Query returns the bucketed history of a category at one granularity,
// optionally bounded below by since (unix seconds). The result is a copy;
// callers may retain it.
func (st *Store) Query(cat controller.Category, g Granularity, since *float64) []controller.Reading {
	return st.seriesFor(cat, g).snapshot(since)
}

// QueryDeltas pairs each bucketed reading with the delta versus its
// immediate predecessor in the bucketed sequence, keeping delta semantics
// consistent with what each zoom level displays.
func (st *Store) QueryDeltas(cat controller.Category, g Granularity) []DeltaPoint {
	records := st.seriesFor(cat, g).snapshot(nil)
	out := make([]DeltaPoint, 0, len(records))
	var prev *controller.Reading
	for i := range records {
		p := DeltaPoint{Reading: records[i]}
		if d, ok := controller.FindDelta(records[i], prev); ok {
			dc := d
			p.Delta = &dc
		}
		out = append(out, p)
		prev = &records[i]
	}
	return out
}

// Latest returns the most recent reading of a category, if any.
func (st *Store) Latest(cat controller.Category) (controller.Reading, bool) {
	records := st.seriesFor(cat, TenSecond).snapshot(nil)
	if len(records) == 0 {
		return controller.Reading{}, false
	}
	return records[len(records)-1], true
}

// Categories lists the categories that have received at least one reading.
func (st *Store) Categories() []controller.Category {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]controller.Category, 0, len(st.series))
	for cat := range st.series {
		out = append(out, cat)
	}
	return out
}

// EvictOlderThan drops buckets older than cutoff from every series. Run
// from the maintenance cron; alerting never reads these buffers, so
// eviction cannot affect it.
func (st *Store) EvictOlderThan(cutoff float64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, byGran := range st.series {
		for _, s := range byGran {
			s.evictOlderThan(cutoff)
		}
	}
}
