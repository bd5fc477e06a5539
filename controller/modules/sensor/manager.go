// Package sensor owns the physical sensor links: one goroutine per link
// runs the shared read loop, converts frames through the calibrator, and
// hands calibrated readings to the registered sinks (time series store,
// alert engine, telemetry).
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/logging"
)

// stopGrace bounds the shutdown join: a link stuck in a long serial read is
// abandoned after this long and its handle closed out from under it.
const stopGrace = 5 * time.Second

// Sink receives every calibrated reading, in production order for its
// category. Sinks must not block.
type Sink func(controller.Reading)

// Link pairs one Device with its calibration and pacing.
type Link struct {
	device Device
	poll   time.Duration
	coeffs Coefficients

	ready bool

	mu        sync.Mutex
	latestRaw string
}

// LinkStatus is the diagnostic view served over the API.
type LinkStatus struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Ready     bool    `json:"ready"`
	LatestRaw string  `json:"latest_raw"`
	Scale     float64 `json:"scale"`
	Offset    float64 `json:"offset"`
}

func (l *Link) setLatestRaw(raw string) {
	l.mu.Lock()
	l.latestRaw = raw
	l.mu.Unlock()
}

// LatestRaw is the most recent raw frame text, kept for the front panel
// display and diagnostics.
func (l *Link) LatestRaw() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latestRaw
}

// Manager runs every configured link for the life of the process.
type Manager struct {
	c      controller.Controller
	cal    Calibrator
	window *logging.Window
	clock  func() time.Time

	links  []*Link
	sinks  []Sink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(c controller.Controller, cal Calibrator, window *logging.Window) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		c:      c,
		cal:    cal,
		window: window,
		clock:  time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetClock is for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// AddLink registers a device. poll=0 means the device streams unsolicited
// frames; otherwise the loop issues one request per poll interval.
func (m *Manager) AddLink(device Device, poll time.Duration) {
	m.links = append(m.links, &Link{device: device, poll: poll})
}

// AddSink registers a consumer of calibrated readings. Call before Start.
func (m *Manager) AddSink(s Sink) { m.sinks = append(m.sinks, s) }

// Setup bootstraps calibration and opens every device. A failing link is
// reported in the aggregated error and left out of service; the remaining
// links still run. Steady-state I/O failures never come back here.
func (m *Manager) Setup() error {
	var errs []error
	for _, l := range m.links {
		coeffs, err := m.cal.For(l.device.Category())
		if err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", l.device.Name(), err))
			continue
		}
		l.coeffs = coeffs
		if err := l.device.Open(); err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", l.device.Name(), err))
			continue
		}
		log.Printf("sensor: link %s (%s) ready, calibration scale=%.6f offset=%.4f",
			l.device.Name(), l.device.Category(), coeffs.Scale, coeffs.Offset)
		l.ready = true
	}
	return errors.Join(errs...)
}

func (m *Manager) Start() {
	for _, l := range m.links {
		if !l.ready {
			continue
		}
		m.wg.Add(1)
		go m.run(l)
	}
}

// run is the shared read loop. A malformed or timed-out frame is logged
// and counted, then the loop continues: a single bad reading must never
// terminate the link.
func (m *Manager) run(l *Link) {
	defer m.wg.Done()
	name := l.device.Name()
	log.Printf("sensor: starting %s read loop", name)
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}
		if l.poll > 0 {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(l.poll):
			}
		}
		raw, frame, err := l.device.ReadFrame()
		if err != nil {
			m.c.Telemetry().IncFrameError(name)
			m.window.Debugf("sensor: %s frame discarded: %v", name, err)
			continue
		}
		l.setLatestRaw(frame)
		r := controller.Reading{
			Category:  l.device.Category(),
			Timestamp: float64(m.clock().UnixNano()) / float64(time.Second),
			Value:     l.coeffs.Convert(raw),
		}
		m.c.Telemetry().EmitReading(string(r.Category), r.Value)
		m.window.Debugf("sensor: %s raw=%q calibrated=%.4f", name, frame, r.Value)
		for _, sink := range m.sinks {
			sink(r)
		}
	}
}

// Stop signals every loop, waits out the grace period, then releases the
// device handles. Closing after an expired join is the last resort for a
// loop stuck in a blocking read.
func (m *Manager) Stop() {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		log.Printf("sensor: read loops did not stop within %v", stopGrace)
	}
	for _, l := range m.links {
		if l.ready {
			if err := l.device.Close(); err != nil {
				log.Printf("sensor: close %s: %v", l.device.Name(), err)
			}
		}
	}
}

// Status reports every link's diagnostic view.
func (m *Manager) Status() []LinkStatus {
	out := make([]LinkStatus, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, LinkStatus{
			Name:      l.device.Name(),
			Category:  string(l.device.Category()),
			Ready:     l.ready,
			LatestRaw: l.LatestRaw(),
			Scale:     l.coeffs.Scale,
			Offset:    l.coeffs.Offset,
		})
	}
	return out
}

func (m *Manager) LoadAPI(r *mux.Router) {
	r.HandleFunc("/api/tank/sensors", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Status())
	}).Methods("GET")
}
