// Package alert evaluates every calibrated reading against the configured
// threshold rules and emits TankAlerts. Evaluation always runs on the live
// raw stream in the producing sensor link's goroutine; the bucketed query
// history plays no part in it.
package alert

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/gorilla/mux"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/logging"
)

// Bucket is the DB bucket holding the alert history.
const Bucket = "tank_alerts"

// Sink receives fully populated alerts for delivery. Implementations must
// return quickly; the engine calls them from the ingestion path.
type Sink interface {
	Offer(a controller.TankAlert, unit string)
}

type Config struct {
	// LevelThreshold is the absolute low-water trigger; depth only.
	LevelThreshold float64
	// RateThresholds bound |rate| per category, units per minute.
	RateThresholds map[controller.Category]float64
	// Rules are optional govaluate expressions per category, consulted
	// only when neither built-in trigger fired. Variables: value, rate,
	// interval, has_rate.
	Rules map[controller.Category]string
	// DebugWindow is how long an alert keeps diagnostic logging loud.
	DebugWindow time.Duration
}

// Engine keeps one previous-reading slot per category and applies the
// trigger rules in order, first match wins. It is stateless per evaluation
// beyond that slot.
type Engine struct {
	c      controller.Controller
	cfg    Config
	sink   Sink
	units  map[controller.Category]string
	window *logging.Window

	mu    sync.Mutex
	prev  map[controller.Category]controller.Reading
	rules map[controller.Category]*govaluate.EvaluableExpression
}

func New(c controller.Controller, cfg Config, sink Sink, units map[controller.Category]string, window *logging.Window) *Engine {
	return &Engine{
		c:      c,
		cfg:    cfg,
		sink:   sink,
		units:  units,
		window: window,
		prev:   make(map[controller.Category]controller.Reading),
	}
}

// Setup creates the history bucket and compiles any custom rules. A rule
// that does not parse is a configuration fault and fails setup.
func (e *Engine) Setup() error {
	if err := e.c.Store().CreateBucket(Bucket); err != nil {
		return err
	}
	e.rules = make(map[controller.Category]*govaluate.EvaluableExpression)
	for cat, src := range e.cfg.Rules {
		expr, err := govaluate.NewEvaluableExpression(src)
		if err != nil {
			return fmt.Errorf("alert rule for %s: %w", cat, err)
		}
		e.rules[cat] = expr
	}
	return nil
}

func (e *Engine) Start() {}
func (e *Engine) Stop()  {}

// Offer evaluates one reading. It never returns an error: delivery and
// persistence failures are logged here so they cannot stall ingestion.
func (e *Engine) Offer(r controller.Reading) {
	e.mu.Lock()
	var prev *controller.Reading
	if p, ok := e.prev[r.Category]; ok {
		prev = &p
	}
	e.prev[r.Category] = r
	e.mu.Unlock()

	delta, hasDelta := controller.FindDelta(r, prev)
	alert := e.evaluate(r, delta, hasDelta)
	if hasDelta {
		e.window.Debugf("alert: %s value=%.4f rate=%.4f/min interval=%.1fs",
			r.Category, r.Value, delta.Rate, delta.Interval)
	} else {
		e.window.Debugf("alert: %s value=%.4f (no rate)", r.Category, r.Value)
	}
	if alert == nil {
		return
	}

	log.Printf("alert: %s triggered at %.4f (delta=%v)", r.Category, r.Value, alert.Delta)
	e.window.Open(e.cfg.DebugWindow)
	e.c.Telemetry().IncAlert(string(r.Category))
	if err := e.c.Store().Create(Bucket, func(id string) interface{} {
		a := *alert
		return &a
	}); err != nil {
		e.c.LogError("alert", "persist alert history: "+err.Error())
	}
	e.deliver(*alert)
}

// evaluate applies the trigger rules in order; only one alert shape can be
// produced per reading.
func (e *Engine) evaluate(r controller.Reading, delta controller.Delta, hasDelta bool) *controller.TankAlert {
	if r.Category == controller.Depth && r.Value < e.cfg.LevelThreshold {
		return &controller.TankAlert{
			Category:  r.Category,
			Timestamp: r.Timestamp,
			Value:     r.Value,
		}
	}
	if th, ok := e.cfg.RateThresholds[r.Category]; ok && hasDelta && math.Abs(delta.Rate) > th {
		rate := delta.Rate
		return &controller.TankAlert{
			Category:  r.Category,
			Timestamp: r.Timestamp,
			Value:     r.Value,
			Delta:     &rate,
		}
	}
	if expr, ok := e.rules[r.Category]; ok {
		params := map[string]interface{}{
			"value":    r.Value,
			"rate":     0.0,
			"interval": 0.0,
			"has_rate": hasDelta,
		}
		if hasDelta {
			params["rate"] = delta.Rate
			params["interval"] = delta.Interval
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			e.c.LogError("alert", fmt.Sprintf("rule for %s: %v", r.Category, err))
			return nil
		}
		if fired, ok := result.(bool); ok && fired {
			a := &controller.TankAlert{
				Category:  r.Category,
				Timestamp: r.Timestamp,
				Value:     r.Value,
			}
			if hasDelta {
				rate := delta.Rate
				a.Delta = &rate
			}
			return a
		}
	}
	return nil
}

// deliver hands the alert to the sink. The sink boundary absorbs panics and
// slowness so a broken transport cannot back-pressure the sensor loop.
func (e *Engine) deliver(a controller.TankAlert) {
	defer func() {
		if rec := recover(); rec != nil {
			e.c.LogError("alert", fmt.Sprintf("notifier panic: %v", rec))
		}
	}()
	if e.sink == nil {
		return
	}
	e.sink.Offer(a, e.units[a.Category])
}

// History returns the persisted alert record list in insertion order.
func (e *Engine) History() ([]controller.TankAlert, error) {
	alerts := []controller.TankAlert{}
	err := e.c.Store().List(Bucket, func(_ string, v []byte) error {
		var a controller.TankAlert
		if err := json.Unmarshal(v, &a); err == nil {
			alerts = append(alerts, a)
		}
		return nil
	})
	return alerts, err
}

func (e *Engine) LoadAPI(r *mux.Router) {
	r.HandleFunc("/api/tank/alerts", func(w http.ResponseWriter, req *http.Request) {
		alerts, err := e.History()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(alerts)
	}).Methods("GET")
}
