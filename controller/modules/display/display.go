// Package display keeps the front-panel wake window: a button press keeps
// the panel lit for a bounded time, after which it blanks itself. The
// actual rendering lives outside the core; this module only answers "is
// the display awake and what should it show".
package display

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/reef-pi/hal"

	"github.com/rweeks/tankmonitor/controller"
)

const buttonPollInterval = 100 * time.Millisecond

// Subsystem polls the wake button and tracks the display expiry.
type Subsystem struct {
	c         controller.Controller
	button    hal.DigitalInputPin
	wake      time.Duration
	latestRaw func() string
	clock     func() time.Time

	mu     sync.Mutex
	expiry time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the wake button. latestRaw supplies the text the panel shows
// (the depth link's most recent raw frame).
func New(c controller.Controller, button hal.DigitalInputPin, wake time.Duration, latestRaw func() string) *Subsystem {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subsystem{
		c:         c,
		button:    button,
		wake:      wake,
		latestRaw: latestRaw,
		clock:     time.Now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// SetClock is for tests.
func (s *Subsystem) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Subsystem) Setup() error { return nil }

func (s *Subsystem) Start() {
	go s.poll()
}

func (s *Subsystem) poll() {
	defer close(s.done)
	t := time.NewTicker(buttonPollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			pressed, err := s.button.Read()
			if err != nil {
				s.c.LogError("display", "read button: "+err.Error())
				continue
			}
			if pressed {
				s.Press()
			}
		}
	}
}

// Press extends the wake window, as the button does.
func (s *Subsystem) Press() {
	s.mu.Lock()
	s.expiry = s.clock().Add(s.wake)
	s.mu.Unlock()
}

// On reports whether the display should currently be lit.
func (s *Subsystem) On() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock().Before(s.expiry)
}

func (s *Subsystem) Stop() {
	s.cancel()
	<-s.done
}

func (s *Subsystem) LoadAPI(r *mux.Router) {
	r.HandleFunc("/api/tank/display", func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		expiry := s.expiry
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"on":     s.On(),
			"expiry": expiry.Unix(),
			"value":  s.latestRaw(),
		})
	}).Methods("GET")
}
