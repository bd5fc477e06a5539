// Package valve drives the creek-input valve: one GPIO line, toggled only
// under authenticated control, with at most one transition in flight
// process-wide. The valve's logical sense is inverted from the electrical
// one: an open valve holds the line low, a closed valve drives it high.
// That mapping is applied at the pin write and nowhere else.
package valve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/reef-pi/hal"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/auth"
)

// ErrBusy rejects a toggle requested while another is in flight. The
// caller may retry; requests are never queued, because queued toggles
// would desynchronize the logical and physical state.
var ErrBusy = errors.New("valve toggle already in flight")

// Authenticator is the credential policy guarding every state change.
type Authenticator interface {
	Check(auth.Credential) error
	Authorize(*http.Request) error
}

// State is the valve's committed logical state. Closed=false is the open
// valve (line low). TransitionTime is absent until the first toggle.
type State struct {
	Closed         bool     `json:"closed"`
	TransitionTime *float64 `json:"transition_time,omitempty"`
	InProgress     bool     `json:"in_progress"`
}

// Controller is the single writer of the valve state.
type Controller struct {
	c     controller.Controller
	pin   hal.DigitalOutputPin
	authn Authenticator
	clock func() time.Time

	inFlight atomic.Bool

	mu             sync.RWMutex
	closed         bool
	transitionTime *float64
}

func New(c controller.Controller, pin hal.DigitalOutputPin, authn Authenticator) *Controller {
	return &Controller{c: c, pin: pin, authn: authn, clock: time.Now}
}

// SetClock is for tests.
func (v *Controller) SetClock(clock func() time.Time) { v.clock = clock }

// Setup drives the line to the safe default: valve open, line low.
func (v *Controller) Setup() error {
	if v.pin == nil {
		return fmt.Errorf("valve: no GPIO pin configured")
	}
	if err := v.pin.Write(false); err != nil {
		return fmt.Errorf("valve: init pin %s: %w", v.pin.Name(), err)
	}
	v.mu.Lock()
	v.closed = false
	v.mu.Unlock()
	return nil
}

func (v *Controller) Start() {}
func (v *Controller) Stop()  {}

// Toggle flips the valve for a caller presenting a credential. The
// credential is checked before anything else; a failed check changes no
// state and touches no GPIO.
func (v *Controller) Toggle(cred auth.Credential) (State, error) {
	if err := v.authn.Check(cred); err != nil {
		return State{}, err
	}
	return v.toggleAuthorized()
}

// toggleAuthorized performs the flip for an already-authenticated caller.
func (v *Controller) toggleAuthorized() (State, error) {
	if !v.inFlight.CompareAndSwap(false, true) {
		return State{}, ErrBusy
	}
	defer v.inFlight.Store(false)

	v.mu.RLock()
	next := !v.closed
	v.mu.RUnlock()

	// Logical closed is electrical high; the open valve holds the line
	// low. This is the only place the polarity mapping exists.
	if err := v.pin.Write(next); err != nil {
		return State{}, fmt.Errorf("valve: write pin %s: %w", v.pin.Name(), err)
	}

	now := float64(v.clock().UnixNano()) / float64(time.Second)
	v.mu.Lock()
	if v.transitionTime != nil && now <= *v.transitionTime {
		now = *v.transitionTime + 1e-6
	}
	v.closed = next
	v.transitionTime = &now
	st := v.stateLocked()
	v.mu.Unlock()

	v.c.Telemetry().IncValveToggle()
	return st, nil
}

// State returns the last committed state plus the in-progress flag. It
// never blocks on a pending toggle.
func (v *Controller) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stateLocked()
}

func (v *Controller) stateLocked() State {
	st := State{Closed: v.closed, InProgress: v.inFlight.Load()}
	if v.transitionTime != nil {
		t := *v.transitionTime
		st.TransitionTime = &t
	}
	return st
}

func (v *Controller) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api/tank/valve").Subrouter()
	sr.HandleFunc("", v.getState).Methods("GET")
	sr.HandleFunc("/toggle", v.postToggle).Methods("POST")
}

func (v *Controller) getState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v.State())
}

func (v *Controller) postToggle(w http.ResponseWriter, r *http.Request) {
	if err := v.authn.Authorize(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	st, err := v.toggleAuthorized()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrBusy) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}
