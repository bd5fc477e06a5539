package controller

import (
	"fmt"
	"log"

	"github.com/gorilla/mux"

	"github.com/rweeks/tankmonitor/controller/storage"
	"github.com/rweeks/tankmonitor/controller/telemetry"
)

// Subsystem is one independently started unit of the monitor (a sensor
// manager, the valve, the notifier, ...). Setup runs once before Start; a
// Setup failure keeps that subsystem out of service but must not prevent the
// remaining subsystems from running.
type Subsystem interface {
	Setup() error
	Start()
	Stop()
	LoadAPI(r *mux.Router)
}

// Controller is the narrow surface subsystems get at construction time.
type Controller interface {
	Store() storage.Store
	Telemetry() *telemetry.Telemetry
	LogError(subsystem, msg string) error
}

// SetupError marks a subsystem that failed to initialize. It is reported
// once at startup; the process keeps operating the other subsystems.
type SetupError struct {
	Subsystem string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s: %v", e.Subsystem, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

type tank struct {
	store     storage.Store
	telemetry *telemetry.Telemetry
}

// New assembles the controller handed to every subsystem.
func New(store storage.Store, t *telemetry.Telemetry) Controller {
	return &tank{store: store, telemetry: t}
}

func (t *tank) Store() storage.Store            { return t.store }
func (t *tank) Telemetry() *telemetry.Telemetry { return t.telemetry }

func (t *tank) LogError(subsystem, msg string) error {
	log.Printf("ERROR %s: %s", subsystem, msg)
	return nil
}
