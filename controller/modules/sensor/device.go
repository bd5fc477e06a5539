package sensor

import "github.com/rweeks/tankmonitor/controller"

// Device is the wire-level capability interface one physical sensor
// implements. The read-loop shape is shared across all sensors (see Link);
// only framing differs per device, so that is all a Device supplies.
type Device interface {
	Name() string
	Category() controller.Category

	// Open acquires the underlying handle (serial port, i2c address).
	// An Open failure is a setup failure: reported once, not retried by
	// the read loop.
	Open() error

	// ReadFrame issues the device's request (if its protocol is
	// request/response), waits at most the configured timeout and
	// returns one raw numeric sample with the frame text it was parsed
	// from. Malformed and timed-out frames return an error; they are
	// never fatal to the link.
	ReadFrame() (float64, string, error)

	Close() error
}
