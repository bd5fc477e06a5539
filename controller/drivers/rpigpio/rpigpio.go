// Package rpigpio exposes Raspberry Pi header GPIO lines as reef-pi HAL
// pins. Pins are addressed by logical name through an operator-supplied
// table (logical name -> BCM header number), so moving to different host
// wiring means editing the table, never the code.
package rpigpio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reef-pi/hal"
	rpio "github.com/stianeikeland/go-rpio/v4"
)

type Driver struct {
	meta    hal.Metadata
	devMode bool

	mu     sync.Mutex
	byName map[string]*pin
	pins   []*pin
}

// New memory-maps the GPIO registers and builds one pin per table entry.
// devMode skips the hardware mapping and latches writes in memory only;
// it is for development hosts without /dev/gpiomem.
func New(table map[string]int, devMode bool) (*Driver, error) {
	if !devMode {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("rpigpio: open gpio memory: %w", err)
		}
	}
	d := &Driver{
		devMode: devMode,
		byName:  make(map[string]*pin),
		meta: hal.Metadata{
			Name:        "rpi-gpio",
			Description: "Raspberry Pi header GPIO via /dev/gpiomem",
			Capabilities: []hal.Capability{
				hal.DigitalInput,
				hal.DigitalOutput,
			},
		},
	}
	for name, number := range table {
		if number < 0 || number > 27 {
			_ = d.Close()
			return nil, fmt.Errorf("rpigpio: pin %q: BCM number %d out of range", name, number)
		}
		p := &pin{name: name, number: number, devMode: devMode}
		if !devMode {
			p.rp = rpio.Pin(number)
		}
		d.byName[name] = p
		d.pins = append(d.pins, p)
	}
	sort.Slice(d.pins, func(i, j int) bool { return d.pins[i].name < d.pins[j].name })
	return d, nil
}

func (d *Driver) Metadata() hal.Metadata { return d.meta }

func (d *Driver) Close() error {
	if !d.devMode {
		return rpio.Close()
	}
	return nil
}

// OutputPin resolves a logical name to an output pin.
func (d *Driver) OutputPin(name string) (hal.DigitalOutputPin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("rpigpio: no pin named %q in the pin table", name)
	}
	p.output()
	return p, nil
}

// InputPin resolves a logical name to an input pin.
func (d *Driver) InputPin(name string) (hal.DigitalInputPin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("rpigpio: no pin named %q in the pin table", name)
	}
	p.input()
	return p, nil
}

func (d *Driver) DigitalOutputPins() []hal.DigitalOutputPin {
	out := make([]hal.DigitalOutputPin, len(d.pins))
	for i, p := range d.pins {
		out[i] = p
	}
	return out
}

func (d *Driver) DigitalInputPins() []hal.DigitalInputPin {
	out := make([]hal.DigitalInputPin, len(d.pins))
	for i, p := range d.pins {
		out[i] = p
	}
	return out
}

func (d *Driver) DigitalOutputPin(n int) (hal.DigitalOutputPin, error) {
	for _, p := range d.pins {
		if p.number == n {
			p.output()
			return p, nil
		}
	}
	return nil, fmt.Errorf("rpigpio: no pin with BCM number %d in the pin table", n)
}

func (d *Driver) DigitalInputPin(n int) (hal.DigitalInputPin, error) {
	for _, p := range d.pins {
		if p.number == n {
			p.input()
			return p, nil
		}
	}
	return nil, fmt.Errorf("rpigpio: no pin with BCM number %d in the pin table", n)
}

func (d *Driver) Pins(cap hal.Capability) ([]hal.Pin, error) {
	switch cap {
	case hal.DigitalInput, hal.DigitalOutput:
		var pins []hal.Pin
		for _, p := range d.pins {
			pins = append(pins, p)
		}
		return pins, nil
	default:
		return nil, fmt.Errorf("rpigpio: unsupported capability: %s", cap.String())
	}
}

type pin struct {
	name    string
	number  int
	devMode bool
	rp      rpio.Pin

	mu        sync.Mutex
	lastState bool
}

func (p *pin) Name() string { return p.name }
func (p *pin) Number() int  { return p.number }
func (p *pin) Close() error { return nil }

func (p *pin) output() {
	if !p.devMode {
		p.rp.Output()
	}
}

func (p *pin) input() {
	if !p.devMode {
		p.rp.Input()
	}
}

func (p *pin) Write(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.devMode {
		if state {
			p.rp.High()
		} else {
			p.rp.Low()
		}
	}
	p.lastState = state
	return nil
}

func (p *pin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastState
}

func (p *pin) Read() (bool, error) {
	if p.devMode {
		return p.LastState(), nil
	}
	return p.rp.Read() == rpio.High, nil
}
