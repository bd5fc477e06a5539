package sensor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reef-pi/rpi/i2c"

	"github.com/rweeks/tankmonitor/controller"
)

// The temperature probe board answers an ASCII command over I2C: write
// "R\x00", wait for the firmware to sample, read a payload where byte 0 is
// a status flag and the rest is an ASCII float padded with NUL/0xFF.
const (
	tempProbeCommand   = "R"
	tempProbeReadDelay = 300 * time.Millisecond
	tempProbePayload   = 16
)

// TempProbe reads the water temperature board on the I2C bus.
type TempProbe struct {
	name     string
	category controller.Category
	bus      i2c.Bus
	addr     byte
}

func NewTempProbe(name string, category controller.Category, bus i2c.Bus, addr byte) *TempProbe {
	return &TempProbe{name: name, category: category, bus: bus, addr: addr}
}

func (t *TempProbe) Name() string                  { return t.name }
func (t *TempProbe) Category() controller.Category { return t.category }

// Open probes the device once so a missing board fails setup instead of
// producing an endless stream of frame errors.
func (t *TempProbe) Open() error {
	if _, _, err := t.ReadFrame(); err != nil {
		return fmt.Errorf("tempprobe %s addr=0x%02X: %w", t.name, t.addr, err)
	}
	return nil
}

func (t *TempProbe) ReadFrame() (float64, string, error) {
	if err := t.bus.WriteBytes(t.addr, []byte(tempProbeCommand+"\x00")); err != nil {
		return 0, "", fmt.Errorf("write command: %w", err)
	}
	time.Sleep(tempProbeReadDelay)
	payload, err := t.bus.ReadBytes(t.addr, tempProbePayload)
	if err != nil {
		return 0, "", fmt.Errorf("read payload: %w", err)
	}
	if len(payload) == 0 {
		return 0, "", fmt.Errorf("empty payload")
	}
	if payload[0] != 1 {
		return 0, "", fmt.Errorf("status=%d", payload[0])
	}
	b := payload[1:]
	for i, v := range b {
		if v == 0x00 {
			b = b[:i]
			break
		}
	}
	for len(b) > 0 && b[len(b)-1] == 0xFF {
		b = b[:len(b)-1]
	}
	text := strings.TrimSpace(string(b))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, text, fmt.Errorf("malformed payload %q: %w", text, err)
	}
	return v, text, nil
}

func (t *TempProbe) Close() error { return nil }
