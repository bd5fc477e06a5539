package sensor

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/rweeks/tankmonitor/controller"
)

// The density probe is polled: write the request command, then read an
// ASCII float terminated by CR.
var densityPollCommand = []byte{'D', '\r'}

const densityFrameLimit = 32

// Density reads the density probe over its serial link.
type Density struct {
	name     string
	category controller.Category
	portName string
	baud     int
	timeout  time.Duration

	port serial.Port
}

func NewDensity(name string, category controller.Category, port string, baud int, timeout time.Duration) *Density {
	if baud == 0 {
		baud = 9600
	}
	return &Density{
		name:     name,
		category: category,
		portName: port,
		baud:     baud,
		timeout:  timeout,
	}
}

func (d *Density) Name() string                  { return d.name }
func (d *Density) Category() controller.Category { return d.category }

func (d *Density) Open() error {
	p, err := serial.Open(d.portName, &serial.Mode{BaudRate: d.baud})
	if err != nil {
		return fmt.Errorf("density %s: open %s: %w", d.name, d.portName, err)
	}
	if err := p.SetReadTimeout(d.timeout); err != nil {
		p.Close()
		return fmt.Errorf("density %s: set read timeout: %w", d.name, err)
	}
	d.port = p
	return nil
}

func (d *Density) ReadFrame() (float64, string, error) {
	if _, err := d.port.Write(densityPollCommand); err != nil {
		return 0, "", fmt.Errorf("density %s: poll: %w", d.name, err)
	}
	return readDensityFrame(d.port)
}

func (d *Density) Close() error {
	if d.port == nil {
		return nil
	}
	return d.port.Close()
}

// readDensityFrame collects bytes up to CR and parses them as a float.
func readDensityFrame(r io.Reader) (float64, string, error) {
	buf := make([]byte, 1)
	frame := make([]byte, 0, densityFrameLimit)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return 0, string(frame), err
		}
		if n == 0 {
			return 0, string(frame), fmt.Errorf("read timeout")
		}
		if buf[0] == '\r' || buf[0] == '\n' {
			break
		}
		frame = append(frame, buf[0])
		if len(frame) > densityFrameLimit {
			return 0, string(frame), fmt.Errorf("frame exceeds %d bytes", densityFrameLimit)
		}
	}
	text := strings.TrimSpace(string(frame))
	if text == "" {
		return 0, text, fmt.Errorf("empty frame")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, text, fmt.Errorf("malformed frame %q: %w", text, err)
	}
	return v, text, nil
}
