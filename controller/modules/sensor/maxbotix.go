package sensor

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/rweeks/tankmonitor/controller"
)

// Maxbotix frames: the rangefinder streams unsolicited "R####\r" frames
// where #### is the ASCII distance in mm to the water surface. We scan to
// the 'R' marker and take the next four digits.
const (
	maxbotixFrameMarker = byte('R')
	maxbotixDigits      = 4
	// scan limit before giving up on finding a marker in garbage
	maxbotixScanLimit = 64
)

// Maxbotix reads the ultrasonic rangefinder's serial stream.
type Maxbotix struct {
	name     string
	category controller.Category
	portName string
	baud     int
	timeout  time.Duration

	port serial.Port
}

func NewMaxbotix(name string, category controller.Category, port string, baud int, timeout time.Duration) *Maxbotix {
	if baud == 0 {
		baud = 9600
	}
	return &Maxbotix{
		name:     name,
		category: category,
		portName: port,
		baud:     baud,
		timeout:  timeout,
	}
}

func (m *Maxbotix) Name() string                  { return m.name }
func (m *Maxbotix) Category() controller.Category { return m.category }

func (m *Maxbotix) Open() error {
	p, err := serial.Open(m.portName, &serial.Mode{BaudRate: m.baud})
	if err != nil {
		return fmt.Errorf("maxbotix %s: open %s: %w", m.name, m.portName, err)
	}
	if err := p.SetReadTimeout(m.timeout); err != nil {
		p.Close()
		return fmt.Errorf("maxbotix %s: set read timeout: %w", m.name, err)
	}
	m.port = p
	return nil
}

func (m *Maxbotix) ReadFrame() (float64, string, error) {
	return readMaxbotixFrame(m.port)
}

func (m *Maxbotix) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}

// readMaxbotixFrame scans r for the next well-formed frame. A Read
// returning zero bytes is a timeout (go.bug.st/serial semantics).
func readMaxbotixFrame(r io.Reader) (float64, string, error) {
	buf := make([]byte, 1)
	readByte := func() (byte, error) {
		n, err := r.Read(buf)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("read timeout")
		}
		return buf[0], nil
	}

	// Scan to the frame marker.
	scanned := 0
	for {
		b, err := readByte()
		if err != nil {
			return 0, "", err
		}
		if b == maxbotixFrameMarker {
			break
		}
		scanned++
		if scanned >= maxbotixScanLimit {
			return 0, "", fmt.Errorf("no frame marker in %d bytes", maxbotixScanLimit)
		}
	}

	digits := make([]byte, 0, maxbotixDigits)
	for len(digits) < maxbotixDigits {
		b, err := readByte()
		if err != nil {
			return 0, "", err
		}
		digits = append(digits, b)
	}
	frame := string(digits)
	v, err := strconv.ParseFloat(frame, 64)
	if err != nil {
		return 0, frame, fmt.Errorf("malformed frame %q: %w", frame, err)
	}
	return v, frame, nil
}
