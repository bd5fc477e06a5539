// Package config is the monitor's startup configuration surface. The file
// is read once by the daemon; nothing in the runtime path re-reads it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/rweeks/tankmonitor/controller/auth"
	"github.com/rweeks/tankmonitor/controller/telemetry"
)

// Coefficients is one category's affine calibration: value = raw*Scale + Offset.
type Coefficients struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// Sensor describes one physical sensor link.
type Sensor struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	// Device selects the wire framing: maxbotix, density or tempprobe.
	Device string `yaml:"device"`
	// Serial devices.
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	// I2C devices.
	Address byte `yaml:"address"`
	// TimeoutSeconds bounds a single frame read.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// PollSeconds paces request/response devices; 0 means the device
	// streams unsolicited frames.
	PollSeconds int `yaml:"poll_seconds"`
}

// GPIO maps logical pin names to BCM header numbers. Changing host wiring
// means editing this table only.
type GPIO struct {
	DevMode   bool           `yaml:"dev_mode"`
	Pins      map[string]int `yaml:"pins"`
	ValvePin  string         `yaml:"valve_pin"`
	ButtonPin string         `yaml:"button_pin"`
}

// Email configures the alert mail transport.
type Email struct {
	Enable        bool     `yaml:"enable"`
	PeriodSeconds int      `yaml:"period_seconds"`
	Server        string   `yaml:"server"`
	Port          int      `yaml:"port"`
	TLS           bool     `yaml:"tls"`
	From          string   `yaml:"from"`
	Password      string   `yaml:"password"`
	Distribution  []string `yaml:"distribution"`
	// SummaryRule is an RRULE recurrence for periodic status reports,
	// e.g. "FREQ=DAILY;BYHOUR=8". Empty disables them.
	SummaryRule string `yaml:"summary_rule"`
}

// Alerts holds the threshold rules evaluated on every reading.
type Alerts struct {
	// LevelThreshold is the absolute low-water threshold; it applies to
	// the depth category only.
	LevelThreshold float64 `yaml:"level_threshold"`
	// RateThresholds bound the absolute per-minute rate of change,
	// per category.
	RateThresholds map[string]float64 `yaml:"rate_thresholds"`
	// Rules are optional govaluate expressions per category, evaluated
	// after the built-in triggers. Variables: value, rate, interval.
	Rules map[string]string `yaml:"rules"`
	// DebugWindowSeconds is how long an alert raises log verbosity.
	DebugWindowSeconds int `yaml:"debug_window_seconds"`
}

// Retention bounds the in-memory time series.
type Retention struct {
	MaxRecords     int `yaml:"max_records"`
	HorizonSeconds int `yaml:"horizon_seconds"`
}

type Config struct {
	Database    string                  `yaml:"database"`
	Listen      string                  `yaml:"listen"`
	Calibration map[string]Coefficients `yaml:"calibration"`
	Sensors     []Sensor                `yaml:"sensors"`
	Alerts      Alerts                  `yaml:"alerts"`
	GPIO        GPIO                    `yaml:"gpio"`
	Credentials auth.Config             `yaml:"credentials"`
	Email       Email                   `yaml:"email"`
	Retention   Retention               `yaml:"retention"`
	Telemetry   telemetry.Config        `yaml:"telemetry"`
	// Units maps a category to its display unit for notifications.
	Units map[string]string `yaml:"units"`
	// DisplayWakeSeconds is how long a button press keeps the front
	// panel display awake.
	DisplayWakeSeconds int `yaml:"display_wake_seconds"`
}

// Default mirrors the values the monitor has always shipped with.
func Default() Config {
	return Config{
		Database: "tankmonitor.db",
		Listen:   ":4242",
		Calibration: map[string]Coefficients{
			"depth": {Scale: -0.037453, Offset: 107.1161},
		},
		Alerts: Alerts{
			LevelThreshold: 10000.0,
			RateThresholds: map[string]float64{
				"depth":   200.0,
				"density": 0.02,
			},
			DebugWindowSeconds: 300,
		},
		Email: Email{
			PeriodSeconds: 3600,
			Server:        "smtp.gmail.com",
			Port:          465,
			TLS:           true,
		},
		Retention: Retention{
			MaxRecords:     1440,
			HorizonSeconds: 0,
		},
		Units: map[string]string{
			"depth":      "litres",
			"density":    "g/cm3",
			"water_temp": "degrees",
			"distance":   "mm",
		},
		DisplayWakeSeconds: 60,
	}
}

// Load reads and validates a YAML config file over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate fails fast on configuration the runtime would otherwise only
// discover mid-flight. Calibration and threshold problems are fatal here,
// never evaluated per reading.
func (c Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("config: database path is required")
	}
	for _, s := range c.Sensors {
		if s.Name == "" || s.Category == "" {
			return fmt.Errorf("config: sensor entries need name and category")
		}
		if _, ok := c.Calibration[s.Category]; !ok {
			return fmt.Errorf("config: sensor %s: no calibration for category %s", s.Name, s.Category)
		}
		switch s.Device {
		case "maxbotix", "density":
			if s.Port == "" {
				return fmt.Errorf("config: sensor %s: serial device needs a port", s.Name)
			}
		case "tempprobe":
			if s.Address == 0 {
				return fmt.Errorf("config: sensor %s: i2c device needs an address", s.Name)
			}
		default:
			return fmt.Errorf("config: sensor %s: unknown device %q", s.Name, s.Device)
		}
		if s.TimeoutSeconds <= 0 {
			return fmt.Errorf("config: sensor %s: timeout_seconds must be positive", s.Name)
		}
	}
	for cat, th := range c.Alerts.RateThresholds {
		if th < 0 {
			return fmt.Errorf("config: rate threshold for %s must be non-negative (rates are compared by magnitude)", cat)
		}
	}
	if c.GPIO.ValvePin != "" {
		if _, ok := c.GPIO.Pins[c.GPIO.ValvePin]; !ok {
			return fmt.Errorf("config: valve_pin %q is not in the pin table", c.GPIO.ValvePin)
		}
	}
	if c.GPIO.ButtonPin != "" {
		if _, ok := c.GPIO.Pins[c.GPIO.ButtonPin]; !ok {
			return fmt.Errorf("config: button_pin %q is not in the pin table", c.GPIO.ButtonPin)
		}
	}
	if c.Email.Enable && len(c.Email.Distribution) == 0 {
		return fmt.Errorf("config: email enabled with an empty distribution list")
	}
	if c.Retention.MaxRecords <= 0 {
		return fmt.Errorf("config: retention max_records must be positive")
	}
	return nil
}
