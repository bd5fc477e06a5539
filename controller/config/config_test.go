package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tankmonitor.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, ":4242", c.Listen)
	assert.Equal(t, 10000.0, c.Alerts.LevelThreshold)
	assert.Equal(t, 200.0, c.Alerts.RateThresholds["depth"])
	assert.Equal(t, 1440, c.Retention.MaxRecords)
	assert.InDelta(t, -0.037453, c.Calibration["depth"].Scale, 1e-9)
	require.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
alerts:
  level_threshold: 5000
sensors:
  - name: rangefinder
    category: depth
    device: maxbotix
    port: /dev/ttyAMA0
    timeout_seconds: 8
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, 5000.0, c.Alerts.LevelThreshold)
	require.Len(t, c.Sensors, 1)
	assert.Equal(t, "maxbotix", c.Sensors[0].Device)
	assert.Equal(t, "tankmonitor.db", c.Database, "untouched keys keep their defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidateSensorWithoutCalibration(t *testing.T) {
	path := writeConfig(t, `
sensors:
  - name: probe
    category: salinity
    device: density
    port: /dev/ttyUSB0
    timeout_seconds: 8
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no calibration")
}

func TestValidateUnknownDevice(t *testing.T) {
	path := writeConfig(t, `
sensors:
  - name: probe
    category: depth
    device: sonar
    timeout_seconds: 8
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown device")
}

func TestValidateValvePinInTable(t *testing.T) {
	path := writeConfig(t, `
gpio:
  valve_pin: valve
  pins:
    button: 21
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valve_pin")
}

func TestValidateEmailNeedsDistribution(t *testing.T) {
	path := writeConfig(t, `
email:
  enable: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distribution")
}

func TestValidateNegativeRateThreshold(t *testing.T) {
	path := writeConfig(t, `
alerts:
  rate_thresholds:
    depth: -5
`)
	_, err := Load(path)
	assert.Error(t, err)
}
