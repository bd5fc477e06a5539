package sensor

import (
	"errors"
	"fmt"

	"github.com/rweeks/tankmonitor/controller"
)

// ErrNotCalibrated marks a sensor link whose category has no configured
// calibration. It surfaces at setup; the read loop never sees it.
var ErrNotCalibrated = errors.New("no calibration configured")

// Coefficients define the affine transform from raw sensor units to
// physical units: value = raw*Scale + Offset.
type Coefficients struct {
	Scale  float64
	Offset float64
}

// Convert applies the transform. Pure; no failure modes.
func (k Coefficients) Convert(raw float64) float64 {
	return raw*k.Scale + k.Offset
}

// Calibrator holds the per-category coefficients loaded from config.
type Calibrator map[controller.Category]Coefficients

// For resolves a category's coefficients. Links call this once before the
// read loop starts, so a missing entry fails the link's setup instead of
// individual readings.
func (c Calibrator) For(cat controller.Category) (Coefficients, error) {
	k, ok := c[cat]
	if !ok {
		return Coefficients{}, fmt.Errorf("%w for category %s", ErrNotCalibrated, cat)
	}
	return k, nil
}
