package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowOpensAndExpires(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewWindowWithClock(func() time.Time { return now })

	assert.Equal(t, Default, w.Level())

	w.Open(time.Minute)
	assert.Equal(t, Debug, w.Level())

	now = now.Add(30 * time.Second)
	assert.Equal(t, Debug, w.Level())

	now = now.Add(31 * time.Second)
	assert.Equal(t, Default, w.Level())
}

func TestWindowOpenExtends(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewWindowWithClock(func() time.Time { return now })

	w.Open(time.Minute)
	now = now.Add(50 * time.Second)
	w.Open(time.Minute)

	now = now.Add(59 * time.Second)
	assert.Equal(t, Debug, w.Level(), "second Open pushed the expiry out")

	now = now.Add(2 * time.Second)
	assert.Equal(t, Default, w.Level())
}

func TestWindowTick(t *testing.T) {
	now := time.Unix(0, 0)
	w := NewWindowWithClock(func() time.Time { return now })

	w.Open(time.Minute)
	w.Tick(now.Add(30 * time.Second))
	assert.Equal(t, Debug, w.Level())

	w.Tick(now.Add(2 * time.Minute))
	assert.Equal(t, Default, w.Level())
}
