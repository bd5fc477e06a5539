package display

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/storage"
	"github.com/rweeks/tankmonitor/controller/telemetry"
)

// fakeButton is a settable wake button.
type fakeButton struct {
	mu      sync.Mutex
	pressed bool
}

func (b *fakeButton) Name() string { return "button-test" }
func (b *fakeButton) Number() int  { return 0 }
func (b *fakeButton) Close() error { return nil }

func (b *fakeButton) Read() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressed, nil
}

func (b *fakeButton) press(down bool) {
	b.mu.Lock()
	b.pressed = down
	b.mu.Unlock()
}

func testController(t *testing.T) controller.Controller {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tele, err := telemetry.New(telemetry.Config{}, prometheus.NewRegistry())
	require.NoError(t, err)
	return controller.New(store, tele)
}

func TestPressWakesThenExpires(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(testController(t), &fakeButton{}, time.Minute, func() string { return "1234" })
	s.SetClock(func() time.Time { return now })

	assert.False(t, s.On(), "panel starts blank")

	s.Press()
	assert.True(t, s.On())

	now = now.Add(59 * time.Second)
	assert.True(t, s.On())

	now = now.Add(2 * time.Second)
	assert.False(t, s.On(), "wake window passed")
}

func TestPressExtendsWindow(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(testController(t), &fakeButton{}, time.Minute, func() string { return "" })
	s.SetClock(func() time.Time { return now })

	s.Press()
	now = now.Add(40 * time.Second)
	s.Press()

	now = now.Add(59 * time.Second)
	assert.True(t, s.On(), "second press pushed the expiry out")

	now = now.Add(2 * time.Second)
	assert.False(t, s.On())
}

func TestPollerWakesOnButtonAndStops(t *testing.T) {
	button := &fakeButton{}
	s := New(testController(t), button, time.Minute, func() string { return "" })
	require.NoError(t, s.Setup())
	s.Start()

	assert.False(t, s.On())
	button.press(true)
	require.Eventually(t, func() bool { return s.On() },
		time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not join the poller")
	}
}
