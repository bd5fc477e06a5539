package valve

import (
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rweeks/tankmonitor/controller"
	"github.com/rweeks/tankmonitor/controller/auth"
	"github.com/rweeks/tankmonitor/controller/storage"
	"github.com/rweeks/tankmonitor/controller/telemetry"
)

// fakePin records every write so tests can assert on the electrical levels.
type fakePin struct {
	mu     sync.Mutex
	writes []bool
	block  chan struct{}
}

func (p *fakePin) Name() string    { return "valve-test" }
func (p *fakePin) Number() int     { return 0 }
func (p *fakePin) Close() error    { return nil }
func (p *fakePin) Write(b bool) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, b)
	return nil
}
func (p *fakePin) LastState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return false
	}
	return p.writes[len(p.writes)-1]
}

type allowAll struct{}

func (allowAll) Check(auth.Credential) error      { return nil }
func (allowAll) Authorize(*http.Request) error    { return nil }

type denyAll struct{}

func (denyAll) Check(auth.Credential) error   { return auth.ErrUnauthorized }
func (denyAll) Authorize(*http.Request) error { return auth.ErrUnauthorized }

func testController(t *testing.T) controller.Controller {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	tele, err := telemetry.New(telemetry.Config{}, prometheus.NewRegistry())
	require.NoError(t, err)
	return controller.New(store, tele)
}

func TestSetupDrivesLineLow(t *testing.T) {
	pin := &fakePin{}
	v := New(testController(t), pin, allowAll{})
	require.NoError(t, v.Setup())

	require.Len(t, pin.writes, 1)
	assert.False(t, pin.writes[0], "open valve holds the line low")
	st := v.State()
	assert.False(t, st.Closed)
	assert.Nil(t, st.TransitionTime)
}

func TestToggleInvertsPolarity(t *testing.T) {
	pin := &fakePin{}
	v := New(testController(t), pin, allowAll{})
	require.NoError(t, v.Setup())

	st, err := v.Toggle(auth.Credential{})
	require.NoError(t, err)
	assert.True(t, st.Closed)
	assert.True(t, pin.LastState(), "closed valve drives the line high")

	st, err = v.Toggle(auth.Credential{})
	require.NoError(t, err)
	assert.False(t, st.Closed)
	assert.False(t, pin.LastState())
}

func TestTransitionTimesStrictlyIncrease(t *testing.T) {
	pin := &fakePin{}
	v := New(testController(t), pin, allowAll{})
	require.NoError(t, v.Setup())

	// A frozen clock still may not produce duplicate transition times.
	frozen := time.Unix(1000, 0)
	v.SetClock(func() time.Time { return frozen })

	st1, err := v.Toggle(auth.Credential{})
	require.NoError(t, err)
	st2, err := v.Toggle(auth.Credential{})
	require.NoError(t, err)

	require.NotNil(t, st1.TransitionTime)
	require.NotNil(t, st2.TransitionTime)
	assert.Greater(t, *st2.TransitionTime, *st1.TransitionTime)
}

func TestConcurrentToggleIsBusy(t *testing.T) {
	pin := &fakePin{block: make(chan struct{})}
	v := New(testController(t), pin, allowAll{})
	// Skip Setup: its pin write would block on the gate.
	v.SetClock(time.Now)

	done := make(chan error, 1)
	go func() {
		_, err := v.Toggle(auth.Credential{})
		done <- err
	}()

	// Wait for the first toggle to take the in-flight slot.
	require.Eventually(t, func() bool { return v.State().InProgress },
		time.Second, time.Millisecond)

	_, err := v.Toggle(auth.Credential{})
	assert.ErrorIs(t, err, ErrBusy)

	close(pin.block)
	require.NoError(t, <-done)

	pin.mu.Lock()
	defer pin.mu.Unlock()
	assert.Len(t, pin.writes, 1, "the rejected toggle touched no GPIO")
}

func TestUnauthorizedToggleTouchesNoGPIO(t *testing.T) {
	pin := &fakePin{}
	v := New(testController(t), pin, denyAll{})
	require.NoError(t, v.Setup())
	writesAfterSetup := len(pin.writes)

	_, err := v.Toggle(auth.Credential{Username: "x", Password: "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Len(t, pin.writes, writesAfterSetup)
	assert.False(t, v.State().Closed)
}
