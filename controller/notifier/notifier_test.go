package notifier

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

type recordingTransport struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingTransport) Send(subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingTransport) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.subjects...)
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

func TestFormatLevelAlert(t *testing.T) {
	subject, body := Format(controller.TankAlert{
		Category:  controller.Depth,
		Timestamp: 1700000000,
		Value:     9500,
	}, "mm")

	assert.Equal(t, "Tank alert: depth at 9,500 mm", subject)
	assert.Contains(t, body, "fell below the configured threshold")
	assert.Contains(t, body, "Reading: 9,500 mm")
	assert.NotContains(t, body, "Rate of change")
}

func TestFormatRateAlert(t *testing.T) {
	rate := -250.5
	subject, body := Format(controller.TankAlert{
		Category:  controller.Depth,
		Timestamp: 1700000000,
		Value:     50000,
		Delta:     &rate,
	}, "mm")

	assert.Equal(t, "Tank alert: depth changing at -250.5 mm/min", subject)
	assert.Contains(t, body, "faster than the configured rate threshold")
	assert.Contains(t, body, "Rate of change: -250.5 mm/min")
}

func TestCooldownThrottlesMailNotAlerts(t *testing.T) {
	n := New(testController(t), Config{Period: time.Hour}, &recordingTransport{})
	require.NoError(t, n.Setup())
	now := time.Unix(1000, 0)
	n.SetClock(func() time.Time { return now })

	alert := controller.TankAlert{Category: controller.Depth, Timestamp: 1000, Value: 5}
	n.Offer(alert, "mm")
	now = now.Add(10 * time.Minute)
	n.Offer(alert, "mm")

	pending, err := n.queue.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "the second alert is inside the cooldown")

	now = now.Add(time.Hour)
	n.Offer(alert, "mm")
	pending, err = n.queue.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSuppressedAlertDoesNotResetCooldown(t *testing.T) {
	n := New(testController(t), Config{Period: time.Hour}, &recordingTransport{})
	require.NoError(t, n.Setup())
	now := time.Unix(1000, 0)
	n.SetClock(func() time.Time { return now })

	alert := controller.TankAlert{Category: controller.Depth, Timestamp: 1000, Value: 5}
	n.Offer(alert, "mm")

	// A suppressed alert must not push the next send further out: the one
	// at +70min clears the period measured from the first send, not from
	// the suppressed attempt at +50min.
	now = now.Add(50 * time.Minute)
	n.Offer(alert, "mm")
	now = now.Add(20 * time.Minute)
	n.Offer(alert, "mm")

	pending, err := n.queue.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestBadSummaryRuleFailsSetup(t *testing.T) {
	n := New(testController(t), Config{SummaryRule: "FREQ=NEVER"}, &recordingTransport{})
	assert.Error(t, n.Setup())
}

func TestWorkerDrainsQueue(t *testing.T) {
	transport := &recordingTransport{}
	n := New(testController(t), Config{Period: 0}, transport)
	require.NoError(t, n.Setup())
	n.Start()

	n.Offer(controller.TankAlert{Category: controller.Depth, Timestamp: 1000, Value: 5}, "mm")
	n.Offer(controller.TankAlert{Category: controller.Depth, Timestamp: 1010, Value: 4}, "mm")

	require.Eventually(t, func() bool { return len(transport.sent()) == 2 },
		time.Second, time.Millisecond)
	n.Stop()

	pending, err := n.queue.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDeliveryPersistsUntilSent(t *testing.T) {
	c := testController(t)
	require.NoError(t, c.Store().CreateBucket(queueBucket))
	q, err := NewQueue(c.Store())
	require.NoError(t, err)
	require.NoError(t, q.Add("held", "body"))

	started := make(chan struct{})
	release := make(chan struct{})
	go q.Process(func(Delivery) {
		close(started)
		<-release
	})
	<-started

	// While the transport holds the delivery it must still be on disk, so
	// a crash mid-send does not lose it.
	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	close(release)
	require.Eventually(t, func() bool {
		p, err := q.Pending()
		return err == nil && len(p) == 0
	}, time.Second, time.Millisecond)
	q.Stop()
}

func TestQueueFIFO(t *testing.T) {
	c := testController(t)
	require.NoError(t, c.Store().CreateBucket(queueBucket))
	q, err := NewQueue(c.Store())
	require.NoError(t, err)

	require.NoError(t, q.Add("first", "a"))
	require.NoError(t, q.Add("second", "b"))
	require.NoError(t, q.Add("third", "c"))

	var mu sync.Mutex
	var order []string
	go q.Process(func(d Delivery) {
		mu.Lock()
		order = append(order, d.Subject)
		mu.Unlock()
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}
