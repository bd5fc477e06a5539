package notifier

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rweeks/tankmonitor/controller/storage"
)

// queueBucket persists pending deliveries across restarts, so an alert
// raised just before a crash still goes out.
const queueBucket = "notifier_queue"

// Delivery is one formatted message waiting for the transport.
type Delivery struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Time    int64  `json:"ts"`
}

// Queue manages a persistent FIFO of deliveries with a single worker.
// Enqueueing never blocks on the transport; that is the point.
type Queue struct {
	store   storage.Store
	mu      sync.Mutex
	cond    *sync.Cond
	current *Delivery
	stopped bool
}

func NewQueue(store storage.Store) (*Queue, error) {
	q := &Queue{store: store}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Add persists a new delivery and wakes the worker.
func (q *Queue) Add(subject, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	d := Delivery{Subject: subject, Body: body, Time: time.Now().Unix()}
	fn := func(id string) interface{} {
		d.ID = id
		return &d
	}
	if err := q.store.Create(queueBucket, fn); err != nil {
		return err
	}
	q.cond.Signal()
	return nil
}

// Pending returns all queued deliveries in FIFO order.
func (q *Queue) Pending() ([]Delivery, error) {
	deliveries := []Delivery{}
	if err := q.store.List(queueBucket, func(_ string, v []byte) error {
		var d Delivery
		if err := json.Unmarshal(v, &d); err == nil {
			deliveries = append(deliveries, d)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].Time < deliveries[j].Time
	})
	return deliveries, nil
}

// Process runs the given worker for each delivery, oldest first. It blocks
// waiting for new deliveries and returns after Stop.
func (q *Queue) Process(worker func(Delivery)) {
	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return
		}
		var next *Delivery
		var nextKey string
		_ = q.store.List(queueBucket, func(id string, v []byte) error {
			var d Delivery
			if err := json.Unmarshal(v, &d); err == nil {
				if next == nil || d.Time < next.Time {
					next = &d
					nextKey = id
				}
			}
			return nil
		})

		if next == nil {
			q.cond.Wait()
			q.mu.Unlock()
			continue
		}

		q.current = next
		q.mu.Unlock()

		worker(*next)

		// Delete only after the worker returns: a crash mid-send leaves
		// the delivery on disk for the next start. At-least-once.
		q.mu.Lock()
		_ = q.store.Delete(queueBucket, nextKey)
		q.current = nil
		q.mu.Unlock()
	}
}

// Stop wakes and terminates the worker loop.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
