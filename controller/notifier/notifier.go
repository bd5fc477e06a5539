// Package notifier formats alerts for delivery and drives the outbound
// transports. The core's obligation ends at handing it a fully populated
// TankAlert; everything past that point (cooldown, queueing, SMTP) is this
// package's problem and must never leak back into ingestion.
package notifier

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/teambition/rrule-go"

	"github.com/rweeks/tankmonitor/controller"
)

type Config struct {
	// Period is the minimum spacing between alert e-mails. It throttles
	// mail, never alert emission or history.
	Period time.Duration
	// SummaryRule is an optional RRULE for periodic status reports.
	SummaryRule string
}

// Notifier is the alert delivery boundary.
type Notifier struct {
	c         controller.Controller
	cfg       Config
	transport Transport
	clock     func() time.Time

	// Summarize builds the body of a scheduled status report. Left nil,
	// scheduled reports are disabled.
	Summarize func() string

	queue       *Queue
	summaryRule *rrule.RRule

	mu       sync.Mutex
	lastMail time.Time

	workerDone  chan struct{}
	summaryQuit chan struct{}
}

func New(c controller.Controller, cfg Config, transport Transport) *Notifier {
	return &Notifier{
		c:           c,
		cfg:         cfg,
		transport:   transport,
		clock:       time.Now,
		workerDone:  make(chan struct{}),
		summaryQuit: make(chan struct{}),
	}
}

// SetClock is for tests.
func (n *Notifier) SetClock(clock func() time.Time) { n.clock = clock }

func (n *Notifier) Setup() error {
	if err := n.c.Store().CreateBucket(queueBucket); err != nil {
		return err
	}
	q, err := NewQueue(n.c.Store())
	if err != nil {
		return err
	}
	n.queue = q
	if n.cfg.SummaryRule != "" {
		rr, err := parseRule(n.cfg.SummaryRule)
		if err != nil {
			return fmt.Errorf("summary rule %q: %w", n.cfg.SummaryRule, err)
		}
		n.summaryRule = rr
	}
	return nil
}

func (n *Notifier) Start() {
	go func() {
		n.queue.Process(n.send)
		close(n.workerDone)
	}()
	if n.Summarize != nil && n.summaryRule != nil {
		go runSchedule(n.summaryRule, n.summaryQuit, func() {
			if err := n.queue.Add("Tank status report", n.Summarize()); err != nil {
				n.c.LogError("notifier", "enqueue summary: "+err.Error())
			}
		})
	}
}

func (n *Notifier) Stop() {
	close(n.summaryQuit)
	n.queue.Stop()
	<-n.workerDone
}

// Offer accepts one alert for delivery. Every alert is logged; mail is
// additionally subject to the cooldown period. Offer never blocks on the
// transport and never returns an error to the evaluating thread.
func (n *Notifier) Offer(a controller.TankAlert, unit string) {
	subject, body := Format(a, unit)
	log.Printf("notifier: %s", subject)

	now := n.clock()
	n.mu.Lock()
	suppressed := !n.lastMail.IsZero() && now.Sub(n.lastMail) < n.cfg.Period
	if !suppressed {
		n.lastMail = now
	}
	n.mu.Unlock()
	if suppressed {
		return
	}
	if err := n.queue.Add(subject, body); err != nil {
		n.c.LogError("notifier", "enqueue alert: "+err.Error())
	}
}

func (n *Notifier) send(d Delivery) {
	if err := n.transport.Send(d.Subject, d.Body); err != nil {
		n.c.LogError("notifier", "deliver "+d.ID+": "+err.Error())
		return
	}
	n.c.Telemetry().IncMailSend()
}

// Format renders an alert into a mail subject and body.
func Format(a controller.TankAlert, unit string) (string, string) {
	when := time.Unix(int64(a.Timestamp), 0)
	var subject, detail string
	if a.Delta == nil {
		subject = fmt.Sprintf("Tank alert: %s at %s %s", a.Category, humanize.Commaf(a.Value), unit)
		detail = fmt.Sprintf("The %s reading fell below the configured threshold.", a.Category)
	} else {
		subject = fmt.Sprintf("Tank alert: %s changing at %s %s/min", a.Category, humanize.Commaf(*a.Delta), unit)
		detail = fmt.Sprintf("The %s reading is changing faster than the configured rate threshold.", a.Category)
	}
	body := fmt.Sprintf("%s\n\nReading: %s %s\nTime: %s (%s)\n",
		detail,
		humanize.Commaf(a.Value), unit,
		when.Format("2006-01-02 15:04:05"),
		humanize.Time(when),
	)
	if a.Delta != nil {
		body += fmt.Sprintf("Rate of change: %s %s/min\n", humanize.Commaf(*a.Delta), unit)
	}
	return subject, body
}

func (n *Notifier) LoadAPI(r *mux.Router) {
	r.HandleFunc("/api/tank/notifications/queue", func(w http.ResponseWriter, req *http.Request) {
		deliveries, err := n.queue.Pending()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deliveries)
	}).Methods("GET")
}
