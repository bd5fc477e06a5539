package notifier

import (
	"time"

	"github.com/teambition/rrule-go"
)

// parseRule compiles an RRULE recurrence (e.g. "FREQ=DAILY;BYHOUR=8"),
// anchored at the moment of parsing. A rule that does not parse is a
// configuration fault; callers surface it at setup.
func parseRule(src string) (*rrule.RRule, error) {
	anchor := "DTSTART=" + time.Now().UTC().Format("20060102T150405Z")
	return rrule.StrToRRule(anchor + ";" + src)
}

// runSchedule fires fn at every recurrence of rr. It returns when quit is
// closed or the rule has no further occurrences.
func runSchedule(rr *rrule.RRule, quit <-chan struct{}, fn func()) {
	for {
		next := rr.After(time.Now(), false)
		if next.IsZero() {
			return
		}
		select {
		case <-time.After(time.Until(next)):
			fn()
		case <-quit:
			return
		}
	}
}
