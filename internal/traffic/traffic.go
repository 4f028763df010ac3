// Package traffic keeps a sliding window of request outcomes. /health reads
// it to decide overloaded (too many denials) and degraded (error rate).
package traffic

import (
	"net/http"
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome uint8

const (
	Success Outcome = iota
	Error
	Denied
)

// retention bounds memory; windows longer than this under-count.
const retention = 5 * time.Minute

var defaultTracker = NewTracker()

// RecordStatus records the outcome implied by an HTTP status code.
func RecordStatus(code int) { defaultTracker.Record(OutcomeForStatus(code)) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// OutcomeForStatus maps 5xx to Error, 429 to Denied and everything else to
// Success. Client errors (400, 404) are the caller's fault, not ours.
func OutcomeForStatus(code int) Outcome {
	switch {
	case code == http.StatusTooManyRequests:
		return Denied
	case code >= 500:
		return Error
	default:
		return Success
	}
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker maintains a time-ordered list of outcome events.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends an outcome at the current time and prunes expired events.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	counts := t.count(window)
	return counts[Success] + counts[Error] + counts[Denied]
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	return t.count(window)[Denied]
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount includes successes and errors only.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	counts := t.count(window)
	return counts[Error], counts[Error] + counts[Success]
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) count(window time.Duration) [3]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var counts [3]int
	cutoff := t.now().Add(-window)
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		counts[t.events[i].outcome]++
	}
	return counts
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
