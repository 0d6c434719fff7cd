// Package progress delivers phase progress notifications to an optional subscriber.
package progress

import "sync"

// Phase names a stage of the migration.
type Phase string

const (
	PhaseBackup   Phase = "backup"
	PhaseMigrate  Phase = "migrate"
	PhaseValidate Phase = "validate"
	PhaseRollback Phase = "rollback"
	PhaseComplete Phase = "complete"
)

// Event is a progress notification. It is never persisted.
type Event struct {
	Phase   Phase
	Current int
	Total   int
	Percent float64
	Message string
}

// Func receives progress events. It is called synchronously on the migration
// goroutine, so it should return quickly.
type Func func(Event)

// Reporter holds at most one subscriber. The zero value is ready to use and
// reports to nobody.
type Reporter struct {
	mu sync.RWMutex
	fn Func
}

// NewReporter creates a Reporter with no subscriber.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Subscribe replaces the current subscriber.
func (r *Reporter) Subscribe(fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn = fn
}

// Clear removes the subscriber.
func (r *Reporter) Clear() {
	r.Subscribe(nil)
}

// Report sends an event to the subscriber, filling in Percent from Current and Total.
// A nil Reporter is a no-op.
func (r *Reporter) Report(phase Phase, current, total int, message string) {
	if r == nil {
		return
	}
	r.mu.RLock()
	fn := r.fn
	r.mu.RUnlock()
	if fn == nil {
		return
	}

	fn(Event{
		Phase:   phase,
		Current: current,
		Total:   total,
		Percent: Percent(current, total),
		Message: message,
	})
}

// Percent returns current/total as 0..100. An empty total counts as done.
func Percent(current, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(current) / float64(total) * 100
}

// Tracker throttles reports for one pass over total items to every step
// percent, plus a final report at completion.
type Tracker struct {
	reporter *Reporter
	phase    Phase
	total    int
	every    int
	message  string
	next     int
}

// NewTracker creates a tracker for total items. step is a percentage in 1..100.
func (r *Reporter) NewTracker(phase Phase, total, step int, message string) *Tracker {
	if step <= 0 || step > 100 {
		step = 10
	}
	every := total * step / 100
	if every < 1 {
		every = 1
	}
	return &Tracker{
		reporter: r,
		phase:    phase,
		total:    total,
		every:    every,
		message:  message,
		next:     every,
	}
}

// Advance records that current items are processed and reports when a step
// boundary is crossed.
func (t *Tracker) Advance(current int) {
	if current < t.next || current >= t.total {
		return
	}
	t.reporter.Report(t.phase, current, t.total, t.message)
	for t.next <= current {
		t.next += t.every
	}
}

// Done sends the completion report.
func (t *Tracker) Done() {
	t.reporter.Report(t.phase, t.total, t.total, t.message)
}
