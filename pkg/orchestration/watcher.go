package orchestration

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is the pause between two plan status polls.
const DefaultPollInterval = 5 * time.Second

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Interval between polls. Zero or negative polls back to back.
	Interval time.Duration
}

// Event is one observed state transition of a build or test.
type Event struct {
	Kind   UnitKind
	Build  *Build // Set for build events
	Test   *Test  // Set for test events
	State  string // Normalized state; finished builds report pass/warning/fail/error
	Result string
	Record tuxapi.Record
}

// UID returns the uid of the unit the event is about.
func (e Event) UID() string {
	if e.Kind == UnitBuild && e.Build != nil {
		return e.Build.UID
	}
	if e.Test != nil {
		return e.Test.UID
	}
	return ""
}

// Label describes the unit the event is about.
func (e Event) Label() string {
	if e.Kind == UnitBuild && e.Build != nil {
		return e.Build.Label()
	}
	if e.Test != nil {
		return e.Test.Label()
	}
	return ""
}

// Terminal reports whether the event moved its unit into a final state.
func (e Event) Terminal() bool {
	if e.Kind == UnitBuild {
		return IsTerminalBuildState(e.State)
	}
	return IsTerminalTestState(e.State)
}

// Failed reports whether the event is a terminal failure.
func (e Event) Failed() bool {
	if !e.Terminal() {
		return false
	}
	if e.Kind == UnitBuild {
		return e.State == StateFail || e.State == StateError
	}
	return e.Result == StateFail || e.Result == StateError
}

// Watcher turns successive plan snapshots into transition events. It is
// pull-driven: polling only happens inside Next, paced by a fixed
// interval. Its bookkeeping lives here, not on the Plan, so several
// watchers of one plan are independent. A Watcher is not safe for
// concurrent use.
type Watcher struct {
	plan    *Plan
	limiter *rate.Limiter

	buildStatus map[*Build]unitStatus
	testStatus  map[*Test]unitStatus
	pending     []Event
	polls       int
}

// Watch returns a Watcher over p. A nil opts uses DefaultPollInterval.
func (p *Plan) Watch(opts *WatchOptions) *Watcher {
	interval := DefaultPollInterval
	if opts != nil {
		interval = opts.Interval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Watcher{
		plan:        p,
		limiter:     rate.NewLimiter(limit, 1),
		buildStatus: make(map[*Build]unitStatus, len(p.Builds)),
		testStatus:  make(map[*Test]unitStatus, len(p.Tests)),
	}
}

// Next returns the next transition, polling the plan when none is queued.
// It returns ErrWatchDone once every build and test is terminal, and
// the context error if ctx ends while waiting for the next poll. A poll
// error is returned as is; calling Next again retries the poll.
func (w *Watcher) Next(ctx context.Context) (Event, error) {
	for {
		if len(w.pending) > 0 {
			ev := w.pending[0]
			w.pending = w.pending[1:]
			return ev, nil
		}
		if w.Done() {
			return Event{}, ErrWatchDone
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return Event{}, err
		}
		snap, err := w.plan.GetPlan(ctx)
		if err != nil {
			return Event{}, err
		}
		w.polls++
		w.observe(snap)
	}
}

// Events adapts Next to a range-over-func sequence. The sequence ends
// after the last transition or after yielding an error.
func (w *Watcher) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := w.Next(ctx)
			if errors.Is(err, ErrWatchDone) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// observe queues one event per unit whose (state, result) changed, builds
// first, each group in submission order.
func (w *Watcher) observe(snap *Snapshot) {
	for _, b := range w.plan.Builds {
		rec, ok := snap.Builds[b.UID]
		if !ok || b.UID == "" {
			continue
		}
		status := buildStatus(w.plan.Kind, rec)
		if status.State == "" || status == w.buildStatus[b] {
			continue
		}
		w.buildStatus[b] = status
		w.pending = append(w.pending, Event{
			Kind:   UnitBuild,
			Build:  b,
			State:  status.State,
			Result: status.Result,
			Record: rec,
		})
	}

	for _, t := range w.plan.Tests {
		rec, ok := snap.Tests[t.UID]
		if !ok || t.UID == "" {
			continue
		}
		status := testStatus(rec)
		if status.State == "" || status == w.testStatus[t] {
			continue
		}
		w.testStatus[t] = status
		w.pending = append(w.pending, Event{
			Kind:   UnitTest,
			Test:   t,
			State:  status.State,
			Result: status.Result,
			Record: rec,
		})
	}
}

// Done reports whether every build and test has reached a terminal state
// and all events have been returned.
func (w *Watcher) Done() bool {
	if len(w.pending) > 0 {
		return false
	}
	for _, b := range w.plan.Builds {
		if !IsTerminalBuildState(w.buildStatus[b].State) {
			return false
		}
	}
	for _, t := range w.plan.Tests {
		if !IsTerminalTestState(w.testStatus[t].State) {
			return false
		}
	}
	return true
}

// Polls returns the number of completed polls.
func (w *Watcher) Polls() int {
	return w.polls
}

// Summary counts units per last observed state. Tests are counted by
// result once finished; units not seen yet count as "pending".
type Summary struct {
	Builds map[string]int `json:"builds"`
	Tests  map[string]int `json:"tests"`
}

// Failed reports whether any build or test ended in failure.
func (s Summary) Failed() bool {
	return s.Builds[StateFail]+s.Builds[StateError]+s.Tests[StateFail]+s.Tests[StateError] > 0
}

// Summary returns the current per-state counts.
func (w *Watcher) Summary() Summary {
	s := Summary{Builds: map[string]int{}, Tests: map[string]int{}}
	for _, b := range w.plan.Builds {
		s.Builds[stateOr(w.buildStatus[b].State, "pending")]++
	}
	for _, t := range w.plan.Tests {
		status := w.testStatus[t]
		if IsTerminalTestState(status.State) {
			s.Tests[stateOr(status.Result, "unknown")]++
			continue
		}
		s.Tests[stateOr(status.State, "pending")]++
	}
	return s
}

func stateOr(state, fallback string) string {
	if state == "" {
		return fallback
	}
	return state
}
