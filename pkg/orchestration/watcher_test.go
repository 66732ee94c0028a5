package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mattsolo1/tuxplan/pkg/tuxapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchDoc = `version: 1
jobs:
  - builds:
      - {toolchain: gcc-10, target_arch: arm64}
      - {toolchain: clang-11, target_arch: x86_64}
    test: {device: qemu-arm64}
  - tests:
      - {device: qemu-x86_64, kernel: "https://storage.example.com/bzImage"}
`

func newWatchPlan(t *testing.T, client *fakeClient) *Plan {
	t.Helper()
	cfg, err := ParsePlanConfig([]byte(watchDoc), PlanConfigOptions{})
	require.NoError(t, err)
	p := NewPlan(client, cfg, SubmitOptions{})
	p.SetLogger(NewDiscardLogger())
	require.NoError(t, p.Submit(context.Background()))
	return p
}

func page(builds []tuxapi.Record, tests []tuxapi.Record) *tuxapi.PlanPage {
	return &tuxapi.PlanPage{Builds: collection(nil, builds...), Tests: collection(nil, tests...)}
}

type seen struct {
	uid   string
	state string
}

func drain(t *testing.T, w *Watcher) []seen {
	t.Helper()
	var got []seen
	for {
		ev, err := w.Next(context.Background())
		if errors.Is(err, ErrWatchDone) {
			return got
		}
		require.NoError(t, err)
		got = append(got, seen{uid: ev.UID(), state: ev.State})
	}
}

var watchPolls = []*tuxapi.PlanPage{
	page(
		[]tuxapi.Record{buildRecord("my-build-00", "running"), buildRecord("my-build-01", "queued")},
		[]tuxapi.Record{
			testRecord("my-test-00", "waiting", "", "my-build-00"),
			testRecord("my-test-01", "waiting", "", "my-build-01"),
			testRecord("my-test-02", "running", "", ""),
		},
	),
	page(
		[]tuxapi.Record{passedBuild("my-build-00"), buildRecord("my-build-01", "queued")},
		[]tuxapi.Record{
			testRecord("my-test-00", "waiting", "", "my-build-00"),
			testRecord("my-test-01", "waiting", "", "my-build-01"),
			testRecord("my-test-02", "running", "", ""),
		},
	),
	page(
		[]tuxapi.Record{
			passedBuild("my-build-00"),
			buildRecord("my-build-01", "finished", "result", "fail", "tuxbuild_status", "PASS", "build_status", "fail"),
		},
		[]tuxapi.Record{
			testRecord("my-test-00", "finished", "pass", "my-build-00"),
			testRecord("my-test-01", "finished", "error", "my-build-01"),
			testRecord("my-test-02", "finished", "pass", ""),
		},
	),
}

func TestWatcher_EmitsTransitionsInOrder(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls...)

	w := p.Watch(&WatchOptions{Interval: 0})
	got := drain(t, w)

	assert.Equal(t, []seen{
		// first poll reports every unit
		{"my-build-00", "running"},
		{"my-build-01", "queued"},
		{"my-test-00", "waiting"},
		{"my-test-01", "waiting"},
		{"my-test-02", "running"},
		// second poll only the build that changed
		{"my-build-00", "pass"},
		// third poll, builds before tests
		{"my-build-01", "fail"},
		{"my-test-00", "finished"},
		{"my-test-01", "finished"},
		{"my-test-02", "finished"},
	}, got)
	assert.Equal(t, 3, w.Polls())
	assert.True(t, w.Done())

	_, err := w.Next(context.Background())
	assert.ErrorIs(t, err, ErrWatchDone)
	assert.Equal(t, 3, w.Polls())
}

func TestWatcher_NoEventWithoutChange(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	unchanged := watchPolls[0]
	client.getPage = pollSequence(unchanged, unchanged, unchanged, watchPolls[2])

	got := drain(t, p.Watch(&WatchOptions{}))
	assert.Len(t, got, 10)
	assert.Equal(t, 4, client.pageRequests)
}

func TestWatcher_ComparesStateAndResult(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)

	builds := []tuxapi.Record{passedBuild("my-build-00"), passedBuild("my-build-01")}
	client.getPage = pollSequence(
		page(builds, []tuxapi.Record{
			testRecord("my-test-00", "running", "", ""),
			testRecord("my-test-01", "finished", "pass", ""),
			testRecord("my-test-02", "finished", "pass", ""),
		}),
		page(builds, []tuxapi.Record{
			testRecord("my-test-00", "running", "unknown", ""),
			testRecord("my-test-01", "finished", "pass", ""),
			testRecord("my-test-02", "finished", "pass", ""),
		}),
		page(builds, []tuxapi.Record{
			testRecord("my-test-00", "finished", "fail", ""),
			testRecord("my-test-01", "finished", "pass", ""),
			testRecord("my-test-02", "finished", "pass", ""),
		}),
	)

	w := p.Watch(&WatchOptions{})
	var results []string
	for ev, err := range w.Events(context.Background()) {
		require.NoError(t, err)
		if ev.UID() == "my-test-00" {
			results = append(results, ev.State+"/"+ev.Result)
		}
	}
	assert.Equal(t, []string{"running/", "running/unknown", "finished/fail"}, results)
}

func TestWatcher_MissingUnitsProduceNoEvent(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(
		page([]tuxapi.Record{buildRecord("my-build-00", "running")}, nil),
		watchPolls[2],
	)

	w := p.Watch(&WatchOptions{})
	ev, err := w.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "my-build-00", ev.UID())
	assert.False(t, w.Done())

	ev, err = w.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, w.Polls())
	assert.Equal(t, "my-build-00", ev.UID())
	assert.Equal(t, StatePass, ev.State)
}

func TestWatcher_EventsIterator(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls...)

	var builds, tests, failed int
	for ev, err := range p.Watch(&WatchOptions{}).Events(context.Background()) {
		require.NoError(t, err)
		switch ev.Kind {
		case UnitBuild:
			builds++
			assert.NotNil(t, ev.Build)
		case UnitTest:
			tests++
			assert.NotNil(t, ev.Test)
		}
		if ev.Failed() {
			failed++
		}
	}
	assert.Equal(t, 4, builds)
	assert.Equal(t, 6, tests)
	assert.Equal(t, 2, failed)
}

func TestWatcher_EventsStopsOnBreak(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls...)

	n := 0
	for range p.Watch(&WatchOptions{}).Events(context.Background()) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, client.pageRequests)
}

func TestWatcher_PollErrorIsRetried(t *testing.T) {
	boom := errors.New("bad gateway")
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = func(call int, _ tuxapi.Cursors) (*tuxapi.PlanPage, error) {
		if call == 0 {
			return nil, boom
		}
		return watchPolls[2], nil
	}

	w := p.Watch(&WatchOptions{})
	_, err := w.Next(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, w.Polls())

	got := drain(t, w)
	assert.Len(t, got, 5)
	assert.Equal(t, 1, w.Polls())
}

func TestWatcher_EventsYieldsError(t *testing.T) {
	boom := errors.New("bad gateway")
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = func(int, tuxapi.Cursors) (*tuxapi.PlanPage, error) { return nil, boom }

	var errs []error
	for _, err := range p.Watch(&WatchOptions{}).Events(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestWatcher_ContextCanceled(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls[0])

	w := p.Watch(&WatchOptions{Interval: time.Hour})
	for i := 0; i < 5; i++ {
		_, err := w.Next(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, w.Polls())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := w.Next(ctx)
		errc <- err
	}()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
	assert.Equal(t, 1, w.Polls())
}

func TestWatcher_PacesPolls(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	unchanged := watchPolls[0]
	client.getPage = pollSequence(unchanged, unchanged, watchPolls[2])

	interval := 20 * time.Millisecond
	start := time.Now()
	drain(t, p.Watch(&WatchOptions{Interval: interval}))

	assert.Equal(t, 3, client.pageRequests)
	assert.GreaterOrEqual(t, time.Since(start), interval+interval/2)
}

func TestWatcher_IndependentWatchers(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls[2])

	first := drain(t, p.Watch(&WatchOptions{}))
	second := drain(t, p.Watch(&WatchOptions{}))
	assert.Equal(t, first, second)
	assert.Len(t, first, 5)
}

func TestWatcher_Summary(t *testing.T) {
	client := newFakeClient()
	p := newWatchPlan(t, client)
	client.getPage = pollSequence(watchPolls...)

	w := p.Watch(nil)
	s := w.Summary()
	assert.Equal(t, map[string]int{"pending": 2}, s.Builds)
	assert.Equal(t, map[string]int{"pending": 3}, s.Tests)
	assert.False(t, s.Failed())

	w = p.Watch(&WatchOptions{})
	drain(t, w)
	s = w.Summary()
	assert.Equal(t, map[string]int{StatePass: 1, StateFail: 1}, s.Builds)
	assert.Equal(t, map[string]int{"pass": 2, "error": 1}, s.Tests)
	assert.True(t, s.Failed())
}

func TestWatcher_NotSubmitted(t *testing.T) {
	cfg, err := ParsePlanConfig([]byte(watchDoc), PlanConfigOptions{})
	require.NoError(t, err)
	p := NewPlan(newFakeClient(), cfg, SubmitOptions{})

	_, err = p.Watch(&WatchOptions{}).Next(context.Background())
	assert.ErrorIs(t, err, ErrNotSubmitted)
}
