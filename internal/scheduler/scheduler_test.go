package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSites []string

func (s staticSites) ListSites(context.Context) ([]string, error) { return s, nil }

type failingSites struct{}

func (failingSites) ListSites(context.Context) ([]string, error) { return nil, errors.New("db down") }

type recordingTask struct {
	name   string
	everyN int
	offset int
	err    error
	panics bool

	mu    sync.Mutex
	sites []string
}

func (t *recordingTask) Name() string      { return t.name }
func (t *recordingTask) EveryNCycles() int { return t.everyN }
func (t *recordingTask) Offset() int       { return t.offset }

func (t *recordingTask) Execute(_ context.Context, siteID string) error {
	t.mu.Lock()
	t.sites = append(t.sites, siteID)
	t.mu.Unlock()
	if t.panics {
		panic("boom")
	}
	return t.err
}

func (t *recordingTask) executed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.sites...)
	sort.Strings(out)
	return out
}

func TestDue(t *testing.T) {
	tests := []struct {
		everyN, offset, cycle int
		want                  bool
	}{
		{1, 0, 0, true},
		{1, 0, 7, true},
		{3, 0, 0, true},
		{3, 0, 2, false},
		{3, 0, 3, true},
		{6, 1, 0, false},
		{6, 1, 1, true},
		{6, 1, 6, false},
		{6, 1, 7, true},
		{2, 5, 4, false},
		{0, 0, 0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Due(tt.everyN, tt.offset, tt.cycle), "Due(%d, %d, %d)", tt.everyN, tt.offset, tt.cycle)
	}
}

func TestAddTask_Validation(t *testing.T) {
	s := New(time.Second, staticSites{}, zerolog.Nop())

	require.NoError(t, s.AddTask(&recordingTask{name: "a", everyN: 1}))
	assert.Error(t, s.AddTask(&recordingTask{name: "a", everyN: 2}), "duplicate name")
	assert.Error(t, s.AddTask(&recordingTask{name: "b", everyN: 0}), "zero cadence")
}

func TestRunCycle_DispatchesDueTasksPerSite(t *testing.T) {
	s := New(time.Second, staticSites{"alpha", "beta"}, zerolog.Nop())
	every := &recordingTask{name: "every", everyN: 1}
	phased := &recordingTask{name: "phased", everyN: 2, offset: 1}
	require.NoError(t, s.AddTask(every))
	require.NoError(t, s.AddTask(phased))

	assert.Equal(t, 2, s.RunCycle(context.Background()), "cycle 0: only every")
	assert.Equal(t, 4, s.RunCycle(context.Background()), "cycle 1: both")
	assert.Equal(t, 2, s.RunCycle(context.Background()), "cycle 2: only every")
	s.wait()

	assert.Equal(t, []string{"alpha", "alpha", "alpha", "beta", "beta", "beta"}, every.executed())
	assert.Equal(t, []string{"alpha", "beta"}, phased.executed())
}

func TestRunCycle_FailuresAreContained(t *testing.T) {
	s := New(time.Second, staticSites{"alpha"}, zerolog.Nop())
	failing := &recordingTask{name: "failing", everyN: 1, err: errors.New("sync failed")}
	panicking := &recordingTask{name: "panicking", everyN: 1, panics: true}
	require.NoError(t, s.AddTask(failing))
	require.NoError(t, s.AddTask(panicking))

	assert.Equal(t, 2, s.RunCycle(context.Background()))
	assert.Equal(t, 2, s.RunCycle(context.Background()))
	s.wait()

	assert.Len(t, failing.executed(), 2)
	assert.Len(t, panicking.executed(), 2)
}

func TestRunCycle_SiteListFailure(t *testing.T) {
	s := New(time.Second, failingSites{}, zerolog.Nop())
	task := &recordingTask{name: "t", everyN: 1}
	require.NoError(t, s.AddTask(task))

	assert.Zero(t, s.RunCycle(context.Background()))
	assert.Empty(t, task.executed())
}

func TestStartStop(t *testing.T) {
	s := New(10*time.Millisecond, staticSites{"alpha"}, zerolog.Nop())
	task := &recordingTask{name: "t", everyN: 1}
	require.NoError(t, s.AddTask(task))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return len(task.executed()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	n := len(task.executed())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(task.executed()), "no executions after Stop")
	assert.NotPanics(t, s.Stop, "Stop is idempotent")
}
