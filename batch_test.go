package caracal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubProcessor fails any job whose data starts with "fail", panics on
// "panic", decodes nothing on "corrupt" and otherwise succeeds after delay.
type stubProcessor struct {
	delay   time.Duration
	release chan struct{}

	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32

	mu    sync.Mutex
	order []string
}

func (s *stubProcessor) Process(ctx context.Context, data []byte, p Profile) (*Outcome, error) {
	n := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		old := s.peak.Load()
		if n <= old || s.peak.CompareAndSwap(old, n) {
			break
		}
	}
	s.calls.Add(1)
	s.mu.Lock()
	s.order = append(s.order, string(data))
	s.mu.Unlock()

	if s.release != nil {
		<-s.release
	}
	time.Sleep(s.delay)

	switch {
	case strings.HasPrefix(string(data), "fail"):
		return nil, errors.New("encoder exploded")
	case strings.HasPrefix(string(data), "corrupt"):
		return nil, opError("decode", ErrDecode, errors.New("bad header"))
	case strings.HasPrefix(string(data), "panic"):
		panic("boom")
	}
	return &Outcome{
		Result: &EncodedResult{Size: 1, OriginalSize: int64(len(data))},
		Report: &QualityReport{OverallQuality: 75, Grade: GradeGood, CompressionRatio: float64(len(data))},
	}, nil
}

func (s *stubProcessor) processed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func newTestCoordinator(t *testing.T, proc Processor, opts BatchOptions) *Coordinator {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	c, err := NewCoordinator(proc, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func jobs(data ...string) []Job {
	out := make([]Job, len(data))
	for i, d := range data {
		out[i] = Job{Name: d, Data: []byte(d), Profile: DefaultProfile()}
	}
	return out
}

func waitFor(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func itemByName(t *testing.T, c *Coordinator, name string) QueueItem {
	t.Helper()
	for _, it := range c.Items() {
		if it.Name == name {
			return it
		}
	}
	t.Fatalf("no item %q", name)
	return QueueItem{}
}

// ── Coordinator Tests ───────────────────────────────────────────────────────

func TestNewCoordinatorDefaults(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{})
	opts := c.Options()
	assert.Equal(t, 3, opts.MaxConcurrency)
	assert.Equal(t, 2, opts.RetryLimit)
	assert.Equal(t, RunIdle, c.State())

	def := DefaultBatchOptions()
	assert.Equal(t, 100*time.Millisecond, def.PollInterval)
}

func TestNewCoordinatorRejects(t *testing.T) {
	_, err := NewCoordinator(nil, BatchOptions{}, nil)
	assert.ErrorIs(t, err, ErrPrecondition)

	_, err = NewCoordinator(&stubProcessor{}, BatchOptions{MaxConcurrency: -1}, nil)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestConcurrencyCap(t *testing.T) {
	proc := &stubProcessor{delay: 20 * time.Millisecond}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 2})

	_, err := c.Add(jobs("a", "b", "c", "d", "e")...)
	require.NoError(t, err)
	waitFor(t, c)

	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	p := c.Progress()
	assert.Equal(t, 5, p.Completed)
	assert.Equal(t, 5, p.Done())
	assert.InDelta(t, 100.0, p.Percent(), 1e-9)
	assert.Equal(t, RunIdle, p.State)
	for _, it := range c.Items() {
		assert.Equal(t, ItemCompleted, it.State)
		assert.NotNil(t, it.Outcome)
		assert.False(t, it.FinishedAt.Before(it.StartedAt))
	}
}

func TestRetryLimit(t *testing.T) {
	proc := &stubProcessor{}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1, RetryLimit: 2})

	_, err := c.Add(jobs("fail-always")...)
	require.NoError(t, err)
	waitFor(t, c)

	it := itemByName(t, c, "fail-always")
	assert.Equal(t, ItemFailed, it.State)
	assert.Equal(t, 2, it.Retries)
	assert.Contains(t, it.Err, "encoder exploded")
	assert.Equal(t, int32(2), proc.calls.Load())
}

func TestDecodeErrorsAreNotRetried(t *testing.T) {
	proc := &stubProcessor{}
	c := newTestCoordinator(t, proc, BatchOptions{RetryLimit: 5})

	_, err := c.Add(jobs("corrupt")...)
	require.NoError(t, err)
	waitFor(t, c)

	assert.Equal(t, ItemFailed, itemByName(t, c, "corrupt").State)
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestPanicIsRecorded(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{RetryLimit: 1})
	_, err := c.Add(jobs("panic", "ok")...)
	require.NoError(t, err)
	waitFor(t, c)

	assert.Equal(t, ItemFailed, itemByName(t, c, "panic").State)
	assert.Contains(t, itemByName(t, c, "panic").Err, "boom")
	assert.Equal(t, ItemCompleted, itemByName(t, c, "ok").State)
}

func TestPauseOnError(t *testing.T) {
	proc := &stubProcessor{}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1, RetryLimit: 1, PauseOnError: true})

	_, err := c.Add(jobs("fail", "b", "c")...)
	require.NoError(t, err)
	waitFor(t, c)

	assert.Equal(t, RunPaused, c.State())
	p := c.Progress()
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 2, p.Pending)

	c.Resume()
	waitFor(t, c)
	p = c.Progress()
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, RunIdle, p.State)
}

func TestPauseResume(t *testing.T) {
	proc := &stubProcessor{release: make(chan struct{})}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1})

	_, err := c.Add(jobs("a", "b")...)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Progress().Processing == 1 }, time.Second, time.Millisecond)

	c.Pause()
	proc.release <- struct{}{}
	waitFor(t, c)

	p := c.Progress()
	assert.Equal(t, RunPaused, p.State)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 1, p.Pending)

	c.Resume()
	proc.release <- struct{}{}
	waitFor(t, c)
	assert.Equal(t, 2, c.Progress().Completed)
}

func TestStopDiscardsInFlight(t *testing.T) {
	proc := &stubProcessor{release: make(chan struct{})}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1})

	_, err := c.Add(jobs("a", "b", "c")...)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Progress().Processing == 1 }, time.Second, time.Millisecond)

	c.Stop()
	assert.Empty(t, c.Items())
	assert.Equal(t, RunIdle, c.State())

	close(proc.release)
	waitFor(t, c)
	assert.Empty(t, c.Items())
	assert.Equal(t, Progress{State: RunIdle}, c.Progress())
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestPrioritizeSmallFiles(t *testing.T) {
	proc := &stubProcessor{}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1, PrioritizeSmallFiles: true})

	in := []Job{
		{Name: "normal-30", Data: []byte(strings.Repeat("n", 30)), Priority: PriorityNormal},
		{Name: "high-50a", Data: []byte(strings.Repeat("h", 50)), Priority: PriorityHigh},
		{Name: "normal-10", Data: []byte(strings.Repeat("m", 10)), Priority: PriorityNormal},
		{Name: "low-1", Data: []byte("l"), Priority: PriorityLow},
		{Name: "high-50b", Data: []byte(strings.Repeat("H", 50)), Priority: PriorityHigh},
	}
	for i := range in {
		in[i].Profile = DefaultProfile()
	}
	_, err := c.Add(in...)
	require.NoError(t, err)

	var names []string
	for _, it := range c.Items() {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"high-50a", "high-50b", "normal-10", "normal-30", "low-1"}, names)

	waitFor(t, c)
	var got []string
	for _, d := range proc.processed() {
		got = append(got, d[:1])
	}
	assert.Equal(t, []string{"h", "H", "m", "n", "l"}, got)
}

func TestRetryFailedItems(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{RetryLimit: 1})
	ids, err := c.Add(jobs("fail-1", "fail-2", "ok")...)
	require.NoError(t, err)
	waitFor(t, c)
	require.Equal(t, 2, c.Progress().Failed)

	assert.Error(t, c.Retry(ids[2]), "completed items cannot be retried")
	assert.ErrorIs(t, c.Retry("missing"), ErrPrecondition)

	require.NoError(t, c.Retry(ids[0]))
	waitFor(t, c)
	assert.Equal(t, ItemFailed, itemByName(t, c, "fail-1").State)

	assert.Equal(t, 2, c.RetryFailed())
	waitFor(t, c)
	assert.Equal(t, 2, c.Progress().Failed)
}

func TestClearAndRemove(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{RetryLimit: 1})
	ids, err := c.Add(jobs("a", "fail")...)
	require.NoError(t, err)
	waitFor(t, c)

	assert.Equal(t, 2, c.Clear())
	assert.Empty(t, c.Items())
	assert.ErrorIs(t, c.Remove(ids[0]), ErrPrecondition)
}

func TestRemovePending(t *testing.T) {
	proc := &stubProcessor{release: make(chan struct{})}
	c := newTestCoordinator(t, proc, BatchOptions{MaxConcurrency: 1})
	ids, err := c.Add(jobs("a", "b")...)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.Progress().Processing == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Remove(ids[0]), ErrPrecondition, "processing items stay")
	require.NoError(t, c.Remove(ids[1]))
	_, ok := c.Item(ids[1])
	assert.False(t, ok)

	close(proc.release)
	waitFor(t, c)
	assert.Len(t, c.Items(), 1)
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestAddRejectsInvalidProfile(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{})
	_, err := c.Add(Job{Name: "x", Data: []byte("x"), Profile: Profile{Quality: 3, Mode: ModeBalanced}})
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, c.Items())
}

func TestSubscribe(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{MaxConcurrency: 2})
	updates, cancel := c.Subscribe()
	defer cancel()

	_, err := c.Add(jobs("a", "b", "c")...)
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-updates:
			if p.Completed == 3 {
				assert.Equal(t, 3, p.Total)
				return
			}
		case <-deadline:
			t.Fatal("never saw all items complete")
		}
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	c := newTestCoordinator(t, &stubProcessor{}, BatchOptions{})
	updates, cancel := c.Subscribe()
	cancel()
	cancel()
	_, ok := <-updates
	assert.False(t, ok)
}

func TestWaitHonoursContext(t *testing.T) {
	proc := &stubProcessor{release: make(chan struct{})}
	c := newTestCoordinator(t, proc, BatchOptions{})

	_, err := c.Add(jobs("slow")...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	close(proc.release)
	waitFor(t, c)
}

func TestCloseRejectsAdd(t *testing.T) {
	c, err := NewCoordinator(&stubProcessor{}, BatchOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Add(jobs("a")...)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"low": PriorityLow, "": PriorityNormal, "HIGH": PriorityHigh} {
		got, err := ParsePriority(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, want, mustParse(t, want.String()))
	}
	_, err := ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrPrecondition)
}

func mustParse(t *testing.T, s string) Priority {
	t.Helper()
	p, err := ParsePriority(s)
	require.NoError(t, err)
	return p
}
