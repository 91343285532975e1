package caracal

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Priority orders queue items when small-file prioritisation is enabled.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority parses "low", "normal" or "high". An empty string is normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, preconditionf("parse priority", "unknown priority %q", s)
	}
}

// ItemState is the lifecycle state of a queue item.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemProcessing ItemState = "processing"
	ItemCompleted  ItemState = "completed"
	ItemFailed     ItemState = "failed"
)

// RunState is the coordinator's dispatch state.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
	RunPaused  RunState = "paused"
)

// Job describes one image to add to the queue.
type Job struct {
	Name     string
	Data     []byte
	Profile  Profile
	Priority Priority
}

// QueueItem is a queued image and its processing record. Items returned by
// the Coordinator are snapshots; mutating them has no effect on the queue.
type QueueItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Data         []byte    `json:"-"`
	Profile      Profile   `json:"profile"`
	Priority     Priority  `json:"priority"`
	OriginalSize int64     `json:"originalSize"`
	State        ItemState `json:"state"`
	Retries      int       `json:"retries"`
	Err          string    `json:"error,omitempty"`
	Outcome      *Outcome  `json:"outcome,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// BatchOptions configures a Coordinator.
type BatchOptions struct {
	// MaxConcurrency bounds the number of items processing at once.
	MaxConcurrency int `mapstructure:"max_concurrency" json:"maxConcurrency" yaml:"max_concurrency" default:"3" validate:"min=1,max=256"`

	// RetryLimit is the number of attempts before an item is marked failed.
	// Zero takes the default.
	RetryLimit int `mapstructure:"retry_limit" json:"retryLimit" yaml:"retry_limit" default:"2" validate:"min=1"`

	// PauseOnError pauses dispatch when an item exhausts its retries.
	PauseOnError bool `mapstructure:"pause_on_error" json:"pauseOnError" yaml:"pause_on_error"`

	// PrioritizeSmallFiles orders pending items by priority, then by
	// ascending original size. Ties keep insertion order.
	PrioritizeSmallFiles bool `mapstructure:"prioritize_small_files" json:"prioritizeSmallFiles" yaml:"prioritize_small_files"`

	// PollInterval is the dispatch loop's fallback wake-up period.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"pollInterval" yaml:"poll_interval" default:"100ms" validate:"gt=0"`
}

// DefaultBatchOptions returns concurrency 3, two attempts and a 100ms poll.
func DefaultBatchOptions() BatchOptions {
	var o BatchOptions
	_ = defaults.Set(&o)
	return o
}

// Progress is a snapshot of the queue, taken after a transition.
type Progress struct {
	State      RunState `json:"state"`
	Total      int      `json:"total"`
	Pending    int      `json:"pending"`
	Processing int      `json:"processing"`
	Completed  int      `json:"completed"`
	Failed     int      `json:"failed"`

	// OriginalBytes and CompressedBytes sum over completed items.
	OriginalBytes   int64 `json:"originalBytes"`
	CompressedBytes int64 `json:"compressedBytes"`

	// LastItem is the ID of the item whose transition produced the
	// snapshot, empty for run-state changes.
	LastItem string `json:"lastItem,omitempty"`
}

// Done is the number of items in a terminal state.
func (p Progress) Done() int { return p.Completed + p.Failed }

// Percent is the finished share of the queue, 0–100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done()) / float64(p.Total) * 100
}

// Processor runs the full single-image workflow. *Compressor implements it.
type Processor interface {
	Process(ctx context.Context, data []byte, p Profile) (*Outcome, error)
}

// Coordinator drives a queue of images through a Processor with a
// concurrency cap, retries and pause/resume. Construct one per queue
// with NewCoordinator and release it with Close.
type Coordinator struct {
	proc   Processor
	opts   BatchOptions
	logger *zap.Logger
	pool   *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	quit   chan struct{}
	exited chan struct{}

	mu       sync.Mutex
	items    []*QueueItem
	state    RunState
	inFlight int
	gen      uint64
	closed   bool
	changed  chan struct{}
	subs     map[int]chan Progress
	nextSub  int
}

// NewCoordinator validates opts, starts the dispatch loop and returns an
// idle coordinator. A nil logger disables logging.
func NewCoordinator(proc Processor, opts BatchOptions, logger *zap.Logger) (*Coordinator, error) {
	if proc == nil {
		return nil, preconditionf("new coordinator", "nil processor")
	}
	if err := defaults.Set(&opts); err != nil {
		return nil, errors.Wrap(err, "batch defaults")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, opError("new coordinator", ErrPrecondition, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("batch")

	pool, err := ants.NewPool(opts.MaxConcurrency,
		ants.WithPreAlloc(true),
		ants.WithLogger(antsLogger{logger.Sugar()}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		proc:    proc,
		opts:    opts,
		logger:  logger,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		state:   RunIdle,
		changed: make(chan struct{}),
		subs:    make(map[int]chan Progress),
	}
	go c.loop()
	return c, nil
}

// Options returns the effective options after defaults.
func (c *Coordinator) Options() BatchOptions { return c.opts }

// Add queues jobs and returns their IDs in order. An idle coordinator
// starts running.
func (c *Coordinator) Add(jobs ...Job) ([]string, error) {
	for i, j := range jobs {
		if err := j.Profile.Validate(); err != nil {
			return nil, errors.Wrapf(err, "job %d (%s)", i, j.Name)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, preconditionf("add", "coordinator closed")
	}
	now := time.Now()
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		item := &QueueItem{
			ID:           uuid.NewString(),
			Name:         j.Name,
			Data:         j.Data,
			Profile:      j.Profile,
			Priority:     j.Priority,
			OriginalSize: int64(len(j.Data)),
			State:        ItemPending,
			CreatedAt:    now,
		}
		c.items = append(c.items, item)
		ids[i] = item.ID
	}
	if c.opts.PrioritizeSmallFiles {
		slices.SortStableFunc(c.items, func(a, b *QueueItem) int {
			if a.Priority != b.Priority {
				return cmp.Compare(b.Priority, a.Priority)
			}
			return cmp.Compare(a.OriginalSize, b.OriginalSize)
		})
	}
	if c.state == RunIdle && len(jobs) > 0 {
		c.state = RunRunning
	}
	c.publishLocked("")
	c.mu.Unlock()

	c.logger.Debug("queued", zap.Int("jobs", len(jobs)))
	c.signal()
	return ids, nil
}

// Start begins dispatching. It is a no-op unless the coordinator is idle.
func (c *Coordinator) Start() {
	c.transition(RunIdle, RunRunning)
}

// Pause stops dispatching new items. In-flight items finish.
func (c *Coordinator) Pause() {
	c.transition(RunRunning, RunPaused)
}

// Resume continues dispatching after Pause or a pause on error.
func (c *Coordinator) Resume() {
	c.transition(RunPaused, RunRunning)
}

func (c *Coordinator) transition(from, to RunState) {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.logger.Info("state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	c.publishLocked("")
	c.mu.Unlock()
	c.signal()
}

// Stop clears the queue and returns to idle. Items already processing run
// to completion but their results are discarded.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.gen++
	dropped := len(c.items)
	c.items = nil
	c.state = RunIdle
	c.publishLocked("")
	c.mu.Unlock()
	c.logger.Info("stopped", zap.Int("dropped", dropped))
}

// Retry returns a failed item to pending with its retry count reset.
func (c *Coordinator) Retry(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.findLocked(id)
	if item == nil {
		return preconditionf("retry", "no item %s", id)
	}
	if item.State != ItemFailed {
		return preconditionf("retry", "item %s is %s", id, item.State)
	}
	c.requeueLocked(item)
	c.publishLocked(id)
	c.signal()
	return nil
}

// RetryFailed requeues every failed item and returns how many it requeued.
func (c *Coordinator) RetryFailed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, item := range c.items {
		if item.State == ItemFailed {
			c.requeueLocked(item)
			n++
		}
	}
	if n > 0 {
		c.publishLocked("")
		c.signal()
	}
	return n
}

func (c *Coordinator) requeueLocked(item *QueueItem) {
	item.State = ItemPending
	item.Retries = 0
	item.Err = ""
	item.StartedAt = time.Time{}
	item.FinishedAt = time.Time{}
	if c.state == RunIdle {
		c.state = RunRunning
	}
}

// Clear removes completed and failed items and returns how many it removed.
func (c *Coordinator) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.items)
	c.items = slices.DeleteFunc(c.items, func(it *QueueItem) bool {
		return it.State == ItemCompleted || it.State == ItemFailed
	})
	removed := before - len(c.items)
	if removed > 0 {
		c.publishLocked("")
	}
	return removed
}

// Remove deletes an item that is not processing.
func (c *Coordinator) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.findLocked(id)
	if item == nil {
		return preconditionf("remove", "no item %s", id)
	}
	if item.State == ItemProcessing {
		return preconditionf("remove", "item %s is processing", id)
	}
	c.items = slices.DeleteFunc(c.items, func(it *QueueItem) bool { return it.ID == id })
	c.settleLocked()
	c.publishLocked(id)
	return nil
}

// Item returns a snapshot of one item.
func (c *Coordinator) Item(id string) (QueueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.findLocked(id); item != nil {
		return *item, true
	}
	return QueueItem{}, false
}

// Items returns snapshots of all items in queue order.
func (c *Coordinator) Items() []QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueueItem, len(c.items))
	for i, item := range c.items {
		out[i] = *item
	}
	return out
}

// State returns the current run state.
func (c *Coordinator) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the current snapshot.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked("")
}

// Subscribe returns a channel that receives a snapshot after every
// transition, and a function that unsubscribes and closes it. Slow
// readers miss intermediate snapshots but always see the latest one.
func (c *Coordinator) Subscribe() (<-chan Progress, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Progress, 16)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Wait blocks until the coordinator is not running and no item is in
// flight, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		settled := c.state != RunRunning && c.inFlight == 0
		changed := c.changed
		c.mu.Unlock()
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// closeTimeout bounds how long Close waits for in-flight items.
const closeTimeout = 10 * time.Second

// Close stops the dispatch loop, waits up to closeTimeout for in-flight
// items, releases the worker pool and closes all subscriptions. The queue
// is left as is for inspection.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.state == RunRunning {
		c.state = RunPaused
	}
	c.publishLocked("")
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	close(c.quit)
	<-c.exited
	c.cancel()
	if err := c.pool.ReleaseTimeout(closeTimeout); err != nil {
		return errors.Wrap(err, "release worker pool")
	}
	return nil
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop() {
	defer close(c.exited)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		c.dispatch()
		select {
		case <-c.quit:
			return
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

type dispatched struct {
	item    *QueueItem
	data    []byte
	profile Profile
	gen     uint64
}

// dispatch moves pending items to processing until the cap is reached and
// hands them to the pool.
func (c *Coordinator) dispatch() {
	var batch []dispatched

	c.mu.Lock()
	if c.state == RunRunning && !c.closed {
		for _, item := range c.items {
			if c.inFlight >= c.opts.MaxConcurrency {
				break
			}
			if item.State != ItemPending {
				continue
			}
			item.State = ItemProcessing
			item.StartedAt = time.Now()
			c.inFlight++
			batch = append(batch, dispatched{item: item, data: item.Data, profile: item.Profile, gen: c.gen})
			c.publishLocked(item.ID)
		}
		c.settleLocked()
	}
	c.mu.Unlock()

	for _, d := range batch {
		if err := c.pool.Submit(func() { c.run(d) }); err != nil {
			c.logger.Error("submit failed", zap.String("item", d.item.ID), zap.Error(err))
			c.finish(d, nil, errors.Wrap(err, "submit"))
		}
	}
}

func (c *Coordinator) run(d dispatched) {
	out, err := c.process(d)
	c.finish(d, out, err)
}

func (c *Coordinator) process(d dispatched) (out *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return c.proc.Process(c.ctx, d.data, d.profile)
}

func (c *Coordinator) finish(d dispatched, out *Outcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	item := d.item
	if d.gen != c.gen {
		c.logger.Debug("discarded result after stop", zap.String("item", item.ID))
		c.publishLocked("")
		return
	}

	switch {
	case err == nil:
		item.State = ItemCompleted
		item.Outcome = out
		item.Err = ""
		item.FinishedAt = time.Now()
		fields := []zap.Field{zap.String("item", item.ID), zap.String("name", item.Name)}
		if out != nil && out.Report != nil {
			fields = append(fields,
				zap.Int("score", out.Report.OverallQuality),
				zap.Float64("ratio", out.Report.CompressionRatio))
		}
		c.logger.Info("completed", fields...)
	default:
		item.Retries++
		item.Err = err.Error()
		if retryable(err) && item.Retries < c.opts.RetryLimit {
			item.State = ItemPending
			c.logger.Warn("retrying", zap.String("item", item.ID), zap.Int("retries", item.Retries), zap.Error(err))
			break
		}
		item.State = ItemFailed
		item.FinishedAt = time.Now()
		c.logger.Error("failed", zap.String("item", item.ID), zap.String("name", item.Name), zap.Int("retries", item.Retries), zap.Error(err))
		if c.opts.PauseOnError && c.state == RunRunning {
			c.state = RunPaused
			c.logger.Info("paused on error", zap.String("item", item.ID))
		}
	}

	c.settleLocked()
	c.publishLocked(item.ID)
	c.signal()
}

// retryable reports whether another attempt could succeed. Corrupt input
// and invalid parameters fail the same way every time.
func retryable(err error) bool {
	return !errors.Is(err, ErrDecode) && !errors.Is(err, ErrPrecondition)
}

// settleLocked returns a running coordinator to idle once nothing is
// pending or in flight.
func (c *Coordinator) settleLocked() {
	if c.state != RunRunning || c.inFlight > 0 {
		return
	}
	for _, item := range c.items {
		if item.State == ItemPending {
			return
		}
	}
	c.state = RunIdle
}

func (c *Coordinator) findLocked(id string) *QueueItem {
	for _, item := range c.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (c *Coordinator) progressLocked(last string) Progress {
	p := Progress{State: c.state, Total: len(c.items), LastItem: last}
	for _, item := range c.items {
		switch item.State {
		case ItemPending:
			p.Pending++
		case ItemProcessing:
			p.Processing++
		case ItemCompleted:
			p.Completed++
			if item.Outcome != nil && item.Outcome.Result != nil {
				p.OriginalBytes += item.Outcome.Result.OriginalSize
				p.CompressedBytes += item.Outcome.Result.Size
			}
		case ItemFailed:
			p.Failed++
		}
	}
	return p
}

// publishLocked wakes waiters and pushes a snapshot to subscribers,
// replacing the oldest buffered snapshot when a subscriber lags.
func (c *Coordinator) publishLocked(last string) {
	close(c.changed)
	c.changed = make(chan struct{})

	if len(c.subs) == 0 {
		return
	}
	p := c.progressLocked(last)
	for _, ch := range c.subs {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// antsLogger routes pool diagnostics to zap.
type antsLogger struct{ s *zap.SugaredLogger }

func (l antsLogger) Printf(format string, args ...any) {
	l.s.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
