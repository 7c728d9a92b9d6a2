package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	DefaultMaxConcurrent = 5
	DefaultCleanupDelay  = 100 * time.Millisecond
	DefaultQueueTimeout  = 30 * time.Second
	DefaultResetInterval = 5 * time.Minute
)

var (
	// ErrQueueTimeout is returned to callers whose check waited in the queue
	// longer than QueueTimeout and was discarded without running.
	ErrQueueTimeout = errors.New("cancelled: queue timeout")

	// ErrQueueCleared is returned to callers whose queued check was dropped by a reset.
	ErrQueueCleared = errors.New("cancelled: scheduler reset")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the bookkeeping record of an admitted check.
type Task struct {
	Key       string
	URL       string
	RequestID string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	Success   bool
	Error     string

	generation uint64
}

// CheckFunc is a unit of work run under the concurrency bound.
type CheckFunc[T any] func(ctx context.Context) (T, error)

type Options struct {
	MaxConcurrent int
	CleanupDelay  time.Duration
	QueueTimeout  time.Duration
	ResetInterval time.Duration
	Logger        *slog.Logger

	// Now overrides the wall clock used for queue ages and stats windows.
	Now func() time.Time
}

type result[T any] struct {
	value T
	err   error
}

type queueEntry[T any] struct {
	ctx       context.Context
	url       string
	requestID string
	addedTime time.Time
	check     CheckFunc[T]
	done      chan result[T]
}

// Controller bounds the number of checks in flight and queues the rest.
type Controller[T any] struct {
	mutex      sync.Mutex
	opts       Options
	logger     *slog.Logger
	active     map[string]*Task
	queue      []*queueEntry[T]
	occupied   int
	generation uint64
	seq        uint64
	stats      Stats
}

// New creates a Controller. Zero-valued options fall back to the package defaults.
func New[T any](opts Options) *Controller[T] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = DefaultCleanupDelay
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = DefaultQueueTimeout
	}
	if opts.ResetInterval <= 0 {
		opts.ResetInterval = DefaultResetInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	now := opts.Now()

	return &Controller[T]{
		opts:   opts,
		logger: logger,
		active: make(map[string]*Task),
		stats: Stats{
			LastReset:     now,
			LastResetTime: now.UnixMilli(),
		},
	}
}

// ScheduleCheck runs check immediately when a slot is free, otherwise queues it
// and blocks until it has run, been discarded, or ctx is done. The check's own
// result and error are returned unchanged.
func (c *Controller[T]) ScheduleCheck(ctx context.Context, url, requestID string, check CheckFunc[T]) (T, error) {
	c.mutex.Lock()

	now := c.opts.Now()
	if now.Sub(c.stats.LastReset) > c.opts.ResetInterval {
		c.logger.Debug("Resetting scheduler stats",
			slog.Int64("total_started", c.stats.TotalStarted),
			slog.Int64("total_completed", c.stats.TotalCompleted))
		c.resetLocked(now)
	}

	if c.occupied < c.opts.MaxConcurrent {
		task := c.admitLocked(url, requestID, now)
		c.mutex.Unlock()

		return c.execute(ctx, task, check)
	}

	entry := &queueEntry[T]{
		ctx:       ctx,
		url:       url,
		requestID: requestID,
		addedTime: now,
		check:     check,
		done:      make(chan result[T], 1),
	}
	c.queue = append(c.queue, entry)
	queued := len(c.queue)
	c.mutex.Unlock()

	c.logger.Debug("Check queued",
		slog.String("url", url),
		slog.String("request_id", requestID),
		slog.Int("queued", queued))

	select {
	case res := <-entry.done:
		return res.value, res.err
	case <-ctx.Done():
		c.mutex.Lock()
		c.queue = slices.DeleteFunc(c.queue, func(e *queueEntry[T]) bool { return e == entry })
		c.mutex.Unlock()

		var zero T
		return zero, ctx.Err()
	}
}

// Reset clears the active set, the queue and all counters.
// Checks already running are not cancelled; their completions are ignored.
func (c *Controller[T]) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.resetLocked(c.opts.Now())
}

func (c *Controller[T]) resetLocked(now time.Time) {
	c.generation++

	for _, entry := range c.queue {
		entry.done <- result[T]{err: ErrQueueCleared}
	}
	c.queue = nil
	c.active = make(map[string]*Task)
	c.stats = Stats{
		LastReset:     now,
		LastResetTime: now.UnixMilli(),
	}
}

func (c *Controller[T]) admitLocked(url, requestID string, now time.Time) *Task {
	c.occupied++
	c.seq++

	task := &Task{
		Key:        fmt.Sprintf("%s-%d-%d", url, now.UnixMilli(), c.seq),
		URL:        url,
		RequestID:  requestID,
		StartTime:  now,
		Status:     StatusRunning,
		generation: c.generation,
	}

	c.active[task.Key] = task
	c.stats.TotalStarted++
	if occupied := int64(c.occupied); occupied > c.stats.MaxActive {
		c.stats.MaxActive = occupied
	}

	return task
}

func (c *Controller[T]) execute(ctx context.Context, task *Task, check CheckFunc[T]) (T, error) {
	value, err := check(ctx)
	c.settle(task, err)

	return value, err
}

func (c *Controller[T]) settle(task *Task, err error) {
	c.mutex.Lock()

	task.EndTime = c.opts.Now()
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
	} else {
		task.Status = StatusCompleted
		task.Success = true
	}

	// A task admitted before the last reset only gives back its slot.
	if task.generation == c.generation {
		c.stats.TotalCompleted++
		if err != nil {
			c.stats.Errors++
		} else {
			c.stats.Successes++
		}
	}

	c.mutex.Unlock()

	if err != nil {
		c.logger.Debug("Check failed",
			slog.String("url", task.URL),
			slog.String("request_id", task.RequestID),
			slog.String("error", err.Error()))
	}

	time.AfterFunc(c.opts.CleanupDelay, func() {
		c.release(task)
	})
}

func (c *Controller[T]) release(task *Task) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.occupied--
	if task.generation == c.generation {
		delete(c.active, task.Key)
	}

	c.drainLocked(c.opts.Now())
}

func (c *Controller[T]) drainLocked(now time.Time) {
	c.queue = slices.DeleteFunc(c.queue, func(entry *queueEntry[T]) bool {
		if now.Sub(entry.addedTime) <= c.opts.QueueTimeout {
			return false
		}

		c.logger.Warn("Discarding stale queued check",
			slog.String("url", entry.url),
			slog.String("request_id", entry.requestID),
			slog.Duration("age", now.Sub(entry.addedTime)))
		entry.done <- result[T]{err: ErrQueueTimeout}

		return true
	})

	for c.occupied < c.opts.MaxConcurrent && len(c.queue) > 0 {
		entry := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]

		// The caller already gave up and returned.
		if entry.ctx.Err() != nil {
			continue
		}

		task := c.admitLocked(entry.url, entry.requestID, now)
		go func() {
			value, err := c.execute(entry.ctx, task, entry.check)
			entry.done <- result[T]{value: value, err: err}
		}()
	}
}
