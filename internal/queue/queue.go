// Package queue serializes record submission to the memory service with
// retry, rate-limit backoff and a durable local fallback.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/remote"
	"github.com/rcliao/memory-relay/internal/store"
)

// ErrClosed is the cause recorded for records enqueued after Close.
var ErrClosed = errors.New("queue closed")

const (
	DefaultMaxRetries   = 3
	DefaultMinInterval  = time.Second
	DefaultMaxInterval  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Writer submits one record to the memory service.
type Writer interface {
	CreateMemory(ctx context.Context, rec model.MemoryRecord) (*remote.CreateResponse, error)
}

// Options configures a Queue.
type Options struct {
	// MaxRetries is the number of failed attempts after which a record is
	// moved to the fallback store.
	MaxRetries int

	// MinInterval is the starting minimum gap between two remote writes.
	// It doubles on every rate-limit signal up to MaxInterval.
	MinInterval time.Duration
	MaxInterval time.Duration

	// WriteTimeout bounds a single remote write.
	WriteTimeout time.Duration

	Logger  *zap.Logger
	Metrics *Metrics

	// Sleep waits between requests. Tests replace it to run without delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SuccessFunc is called for every record stored remotely.
type SuccessFunc func(rec model.MemoryRecord, res model.Result)

type item struct {
	rec        model.MemoryRecord
	done       chan model.Result
	retries    int
	enqueuedAt time.Time
}

// Queue is a FIFO of records drained by a single worker goroutine, so at
// most one remote write is in flight at any time.
type Queue struct {
	writer  Writer
	pending store.PendingStore
	opts    Options
	logger  *zap.Logger
	metrics *Metrics

	// ctx bounds the worker's remote writes. It is only cancelled by Close
	// when the shutdown deadline passes.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	items       []*item
	processing  bool
	closed      bool
	inFlight    bool
	interval    time.Duration
	lastRequest time.Time
	onSuccess   []SuccessFunc
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Length   int           `json:"length"`
	InFlight bool          `json:"in_flight"`
	Interval time.Duration `json:"interval"`
}

// New creates a Queue. pending may be nil, in which case exhausted records
// are reported as failures instead of being parked.
func New(writer Writer, pending store.PendingStore, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = max(DefaultMaxInterval, opts.MinInterval)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		writer:   writer,
		pending:  pending,
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		interval: opts.MinInterval,
	}
}

// OnSuccess registers fn for records the service stored. Business
// rejections and fallback outcomes never reach it.
func (q *Queue) OnSuccess(fn SuccessFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSuccess = append(q.onSuccess, fn)
}

// Enqueue appends rec and returns immediately. The returned channel receives
// exactly one Result and is never closed.
func (q *Queue) Enqueue(rec model.MemoryRecord) <-chan model.Result {
	done := make(chan model.Result, 1)

	if err := rec.Validate(); err != nil {
		done <- model.Result{Success: false, Message: err.Error()}
		return done
	}

	it := &item{rec: rec, done: done, enqueuedAt: time.Now()}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.degrade(it, ErrClosed)
		return done
	}
	q.items = append(q.items, it)
	if !q.processing {
		q.processing = true
		q.wg.Add(1)
		go q.run()
	}
	q.mu.Unlock()

	return done
}

// Replay moves every fallback entry back into the queue in stored order.
// The fallback store is emptied at hand-off, before any remote
// acknowledgement, so a crash in between can deliver a record twice.
func (q *Queue) Replay(ctx context.Context) (int, error) {
	if q.pending == nil {
		return 0, nil
	}
	entries, err := q.pending.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain fallback store: %w", err)
	}
	for _, e := range entries {
		q.Enqueue(e.Record)
	}
	if len(entries) > 0 {
		q.logger.Info("Replaying pending records", zap.Int("count", len(entries)))
	}
	return len(entries), nil
}

// Stats returns the current queue length, whether a write is in flight and
// the current minimum interval.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Length: len(q.items), InFlight: q.inFlight, Interval: q.interval}
}

// Wait blocks until the worker has drained the queue.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close waits for queued records to finish. If ctx expires first, in-flight
// and queued writes are aborted; they fail fast through their retries and
// land in the fallback store. Records enqueued after Close go straight to
// the fallback store.
func (q *Queue) Close(ctx context.Context) error {
	// No worker is started once closed is set, so wg.Add never races the
	// Wait below.
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-idle
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		q.items = q.items[1:]
		wait := q.interval - time.Since(q.lastRequest)
		q.mu.Unlock()

		if wait > 0 {
			// Sleep only fails when Close gave up waiting; the attempt then
			// fails fast on the same cancelled context and is parked.
			_ = q.opts.Sleep(q.ctx, wait)
		}
		q.attempt(it)
	}
}

func (q *Queue) attempt(it *item) {
	q.mu.Lock()
	q.lastRequest = time.Now()
	q.inFlight = true
	q.mu.Unlock()

	ctx, cancel := context.WithTimeout(q.ctx, q.opts.WriteTimeout)
	resp, err := q.writer.CreateMemory(ctx, it.rec)
	cancel()

	q.mu.Lock()
	q.inFlight = false
	q.mu.Unlock()
	q.metrics.attempt(q.ctx)

	switch {
	case err == nil && resp.Success:
		res := model.Result{Success: true, ID: resp.ID}
		q.resolve(it, res, outcomeStored)
		q.logger.Debug("Memory stored",
			zap.String("id", resp.ID),
			zap.String("role", string(it.rec.Metadata.Role)),
			zap.Duration("latency", time.Since(it.enqueuedAt)))

		q.mu.Lock()
		hooks := append([]SuccessFunc(nil), q.onSuccess...)
		q.mu.Unlock()
		for _, fn := range hooks {
			fn(it.rec, res)
		}

	case err == nil:
		// Business rejection. Duplicates are expected after a replay.
		q.resolve(it, model.Result{Success: false, Message: resp.Message}, outcomeRejected)
		q.logger.Info("Memory rejected by service", zap.String("message", resp.Message))

	default:
		q.retry(it, err)
	}
}

func (q *Queue) retry(it *item, err error) {
	it.retries++

	// Marshal and request-building errors repeat on every attempt.
	if !remote.Retryable(err) {
		q.logger.Warn("Memory write failed permanently", zap.Error(err))
		q.degrade(it, err)
		return
	}

	q.mu.Lock()
	if errors.Is(err, remote.ErrRateLimited) {
		q.interval = min(q.interval*2, q.opts.MaxInterval)
	}
	interval := q.interval
	exhausted := it.retries >= q.opts.MaxRetries
	if !exhausted {
		q.items = append([]*item{it}, q.items...)
	}
	q.mu.Unlock()

	if !exhausted {
		q.logger.Warn("Memory write failed, retrying",
			zap.Int("attempt", it.retries),
			zap.Duration("interval", interval),
			zap.Error(err))
		return
	}

	q.degrade(it, err)
}

// degrade parks an exhausted record in the fallback store.
func (q *Queue) degrade(it *item, cause error) {
	if q.pending == nil {
		q.resolve(it, model.Result{Success: false, Message: cause.Error()}, outcomeFailed)
		q.logger.Error("Memory write failed, no fallback store", zap.Error(cause))
		return
	}

	// The fallback write must not share the write context, which may be
	// cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := q.pending.Add(ctx, it.rec); err != nil {
		q.resolve(it, model.Result{Success: false, Message: fmt.Sprintf("%v; fallback store: %v", cause, err)}, outcomeFailed)
		q.logger.Error("Memory lost: fallback store write failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}

	q.resolve(it, model.Result{Success: false, Queued: true, Message: cause.Error()}, outcomeQueued)
	q.logger.Warn("Memory parked in fallback store", zap.Int("attempts", it.retries), zap.Error(cause))
}

func (q *Queue) resolve(it *item, res model.Result, outcome string) {
	it.done <- res
	q.metrics.outcome(q.ctx, outcome)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
