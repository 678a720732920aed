// Package task is a minimal in-memory dispatcher with per-group serialized
// execution, idempotency-key dedupe and retry with exponential backoff. The
// panel feature uses it to run reconciliation ticks and download
// notifications off the gateway goroutine.
package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/small-frappuccino/productdock/pkg/log"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload any) error

// Options configures dispatch and execution of a task.
type Options struct {
	// GroupKey serializes execution for tasks sharing the same group. Panel
	// work groups by (channel, panel) key so a slow edit never interleaves
	// with its own retry. Empty means the global group.
	GroupKey string

	// IdempotencyKey drops tasks enqueued again within IdempotencyTTL.
	// Periodic refresh ticks use it so a slow pass swallows the next tick
	// instead of queueing it.
	IdempotencyKey string

	// MaxAttempts caps handler retries. 0 uses Config.DefaultMaxAttempts.
	MaxAttempts int

	// InitialBackoff seeds the retry backoff. 0 uses Config.InitialBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. 0 uses Config.MaxBackoff.
	MaxBackoff time.Duration

	// IdempotencyTTL bounds the dedupe window. 0 uses Config.IdempotencyTTL.
	IdempotencyTTL time.Duration
}

// Task is one unit of work.
type Task struct {
	Type    string
	Payload any
	Options Options
}

// Config tunes the router.
type Config struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration

	// GroupBuffer is the channel size for each group worker.
	GroupBuffer int

	// GroupIdleTTL stops a group worker that has been idle this long.
	GroupIdleTTL time.Duration

	// TickInterval is how often cleanup runs and periodic jobs are checked.
	// It bounds the resolution of ScheduleEvery.
	TickInterval time.Duration
}

// Defaults returns the default router configuration.
func Defaults() Config {
	return Config{
		DefaultMaxAttempts: 3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        64,
		GroupIdleTTL:       2 * time.Minute,
		TickInterval:       15 * time.Second,
	}
}

// Errors returned by the router.
var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
)

const globalGroup = "_global"

// Router dispatches tasks to per-group workers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	groups   map[string]*groupWorker
	inflight map[string]time.Time // idempotencyKey -> expiry
	closed   bool
	cfg      Config
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	randMu sync.Mutex

	cronMu   sync.Mutex
	cronJobs []*cronJob
}

type groupWorker struct {
	key        string
	ch         chan *enqueuedTask
	lastActive time.Time
	stopping   bool
}

type enqueuedTask struct {
	task    Task
	attempt int
}

type cronJob struct {
	interval time.Duration
	task     Task
	lastRun  time.Time
	stopped  bool
}

// NewRouter creates a router; zero config fields take defaults.
func NewRouter(cfg Config) *Router {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}

	r := &Router{
		handlers: make(map[string]Handler),
		groups:   make(map[string]*groupWorker),
		inflight: make(map[string]time.Time),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.backgroundLoop()
	return r
}

// RegisterHandler registers the handler for a task type.
func (r *Router) RegisterHandler(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

// Dispatch enqueues a task. Returns ErrUnknownTaskType when no handler is
// registered and ErrDuplicateTask when the idempotency key is still live.
func (r *Router) Dispatch(ctx context.Context, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	handler, ok := r.handlers[t.Type]
	if !ok || handler == nil {
		return ErrUnknownTaskType
	}

	eff := r.effectiveOptions(t.Options)
	if eff.IdempotencyKey != "" {
		if expiry, exists := r.inflight[eff.IdempotencyKey]; exists && time.Now().Before(expiry) {
			return ErrDuplicateTask
		}
		r.inflight[eff.IdempotencyKey] = time.Now().Add(eff.IdempotencyTTL)
	}

	groupKey := eff.GroupKey
	if groupKey == "" {
		groupKey = globalGroup
	}
	gw := r.ensureGroupLocked(groupKey)

	enq := &enqueuedTask{task: t, attempt: 1}
	select {
	case gw.ch <- enq:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleEvery dispatches the task at the given interval, checked at
// TickInterval resolution. Returns a cancel function.
func (r *Router) ScheduleEvery(interval time.Duration, t Task) func() {
	job := &cronJob{interval: interval, task: t}
	r.cronMu.Lock()
	r.cronJobs = append(r.cronJobs, job)
	r.cronMu.Unlock()

	return func() {
		r.cronMu.Lock()
		job.stopped = true
		r.cronMu.Unlock()
	}
}

// Close stops the router and waits for workers. Enqueued tasks not yet
// picked up may be dropped.
func (r *Router) Close() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, gw := range r.groups {
			if gw != nil && !gw.stopping {
				gw.stopping = true
				close(gw.ch)
			}
		}
		r.mu.Unlock()
		close(r.stopCh)
		r.wg.Wait()
	})
}

// Stats is a debugging snapshot.
type Stats struct {
	GroupsCount     int
	InflightCount   int
	RouterClosed    bool
	RegisteredTypes int
}

func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		GroupsCount:     len(r.groups),
		InflightCount:   len(r.inflight),
		RouterClosed:    r.closed,
		RegisteredTypes: len(r.handlers),
	}
}

func (r *Router) effectiveOptions(opt Options) Options {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = r.cfg.DefaultMaxAttempts
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = r.cfg.InitialBackoff
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = r.cfg.MaxBackoff
	}
	if opt.IdempotencyTTL <= 0 {
		opt.IdempotencyTTL = r.cfg.IdempotencyTTL
	}
	return opt
}

func (r *Router) ensureGroupLocked(key string) *groupWorker {
	if gw, ok := r.groups[key]; ok && gw != nil {
		return gw
	}
	gw := &groupWorker{
		key:        key,
		ch:         make(chan *enqueuedTask, r.cfg.GroupBuffer),
		lastActive: time.Now(),
	}
	r.groups[key] = gw
	r.wg.Add(1)
	go r.groupLoop(gw)
	return gw
}

func (r *Router) groupLoop(gw *groupWorker) {
	defer r.wg.Done()

	for enq := range gw.ch {
		gw.lastActive = time.Now()

		r.mu.RLock()
		handler := r.handlers[enq.task.Type]
		eff := r.effectiveOptions(enq.task.Options)
		r.mu.RUnlock()

		if handler == nil {
			log.ApplicationLogger().Warn("Task dropped (handler not registered)",
				"type", enq.task.Type, "group", gw.key)
			continue
		}

		err := handler(context.Background(), enq.task.Payload)
		if err == nil {
			continue
		}

		if enq.attempt >= eff.MaxAttempts {
			log.ErrorLoggerRaw().Error("Task failed; max attempts reached",
				"type", enq.task.Type, "group", gw.key, "attempts", enq.attempt, "err", err)
			continue
		}

		delay := r.computeBackoff(eff.InitialBackoff, eff.MaxBackoff, enq.attempt)
		attempt := enq.attempt + 1
		log.ApplicationLogger().Warn("Task failed, scheduling retry",
			"type", enq.task.Type,
			"group", gw.key,
			"attempt", attempt,
			"max_attempts", eff.MaxAttempts,
			"backoff", delay.String(),
			"err", err,
		)

		r.wg.Add(1)
		go func(et *enqueuedTask, d time.Duration) {
			defer r.wg.Done()
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				et.attempt = attempt
				r.mu.RLock()
				g := r.groups[gw.key]
				r.mu.RUnlock()
				if g == nil {
					return
				}
				select {
				case g.ch <- et:
				case <-r.stopCh:
				}
			case <-r.stopCh:
			}
		}(enq, delay)
	}
}

func (r *Router) computeBackoff(initial, max time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > max {
			backoff = max
			break
		}
	}
	// 10% jitter
	return clampDuration(backoff+r.jitter(backoff, 0.1), initial, max)
}

func (r *Router) jitter(d time.Duration, ratio float64) time.Duration {
	delta := int64(float64(d) * ratio)
	if delta <= 0 {
		return 0
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return time.Duration(rand.Int63n(2*delta+1) - delta)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(min(v, hi), lo)
}

func (r *Router) backgroundLoop() {
	defer r.wg.Done()
	t := time.NewTicker(r.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.cleanupOnce()
			r.runCronOnce()
		}
	}
}

func (r *Router) cleanupOnce() {
	now := time.Now()

	r.mu.Lock()
	for k, expiry := range r.inflight {
		if now.After(expiry) {
			delete(r.inflight, k)
		}
	}
	for key, gw := range r.groups {
		if gw == nil || gw.stopping {
			continue
		}
		if now.Sub(gw.lastActive) >= r.cfg.GroupIdleTTL && len(gw.ch) == 0 {
			gw.stopping = true
			close(gw.ch)
			delete(r.groups, key)
		}
	}
	r.mu.Unlock()
}

func (r *Router) runCronOnce() {
	now := time.Now()
	r.cronMu.Lock()
	defer r.cronMu.Unlock()
	for _, job := range r.cronJobs {
		if job == nil || job.stopped {
			continue
		}
		if job.lastRun.IsZero() || now.Sub(job.lastRun) >= job.interval {
			if err := r.Dispatch(context.Background(), job.task); err != nil && !errors.Is(err, ErrDuplicateTask) {
				log.ApplicationLogger().Warn("Periodic task dispatch failed",
					"type", job.task.Type, "err", err)
			}
			job.lastRun = now
		}
	}
}
