package audit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/zhenzou/executors"
	"go.uber.org/multierr"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/log"
	"github.com/rowguard/rowguard/internal/xcontext"
)

// asyncQueueDepth is how many pending async deliveries queue before the
// pool rejects and the event is dropped through the error hook.
const asyncQueueDepth = 1024

// Mode selects how events reach the adapter.
type Mode string

const (
	// ModeSync delivers on the caller's goroutine; the caller waits.
	ModeSync Mode = "sync"
	// ModeAsync delivers fire-and-forget through a bounded worker pool on
	// a detached context.
	ModeAsync Mode = "async"
	// ModeBuffered batches events in memory and flushes on size or timer.
	ModeBuffered Mode = "buffered"
)

// TableRule overrides which decision types are logged for one table, and may
// veto individual events.
type TableRule struct {
	LogAllow  *bool
	LogDeny   *bool
	LogFilter *bool
	// Predicate may veto an already-built event. Nil accepts everything.
	Predicate func(*Event) bool
}

// Config controls the logger. Zero value is unusable; start from
// DefaultConfig.
type Config struct {
	// SampleRate is the probability an event is recorded at all, gated
	// before any other check. Nil defaults to 1, recording every
	// decision; an explicit 0 disables auditing entirely.
	SampleRate *float64 `conf:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	// Mode is sync, async or buffered.
	Mode Mode `conf:"mode" yaml:"mode" json:"mode"`
	// BufferSize triggers a flush when the buffer reaches it. Buffered
	// mode only.
	BufferSize int `conf:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
	// FlushInterval fires periodic flushes. Buffered mode only.
	FlushInterval time.Duration `conf:"flush_interval" yaml:"flush_interval" json:"flush_interval"`
	// AsyncTimeout bounds a detached async delivery.
	AsyncTimeout time.Duration `conf:"async_timeout" yaml:"async_timeout" json:"async_timeout"`
	// AsyncWorkers caps concurrent async deliveries. Async mode only.
	AsyncWorkers int `conf:"async_workers" yaml:"async_workers" json:"async_workers"`

	// Global defaults for which decision types are logged; TableRule
	// overrides per table.
	LogAllow  bool `conf:"log_allow" yaml:"log_allow" json:"log_allow"`
	LogDeny   bool `conf:"log_deny" yaml:"log_deny" json:"log_deny"`
	LogFilter bool `conf:"log_filter" yaml:"log_filter" json:"log_filter"`

	// IncludeContext whitelists context snapshot keys; empty keeps all.
	IncludeContext []string `conf:"include_context" yaml:"include_context" json:"include_context"`
	// ExcludeContext redacts context snapshot keys, applied after the
	// include list.
	ExcludeContext []string `conf:"exclude_context" yaml:"exclude_context" json:"exclude_context"`

	// DedupWindow suppresses repeated identical deny events; it is the
	// size of the LRU window. 0 disables deduplication.
	DedupWindow int `conf:"dedup_window" yaml:"dedup_window" json:"dedup_window"`
}

// DefaultConfig records every decision type synchronously.
func DefaultConfig() Config {
	return Config{
		SampleRate:    lo.ToPtr(1.0),
		Mode:          ModeSync,
		BufferSize:    100,
		FlushInterval: 5 * time.Second,
		AsyncTimeout:  5 * time.Second,
		AsyncWorkers:  4,
		LogAllow:      true,
		LogDeny:       true,
		LogFilter:     true,
	}
}

// Option configures the logger.
type Option func(*Logger)

// WithTableRule installs a per-table override.
func WithTableRule(table string, rule TableRule) Option {
	return func(l *Logger) {
		l.tableRules[table] = rule
	}
}

// WithOnError installs the hook invoked with dropped events after a failed
// delivery. Without it failures are logged and the events still dropped.
func WithOnError(fn func(err error, dropped []*Event)) Option {
	return func(l *Logger) {
		l.onError = fn
	}
}

// Logger applies sampling, gating, redaction and deduplication, then
// delivers events per the configured mode. Safe for concurrent use; the
// in-memory buffer is the only shared mutable state and both the append path
// and the flush paths drain it through a single swap-and-clear under the
// mutex, so concurrent append-and-flush neither double-delivers nor drops.
type Logger struct {
	cfg        Config
	adapter    Adapter
	tableRules map[string]TableRule
	onError    func(error, []*Event)

	mu     sync.Mutex
	buffer []*Event

	executor    executors.ScheduledExecutor
	cancelFlush context.CancelFunc

	dedup *lru.Cache[string, struct{}]
}

// New builds a logger over the adapter. Buffered mode starts the flush timer
// immediately; Close stops it.
func New(cfg Config, adapter Adapter, opts ...Option) (*Logger, error) {
	if adapter == nil {
		return nil, fmt.Errorf("audit: adapter is required")
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}

	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = 5 * time.Second
	}

	if cfg.AsyncWorkers <= 0 {
		cfg.AsyncWorkers = 4
	}

	if cfg.SampleRate == nil {
		cfg.SampleRate = lo.ToPtr(1.0)
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeSync
	}

	l := &Logger{
		cfg:        cfg,
		adapter:    adapter,
		tableRules: map[string]TableRule{},
	}

	for _, opt := range opts {
		opt(l)
	}

	if cfg.DedupWindow > 0 {
		cache, err := lru.New[string, struct{}](cfg.DedupWindow)
		if err != nil {
			return nil, err
		}

		l.dedup = cache
	}

	switch cfg.Mode {
	case ModeAsync:
		l.executor = executors.NewPoolScheduleExecutor(
			executors.WithMaxConcurrent(cfg.AsyncWorkers),
			executors.WithMaxBlockingTasks(asyncQueueDepth),
			executors.WithLogger(log.GetGlobalLogger().AsSlog()),
		)
	case ModeBuffered:
		l.executor = executors.NewPoolScheduleExecutor(
			executors.WithMaxConcurrent(1),
			executors.WithLogger(log.GetGlobalLogger().AsSlog()),
		)

		cancel, err := l.executor.ScheduleFuncAtFixRate(func(ctx context.Context) {
			if err := l.Flush(ctx); err != nil {
				log.Warn(ctx, "audit: periodic flush failed", log.Cause(err))
			}
		}, cfg.FlushInterval)
		if err != nil {
			return nil, err
		}

		l.cancelFlush = cancel
	}

	return l, nil
}

// LogDecision builds an event for the decision and runs it through, in
// order: the sample gate, the decision-type gate, the per-table predicate,
// redaction and deduplication, then delivers it per the configured mode.
// A nil logger ignores the call, so decision points carry it optionally.
func (l *Logger) LogDecision(ctx context.Context, op rowguard.Operation, table string, decision Decision, opts ...EventOption) {
	if l == nil {
		return
	}

	rate := *l.cfg.SampleRate
	if rate <= 0 {
		return
	}

	if rate < 1 && rand.Float64() >= rate {
		return
	}

	if !l.decisionLogged(table, decision) {
		return
	}

	event := l.buildEvent(ctx, op, table, decision, opts)

	if rule, ok := l.tableRules[table]; ok && rule.Predicate != nil && !rule.Predicate(event) {
		return
	}

	l.redact(event)

	if l.suppressed(event) {
		return
	}

	switch l.cfg.Mode {
	case ModeAsync:
		l.dispatchAsync(ctx, event)
	case ModeBuffered:
		l.append(ctx, event)
	default:
		l.deliver(ctx, []*Event{event})
	}
}

func (l *Logger) decisionLogged(table string, decision Decision) bool {
	logAllow, logDeny, logFilter := l.cfg.LogAllow, l.cfg.LogDeny, l.cfg.LogFilter

	if rule, ok := l.tableRules[table]; ok {
		logAllow = lo.FromPtrOr(rule.LogAllow, logAllow)
		logDeny = lo.FromPtrOr(rule.LogDeny, logDeny)
		logFilter = lo.FromPtrOr(rule.LogFilter, logFilter)
	}

	switch decision {
	case DecisionAllow:
		return logAllow
	case DecisionDeny:
		return logDeny
	case DecisionFilter:
		return logFilter
	default:
		return false
	}
}

func (l *Logger) buildEvent(ctx context.Context, op rowguard.Operation, table string, decision Decision, opts []EventOption) *Event {
	event := &Event{
		Timestamp: time.Now(),
		Operation: op,
		Table:     table,
		Decision:  decision,
	}

	if rc, ok := rowguard.FromContext(ctx); ok {
		if rc.Auth != nil {
			event.UserID = rc.Auth.UserID
			if rc.Auth.TenantID != nil {
				event.TenantID = *rc.Auth.TenantID
			}

			event.Context = map[string]any{
				"roles":            rc.Auth.Roles,
				"organization_ids": rc.Auth.OrganizationIDs,
				"permissions":      rc.Auth.Permissions,
				"attributes":       rc.Auth.Attributes,
			}
			if rc.Meta != nil {
				event.Context["meta"] = rc.Meta
			}
		}

		if rc.Request != nil {
			event.RequestID = rc.Request.RequestID
			event.IPAddress = rc.Request.IPAddress
			event.UserAgent = rc.Request.UserAgent
		}
	}

	for _, opt := range opts {
		opt(event)
	}

	return event
}

func (l *Logger) redact(event *Event) {
	if event.Context == nil {
		return
	}

	if len(l.cfg.IncludeContext) > 0 {
		event.Context = lo.PickByKeys(event.Context, l.cfg.IncludeContext)
	}

	if len(l.cfg.ExcludeContext) > 0 {
		event.Context = lo.OmitByKeys(event.Context, l.cfg.ExcludeContext)
	}
}

// suppressed applies the deny dedup window.
func (l *Logger) suppressed(event *Event) bool {
	if l.dedup == nil || event.Decision != DecisionDeny {
		return false
	}

	key := fmt.Sprintf("%s|%s|%s|%s|%s", event.Table, event.Operation, event.Decision, event.PolicyName, event.UserID)
	if l.dedup.Contains(key) {
		return true
	}

	l.dedup.Add(key, struct{}{})

	return false
}

func (l *Logger) append(ctx context.Context, event *Event) {
	l.mu.Lock()
	l.buffer = append(l.buffer, event)

	var batch []*Event
	if len(l.buffer) >= l.cfg.BufferSize {
		batch = l.buffer
		l.buffer = nil
	}
	l.mu.Unlock()

	if batch != nil {
		l.deliver(ctx, batch)
	}
}

// dispatchAsync hands the event to the bounded delivery pool. A rejected
// submission (pool saturated, queue full) drops the event through the error
// hook like any other failed delivery.
func (l *Logger) dispatchAsync(ctx context.Context, event *Event) {
	detached, cancel := xcontext.DetachWithTimeout(ctx, l.cfg.AsyncTimeout)

	err := l.executor.ExecuteFunc(func(context.Context) {
		defer cancel()

		l.deliver(detached, []*Event{event})
	})
	if err != nil {
		cancel()
		l.fail(ctx, err, []*Event{event})
	}
}

// deliver pushes a batch to the adapter. One failed attempt drops the batch;
// the events are handed to the error hook, never retried.
func (l *Logger) deliver(ctx context.Context, batch []*Event) {
	if len(batch) == 0 {
		return
	}

	var err error

	if batcher, ok := l.adapter.(BatchAdapter); ok && len(batch) > 1 {
		err = batcher.LogBatch(ctx, batch)
	} else {
		for _, event := range batch {
			err = multierr.Append(err, l.adapter.Log(ctx, event))
		}
	}

	if err != nil {
		l.fail(ctx, err, batch)
	}
}

func (l *Logger) fail(ctx context.Context, err error, dropped []*Event) {
	if l.onError != nil {
		l.onError(err, dropped)
		return
	}

	log.Error(ctx, "audit: delivery failed, events dropped",
		log.Cause(err),
		log.Int("dropped", len(dropped)),
	)
}

// Flush drains the buffer through the adapter's batch path when available.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	l.deliver(ctx, batch)

	if flusher, ok := l.adapter.(FlushAdapter); ok {
		return flusher.Flush(ctx)
	}

	return nil
}

// Close stops the flush timer, shuts down the delivery pool, performs a
// final flush and releases the adapter.
func (l *Logger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}

	if l.cancelFlush != nil {
		l.cancelFlush()
		l.cancelFlush = nil
	}

	var err error

	if l.executor != nil {
		err = multierr.Append(err, l.executor.Shutdown(ctx))
		l.executor = nil
	}

	err = multierr.Append(err, l.Flush(ctx))

	if closer, ok := l.adapter.(CloseAdapter); ok {
		err = multierr.Append(err, closer.Close(ctx))
	}

	return err
}
