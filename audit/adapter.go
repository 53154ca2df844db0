package audit

import (
	"context"
	"sync"

	"github.com/rowguard/rowguard/internal/log"
)

// Adapter is the delivery sink for audit events.
type Adapter interface {
	Log(ctx context.Context, event *Event) error
}

// BatchAdapter is an Adapter that can deliver a whole batch at once. Flush
// prefers it over per-event delivery.
type BatchAdapter interface {
	Adapter
	LogBatch(ctx context.Context, events []*Event) error
}

// FlushAdapter is an Adapter with its own internal buffering to drain.
type FlushAdapter interface {
	Flush(ctx context.Context) error
}

// CloseAdapter is an Adapter holding resources to release.
type CloseAdapter interface {
	Close(ctx context.Context) error
}

// MemoryAdapter collects events in memory. Test and policy-review use only.
type MemoryAdapter struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryAdapter returns an empty in-memory sink.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (a *MemoryAdapter) Log(_ context.Context, event *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, event)

	return nil
}

func (a *MemoryAdapter) LogBatch(_ context.Context, events []*Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, events...)

	return nil
}

// Events returns a snapshot of everything delivered so far.
func (a *MemoryAdapter) Events() []*Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*Event, len(a.events))
	copy(out, a.events)

	return out
}

// Reset drops all collected events.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = nil
}

// LogAdapter emits events through the structured logger.
type LogAdapter struct{}

// NewLogAdapter returns an adapter writing events as log entries.
func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

func (a *LogAdapter) Log(ctx context.Context, event *Event) error {
	log.Info(ctx, "audit: decision",
		log.String("table", event.Table),
		log.String("operation", string(event.Operation)),
		log.String("decision", string(event.Decision)),
		log.String("policy", event.PolicyName),
		log.String("reason", event.Reason),
		log.Bool("bypass", event.Bypass),
		log.String("user_id", event.UserID),
		log.String("tenant_id", event.TenantID),
		log.String("query_hash", event.QueryHash),
	)

	return nil
}
