package resolver

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/log"
	"github.com/rowguard/rowguard/internal/xcache"
)

// Config tunes the manager.
type Config struct {
	// DefaultTTL applies to resolvers reporting TTL 0.
	DefaultTTL time.Duration `conf:"default_ttl" yaml:"default_ttl" json:"default_ttl"`
	// DefaultTimeout applies to resolvers reporting Timeout 0.
	DefaultTimeout time.Duration `conf:"default_timeout" yaml:"default_timeout" json:"default_timeout"`
	// Concurrency bounds the fan-out of independent resolvers. 1 runs
	// everything sequentially.
	Concurrency int `conf:"concurrency" yaml:"concurrency" json:"concurrency"`
	// Cache selects the backing cache; unset disables caching.
	Cache xcache.Config `conf:"cache" yaml:"cache" json:"cache"`
}

// Option configures the manager beyond Config.
type Option func(*Manager)

// WithCache injects a pre-built cache, overriding Config.Cache.
func WithCache(cache xcache.Cache[any]) Option {
	return func(m *Manager) {
		m.cache = cache
	}
}

// Manager registers resolvers and enriches RLS contexts with their outputs.
// Registration happens at startup; Resolve is safe for concurrent use once
// the first call computed the execution plan.
type Manager struct {
	cfg   Config
	cache xcache.Cache[any]

	mu        sync.Mutex
	resolvers map[string]Resolver
	layers    [][]Resolver
	planErr   error
	planned   bool
}

// NewManager builds a manager. Cache construction failures (e.g. redis
// unreachable) surface here, not at resolve time.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 3 * time.Second
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	m := &Manager{
		cfg:       cfg,
		resolvers: map[string]Resolver{},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.cache == nil {
		cache, err := xcache.NewFromConfig[any](context.Background(), cfg.Cache)
		if err != nil {
			return nil, err
		}

		m.cache = cache
	}

	return m, nil
}

// Register adds a named resolver. Duplicate names fail; dependency names are
// checked when the execution plan is computed on first resolve.
func (m *Manager) Register(r Resolver) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := r.Name()
	if name == "" {
		return &ResolverError{Name: name, Err: errEmptyName}
	}

	if _, exists := m.resolvers[name]; exists {
		return &DuplicateError{Name: name}
	}

	m.resolvers[name] = r
	m.planned = false

	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (m *Manager) MustRegister(r Resolver) {
	if err := m.Register(r); err != nil {
		panic(err)
	}
}

// Resolve enriches the context with every registered resolver's output.
// Independent resolvers run concurrently, bounded by Config.Concurrency;
// dependents wait for their dependency layer and receive those outputs. The
// input context is never mutated: outputs merge into a copied AuthContext.
func (m *Manager) Resolve(ctx context.Context, rc *rowguard.RLSContext) (*rowguard.RLSContext, error) {
	if rc == nil || rc.Auth == nil {
		return nil, &rowguard.ContextValidationError{Field: "auth", Detail: "cannot resolve a nil context"}
	}

	layers, err := m.plan()
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{}

	for _, layer := range layers {
		results := make([]any, len(layer))
		resolved := make([]bool, len(layer))

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(m.cfg.Concurrency)

		for i, r := range layer {
			eg.Go(func() error {
				value, err := m.resolveOne(egCtx, r, rc, dependencyOutputs(r, outputs))
				if err != nil {
					if r.Required() {
						return &ResolverError{Name: r.Name(), Err: err}
					}

					log.Warn(egCtx, "resolver: optional resolver failed, output absent",
						log.String("resolver", r.Name()),
						log.Cause(err),
					)

					return nil
				}

				results[i] = value
				resolved[i] = true

				return nil
			})
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}

		for i, r := range layer {
			if resolved[i] {
				outputs[r.Name()] = results[i]
			}
		}
	}

	auth := rc.Auth.Clone()
	if auth.Resolved == nil {
		auth.Resolved = make(map[string]any, len(outputs))
	}

	for name, value := range outputs {
		auth.Resolved[name] = value
	}

	enriched := *rc
	enriched.Auth = auth

	return &enriched, nil
}

func (m *Manager) resolveOne(ctx context.Context, r Resolver, rc *rowguard.RLSContext, deps map[string]any) (any, error) {
	key := r.CacheKey(rc)
	cacheKey := ""

	if key != "" {
		cacheKey = "rls:resolver:" + r.Name() + ":" + key
		if value, err := m.cache.Get(ctx, cacheKey); err == nil {
			return value, nil
		}
	}

	value, err := m.invoke(ctx, r, rc, deps)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		ttl := r.TTL()
		if ttl <= 0 {
			ttl = m.cfg.DefaultTTL
		}

		if err := m.cache.Set(ctx, cacheKey, value, xcache.WithExpiration(ttl)); err != nil {
			log.Warn(ctx, "resolver: cache write failed",
				log.String("resolver", r.Name()),
				log.Cause(err),
			)
		}
	}

	return value, nil
}

// invoke runs the resolver under its timeout. A resolver that ignores its
// context and hangs is abandoned; its failure handling is the same as an
// explicit error.
func (m *Manager) invoke(ctx context.Context, r Resolver, rc *rowguard.RLSContext, deps map[string]any) (any, error) {
	timeout := r.Timeout()
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}

	done := make(chan result, 1)

	go func() {
		value, err := r.Resolve(ctx, rc, deps)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// plan computes (once per registration set) the layered execution order: a
// deterministic Kahn topological sort where each layer holds resolvers whose
// dependencies are all satisfied by earlier layers.
func (m *Manager) plan() ([][]Resolver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.planned {
		return m.layers, m.planErr
	}

	m.layers, m.planErr = buildLayers(m.resolvers)
	m.planned = true

	return m.layers, m.planErr
}

func buildLayers(resolvers map[string]Resolver) ([][]Resolver, error) {
	for name, r := range resolvers {
		for _, dep := range r.DependsOn() {
			if _, ok := resolvers[dep]; !ok {
				return nil, &UnknownDependencyError{Resolver: name, Dependency: dep}
			}
		}
	}

	var (
		layers [][]Resolver
		placed = map[string]bool{}
	)

	for len(placed) < len(resolvers) {
		var ready []string

		for name, r := range resolvers {
			if placed[name] {
				continue
			}

			satisfied := true

			for _, dep := range r.DependsOn() {
				if !placed[dep] {
					satisfied = false
					break
				}
			}

			if satisfied {
				ready = append(ready, name)
			}
		}

		if len(ready) == 0 {
			var remaining []string
			for name := range resolvers {
				if !placed[name] {
					remaining = append(remaining, name)
				}
			}

			sort.Strings(remaining)

			return nil, &CycleError{Names: remaining}
		}

		// Sort for a deterministic execution order within a layer.
		sort.Strings(ready)

		layer := make([]Resolver, len(ready))
		for i, name := range ready {
			layer[i] = resolvers[name]
			placed[name] = true
		}

		layers = append(layers, layer)
	}

	return layers, nil
}

func dependencyOutputs(r Resolver, outputs map[string]any) map[string]any {
	deps := r.DependsOn()
	if len(deps) == 0 {
		return map[string]any{}
	}

	out := make(map[string]any, len(deps))

	for _, dep := range deps {
		if value, ok := outputs[dep]; ok {
			out[dep] = value
		}
	}

	return out
}

// InvalidateCache drops a resolver's cached output for one cache key.
func (m *Manager) InvalidateCache(ctx context.Context, name, key string) error {
	return m.cache.Delete(ctx, "rls:resolver:"+name+":"+key)
}
