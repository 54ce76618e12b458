// Package inject fetches memory context before each generation turn and
// hands it to the host for placement in the prompt.
package inject

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/remote"
)

const (
	// RecentTurns is how many observed turns make up the query.
	RecentTurns = 3

	DefaultBudget   = 500
	DefaultTimeout  = 3 * time.Second
	DefaultCacheTTL = 30 * time.Second
)

// Host is the outbound effect on the chat application.
type Host interface {
	SetContext(text string, cfg model.InjectionConfig)
	ClearContext()
}

// Fetcher asks the memory service for context.
type Fetcher interface {
	FetchContext(ctx context.Context, r remote.ContextRequest) (string, error)
}

// Gate reports whether the memory service is reachable.
type Gate interface {
	Connected() bool
}

// Options configures an Injector.
type Options struct {
	OwnerID   string
	Budget    int
	Placement model.InjectionConfig
	Disabled  bool
	// Timeout bounds the context fetch so generation is never held up long.
	Timeout time.Duration
	// CacheTTL is how long a fetched context is reused for the same query.
	// Zero disables the cache.
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Injector keeps the last few turns and turns them into injected context.
type Injector struct {
	fetcher Fetcher
	gate    Gate
	host    Host
	opts    Options
	logger  *zap.Logger
	cache   *ristretto.Cache

	mu     sync.Mutex
	turns  []string
	budget int
}

// New creates an Injector.
func New(fetcher Fetcher, gate Gate, host Host, opts Options) (*Injector, error) {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Placement.Position == "" {
		opts.Placement.Position = model.PositionInChat
	}
	if err := opts.Placement.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	inj := &Injector{
		fetcher: fetcher,
		gate:    gate,
		host:    host,
		opts:    opts,
		logger:  opts.Logger,
		budget:  opts.Budget,
	}

	if opts.CacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     4 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create context cache: %w", err)
		}
		inj.cache = cache
	}
	return inj, nil
}

// Observe records a turn. Only the last RecentTurns are kept.
func (i *Injector) Observe(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.turns = append(i.turns, text)
	if len(i.turns) > RecentTurns {
		i.turns = i.turns[len(i.turns)-RecentTurns:]
	}
}

// Reset forgets observed turns, for when the host switches conversation.
func (i *Injector) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.turns = nil
}

// SetBudget changes the token budget sent with context requests.
func (i *Injector) SetBudget(n int) {
	if n <= 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.budget = n
}

// Query returns the text that would be sent as the context query.
func (i *Injector) Query() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return strings.Join(i.turns, "\n")
}

// BeforeGeneration sets fresh context on the host, or clears it. Every
// failure ends in a clear within the same call, so stale context never
// survives into the next generation.
func (i *Injector) BeforeGeneration(ctx context.Context) {
	text, ok := i.lookup(ctx)
	if !ok || strings.TrimSpace(text) == "" {
		i.host.ClearContext()
		return
	}
	i.host.SetContext(text, i.opts.Placement)
}

func (i *Injector) lookup(ctx context.Context) (string, bool) {
	if i.opts.Disabled || !i.gate.Connected() {
		return "", false
	}

	i.mu.Lock()
	query := strings.Join(i.turns, "\n")
	budget := i.budget
	i.mu.Unlock()
	if query == "" {
		return "", false
	}

	key := fmt.Sprintf("%s|%d|%s", i.opts.OwnerID, budget, query)
	if i.cache != nil {
		if v, found := i.cache.Get(key); found {
			return v.(string), true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()

	text, err := i.fetcher.FetchContext(ctx, remote.ContextRequest{
		Query:     query,
		UserID:    i.opts.OwnerID,
		MaxTokens: budget,
	})
	if err != nil {
		i.logger.Warn("Context fetch failed, clearing injection", zap.Error(err))
		return "", false
	}

	if i.cache != nil {
		i.cache.SetWithTTL(key, text, int64(len(text))+1, i.opts.CacheTTL)
	}
	return text, true
}

// Close releases the cache.
func (i *Injector) Close() {
	if i.cache != nil {
		i.cache.Close()
	}
}
