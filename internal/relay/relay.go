// Package relay wires the filter, segmenter, queue, connectivity monitor,
// injector and notifier into the single object a host application talks to.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/chunker"
	"github.com/rcliao/memory-relay/internal/config"
	"github.com/rcliao/memory-relay/internal/connectivity"
	"github.com/rcliao/memory-relay/internal/filter"
	"github.com/rcliao/memory-relay/internal/inject"
	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/notify"
	"github.com/rcliao/memory-relay/internal/queue"
	"github.com/rcliao/memory-relay/internal/remote"
	"github.com/rcliao/memory-relay/internal/store"
)

const settingsTimeout = 5 * time.Second

// Options supplies collaborators that are not described by the config.
type Options struct {
	// Host receives injected context. Nil discards it.
	Host inject.Host

	// Pending overrides the fallback store opened from the config.
	Pending store.PendingStore

	HTTPClient *http.Client
	Logger     *zap.Logger
	Meter      metric.Meter

	// Sleep replaces the queue's pacing wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Hooks are the inbound calls a host application makes.
type Hooks struct {
	OnTurnSent            func(text string)
	OnTurnReceived        func(text string)
	OnConversationChanged func(id string)
	OnBeforeGeneration    func(ctx context.Context)
}

// Status is a snapshot for operators.
type Status struct {
	State        model.ConnectivityState `json:"state"`
	Queue        queue.Stats             `json:"queue"`
	Pending      int                     `json:"pending"`
	ChunkSize    int                     `json:"chunk_size"`
	Conversation string                  `json:"conversation,omitempty"`
}

// Relay is constructed once per host process and owns every component.
type Relay struct {
	cfg      *config.Config
	logger   *zap.Logger
	host     inject.Host
	client   *remote.Client
	monitor  *connectivity.Monitor
	pending  store.PendingStore
	queue    *queue.Queue
	injector *inject.Injector
	notifier *notify.Notifier

	mu           sync.Mutex
	chunkSize    int
	conversation string
}

// New builds a Relay from cfg.
func New(cfg *config.Config, opts Options) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	host := opts.Host
	if host == nil {
		host = nopHost{}
	}

	pending := opts.Pending
	if pending == nil {
		var err error
		pending, err = OpenStore(cfg.Pending)
		if err != nil {
			return nil, err
		}
	}

	client := remote.New(remote.Options{
		BaseURL:    cfg.Remote.BaseURL,
		APIKey:     cfg.Remote.APIKey,
		Timeout:    cfg.Remote.Timeout,
		HTTPClient: opts.HTTPClient,
	})

	r := &Relay{
		cfg:       cfg,
		logger:    logger,
		host:      host,
		client:    client,
		pending:   pending,
		chunkSize: cfg.Capture.ChunkSize,
	}

	r.monitor = connectivity.New(client, connectivity.Options{
		Timeout: cfg.Probe.Timeout,
		Logger:  logger.Named("connectivity"),
	})

	r.queue = queue.New(client, pending, queue.Options{
		MaxRetries:   cfg.Queue.MaxRetries,
		MinInterval:  cfg.Queue.MinInterval,
		MaxInterval:  cfg.Queue.MaxInterval,
		WriteTimeout: cfg.Queue.WriteTimeout,
		Logger:       logger.Named("queue"),
		Metrics:      queue.NewMetrics(opts.Meter),
		Sleep:        opts.Sleep,
	})

	injector, err := inject.New(client, r.monitor, host, inject.Options{
		OwnerID:   cfg.OwnerID,
		Budget:    cfg.Injection.Budget,
		Placement: cfg.Injection.Placement(),
		Disabled:  !cfg.Injection.Enabled,
		Timeout:   cfg.Injection.Timeout,
		CacheTTL:  cfg.Injection.CacheTTL,
		Logger:    logger.Named("inject"),
	})
	if err != nil {
		pending.Close()
		return nil, fmt.Errorf("create injector: %w", err)
	}
	r.injector = injector

	var sender notify.Sender
	if cfg.Analysis.Enabled {
		sender = remote.NewAnalysisClient(cfg.Analysis.BaseURL, cfg.Analysis.APIKey, cfg.Analysis.Timeout)
	}
	r.notifier = notify.New(sender, cfg.OwnerID, cfg.Analysis.Timeout, logger.Named("notify"))

	r.queue.OnSuccess(r.notifier.OnStored)
	r.monitor.OnConnected(r.onConnected)

	return r, nil
}

// OpenStore opens the fallback store selected by cfg.Backend.
func OpenStore(cfg config.PendingConfig) (store.PendingStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := store.NewSQLiteStore(cfg.Path, cfg.Capacity)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := store.NewRedisStore(store.RedisOptions{
			URL:      cfg.RedisURL,
			Key:      cfg.RedisKey,
			Capacity: cfg.Capacity,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown pending backend %q", cfg.Backend)
	}
}

// Hooks returns the inbound hooks to register with the host.
func (r *Relay) Hooks() Hooks {
	return Hooks{
		OnTurnSent:            func(text string) { r.TurnSent(text) },
		OnTurnReceived:        func(text string) { r.TurnReceived(text) },
		OnConversationChanged: r.ConversationChanged,
		OnBeforeGeneration:    r.BeforeGeneration,
	}
}

// Start runs the startup probe. Leftover fallback entries are replayed if
// the service is reachable.
func (r *Relay) Start(ctx context.Context) model.ConnectivityState {
	return r.monitor.Probe(ctx)
}

// Probe checks the memory service and returns the new state.
func (r *Relay) Probe(ctx context.Context) model.ConnectivityState {
	return r.monitor.Probe(ctx)
}

// State returns the last probe outcome.
func (r *Relay) State() model.ConnectivityState {
	return r.monitor.State()
}

// TurnSent captures a user turn.
func (r *Relay) TurnSent(text string) []<-chan model.Result {
	return r.capture(model.RoleUser, text, r.cfg.Capture.User)
}

// TurnReceived captures an assistant turn.
func (r *Relay) TurnReceived(text string) []<-chan model.Result {
	return r.capture(model.RoleAssistant, text, r.cfg.Capture.Assistant)
}

// SaveManual stores text on explicit request, regardless of the auto-save
// settings. It is not observed for context injection.
func (r *Relay) SaveManual(text string) []<-chan model.Result {
	return r.save(model.RoleManual, filter.Clean(text))
}

// ConversationChanged forgets the observed turns and any injected context.
func (r *Relay) ConversationChanged(id string) {
	r.mu.Lock()
	r.conversation = id
	r.mu.Unlock()

	r.injector.Reset()
	r.host.ClearContext()
	r.logger.Debug("Conversation changed", zap.String("conversation", id))
}

// BeforeGeneration refreshes the injected context.
func (r *Relay) BeforeGeneration(ctx context.Context) {
	r.injector.BeforeGeneration(ctx)
}

// Replay moves fallback entries back into the write queue now, without
// waiting for a reconnection.
func (r *Relay) Replay(ctx context.Context) (int, error) {
	return r.queue.Replay(ctx)
}

// Status returns a snapshot of the relay.
func (r *Relay) Status(ctx context.Context) (*Status, error) {
	n, err := r.pending.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Status{
		State:        r.monitor.State(),
		Queue:        r.queue.Stats(),
		Pending:      n,
		ChunkSize:    r.chunkSize,
		Conversation: r.conversation,
	}, nil
}

// Wait blocks until the write queue is empty and started notifications
// have finished.
func (r *Relay) Wait() {
	r.queue.Wait()
	r.notifier.Wait()
}

// Client returns the memory service client.
func (r *Relay) Client() *remote.Client { return r.client }

// Pending returns the fallback store.
func (r *Relay) Pending() store.PendingStore { return r.pending }

// Close drains the write queue within ctx, waits for outstanding
// notifications and releases the fallback store. Records still queued when
// ctx expires are parked in the fallback store first.
func (r *Relay) Close(ctx context.Context) error {
	qerr := r.queue.Close(ctx)
	r.notifier.Wait()
	r.injector.Close()
	serr := r.pending.Close()
	if qerr != nil {
		r.logger.Warn("Shutdown deadline passed, remaining records parked", zap.Error(qerr))
	}
	return errors.Join(qerr, serr)
}

func (r *Relay) capture(role model.Role, text string, autosave bool) []<-chan model.Result {
	cleaned := filter.Clean(text)
	r.injector.Observe(cleaned)
	if !autosave {
		return nil
	}
	return r.save(role, cleaned)
}

func (r *Relay) save(role model.Role, cleaned string) []<-chan model.Result {
	if filter.IsBlank(cleaned) {
		return nil
	}

	r.mu.Lock()
	size := r.chunkSize
	r.mu.Unlock()

	base := model.MemoryRecord{
		Content: cleaned,
		OwnerID: r.cfg.OwnerID,
		Metadata: model.Metadata{
			Role:      role,
			Source:    r.cfg.Source,
			Timestamp: model.NowMillis(),
		},
	}
	recs := chunker.Tag(base, chunker.Segment(cleaned, size))

	results := make([]<-chan model.Result, 0, len(recs))
	for _, rec := range recs {
		results = append(results, r.queue.Enqueue(rec))
	}
	if recs[0].Chunked() {
		r.logger.Debug("Turn split into chunks",
			zap.String("role", string(role)),
			zap.Int("chunks", len(recs)),
			zap.Int("length", len([]rune(cleaned))))
	}
	return results
}

// onConnected runs on every transition into the connected state.
func (r *Relay) onConnected() {
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()

	if _, err := r.queue.Replay(ctx); err != nil {
		r.logger.Error("Replay failed", zap.Error(err))
	}
	r.refreshSettings(ctx)
}

func (r *Relay) refreshSettings(ctx context.Context) {
	s, err := r.client.Settings(ctx)
	if err != nil {
		r.logger.Debug("Remote settings unavailable, keeping local values", zap.Error(err))
		return
	}
	if s.ChunkSize > 0 {
		r.mu.Lock()
		r.chunkSize = s.ChunkSize
		r.mu.Unlock()
	}
	if s.ContextBudget > 0 {
		r.injector.SetBudget(s.ContextBudget)
	}
	r.logger.Info("Remote settings applied",
		zap.Int("chunk_size", s.ChunkSize),
		zap.Int("context_budget", s.ContextBudget))
}

type nopHost struct{}

func (nopHost) SetContext(string, model.InjectionConfig) {}
func (nopHost) ClearContext()                            {}

// Join collects results for a batch of chunks. It blocks until every chunk
// is resolved or ctx is done.
func Join(ctx context.Context, results []<-chan model.Result) ([]model.Result, error) {
	out := make([]model.Result, 0, len(results))
	for _, ch := range results {
		select {
		case res := <-ch:
			out = append(out, res)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

// Summary renders results for CLI output.
func Summary(results []model.Result) string {
	var stored, queued, failed int
	var msgs []string
	for _, res := range results {
		switch {
		case res.Success:
			stored++
		case res.Queued:
			queued++
		default:
			failed++
			if res.Message != "" {
				msgs = append(msgs, res.Message)
			}
		}
	}
	s := fmt.Sprintf("stored=%d queued=%d failed=%d", stored, queued, failed)
	if len(msgs) > 0 {
		s += " (" + strings.Join(msgs, "; ") + ")"
	}
	return s
}
