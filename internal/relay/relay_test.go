package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-relay/internal/config"
	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/store"
)

type memoryBody struct {
	Content  string         `json:"content"`
	UserID   string         `json:"user_id"`
	Metadata model.Metadata `json:"metadata"`
}

// fakeService is an in-process memory and analysis service.
type fakeService struct {
	healthy  atomic.Bool
	failing  atomic.Bool
	settings string
	context  string

	mu       sync.Mutex
	stored   []memoryBody
	notified []string
	queries  []map[string]any
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/memories", func(w http.ResponseWriter, r *http.Request) {
		if f.failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var b memoryBody
		json.NewDecoder(r.Body).Decode(&b)
		f.mu.Lock()
		f.stored = append(f.stored, b)
		n := len(f.stored)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "id": fmt.Sprintf("m%d", n)})
	})
	mux.HandleFunc("POST /api/context", func(w http.ResponseWriter, r *http.Request) {
		var q map[string]any
		json.NewDecoder(r.Body).Decode(&q)
		f.mu.Lock()
		f.queries = append(f.queries, q)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"context": f.context})
	})
	mux.HandleFunc("GET /api/settings", func(w http.ResponseWriter, r *http.Request) {
		if f.settings == "" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(f.settings))
	})
	mux.HandleFunc("POST /api/notify", func(w http.ResponseWriter, r *http.Request) {
		var n map[string]string
		json.NewDecoder(r.Body).Decode(&n)
		f.mu.Lock()
		f.notified = append(f.notified, n["content"])
		f.mu.Unlock()
	})
	return mux
}

func (f *fakeService) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.stored {
		out = append(out, b.Content)
	}
	return out
}

type recordingHost struct {
	mu      sync.Mutex
	text    string
	cfg     model.InjectionConfig
	cleared int
}

func (h *recordingHost) SetContext(text string, cfg model.InjectionConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.text, h.cfg = text, cfg
}

func (h *recordingHost) ClearContext() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.text = ""
	h.cleared++
}

type fixture struct {
	svc     *fakeService
	host    *recordingHost
	relay   *Relay
	pending *store.SQLiteStore
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	svc := &fakeService{}
	svc.healthy.Store(true)
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	pending, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pending.db"), 100)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.OwnerID = "owner-1"
	cfg.Remote.BaseURL = srv.URL
	cfg.Analysis.Enabled = true
	cfg.Analysis.BaseURL = srv.URL
	cfg.Pending.Path = filepath.Join(t.TempDir(), "unused.db")
	cfg.Injection.CacheTTL = 0
	if mutate != nil {
		mutate(cfg)
	}

	host := &recordingHost{}
	r, err := New(cfg, Options{
		Host:    host,
		Pending: pending,
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })

	return &fixture{svc: svc, host: host, relay: r, pending: pending}
}

func wait(t *testing.T, results []<-chan model.Result) []model.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := Join(ctx, results)
	require.NoError(t, err)
	return out
}

func TestTurnSent_FiltersAndStores(t *testing.T) {
	f := newFixture(t, nil)

	res := wait(t, f.relay.TurnSent("<think>plan the answer</think>What is Go?"))
	require.Len(t, res, 1)
	assert.True(t, res[0].Success)

	f.relay.queue.Wait()
	require.Equal(t, []string{"What is Go?"}, f.svc.contents())

	got := f.svc.stored[0]
	assert.Equal(t, "owner-1", got.UserID)
	assert.Equal(t, model.RoleUser, got.Metadata.Role)
	assert.Equal(t, "chat", got.Metadata.Source)
	assert.Zero(t, got.Metadata.ChunkTotal)
}

func TestTurnReceived_ChunksLongText(t *testing.T) {
	f := newFixture(t, nil)

	text := strings.Repeat("a", 4500)
	res := wait(t, f.relay.TurnReceived(text))
	require.Len(t, res, 3)

	f.relay.queue.Wait()
	require.Len(t, f.svc.stored, 3)
	for i, b := range f.svc.stored {
		assert.Equal(t, model.RoleAssistant, b.Metadata.Role)
		assert.Equal(t, i+1, b.Metadata.ChunkIndex)
		assert.Equal(t, 3, b.Metadata.ChunkTotal)
		assert.Equal(t, 4500, b.Metadata.OriginalLength)
	}
	assert.Equal(t, text, strings.Join(f.svc.contents(), ""))
}

func TestTurn_BlankAfterFilterSkipped(t *testing.T) {
	f := newFixture(t, nil)
	assert.Empty(t, f.relay.TurnReceived("<thinking>only reasoning</thinking>\n\n"))
	assert.Empty(t, f.svc.contents())
}

func TestTurn_AutosaveDisabledStillObserved(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Capture.Assistant = false })

	assert.Nil(t, f.relay.TurnReceived("assistant says hi"))
	assert.Equal(t, "assistant says hi", f.relay.injector.Query())
	assert.Empty(t, f.svc.contents())
}

func TestSaveManual(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Capture.User = false })

	res := wait(t, f.relay.SaveManual("remember this"))
	require.Len(t, res, 1)
	f.relay.queue.Wait()
	assert.Equal(t, model.RoleManual, f.svc.stored[0].Metadata.Role)
	assert.Empty(t, f.relay.injector.Query())
}

func TestFallbackReplayedOnReconnect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.svc.healthy.Store(false)
	f.svc.failing.Store(true)
	assert.Equal(t, model.StateDisconnected, f.relay.Start(ctx))

	for _, text := range []string{"first", "second"} {
		res := wait(t, f.relay.TurnSent(text))
		require.Len(t, res, 1)
		assert.True(t, res[0].Queued)
	}
	n, err := f.pending.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	f.svc.healthy.Store(true)
	f.svc.failing.Store(false)
	assert.Equal(t, model.StateConnected, f.relay.Probe(ctx))
	f.relay.queue.Wait()

	assert.Equal(t, []string{"first", "second"}, f.svc.contents())
	n, err = f.pending.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Already connected: no second replay.
	assert.Equal(t, model.StateConnected, f.relay.Probe(ctx))
	f.relay.queue.Wait()
	assert.Len(t, f.svc.contents(), 2)
}

func TestStart_AppliesRemoteSettings(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.settings = `{"chunk_size": 100, "context_budget": 42}`
	f.svc.context = "remembered"

	require.Equal(t, model.StateConnected, f.relay.Start(context.Background()))

	res := wait(t, f.relay.TurnSent(strings.Repeat("b", 250)))
	assert.Len(t, res, 3)

	f.relay.BeforeGeneration(context.Background())
	require.Len(t, f.svc.queries, 1)
	assert.EqualValues(t, 42, f.svc.queries[0]["max_tokens"])
	assert.Equal(t, "remembered", f.host.text)

	st, err := f.relay.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, st.ChunkSize)
}

func TestBeforeGeneration_ClearsWhileDisconnected(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.context = "remembered"
	f.svc.healthy.Store(false)
	f.relay.Start(context.Background())

	f.relay.TurnSent("hello")
	f.relay.BeforeGeneration(context.Background())
	assert.Empty(t, f.host.text)
	assert.Equal(t, 1, f.host.cleared)
	assert.Empty(t, f.svc.queries)
}

func TestBeforeGeneration_UsesPlacement(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Injection.Position = model.PositionBeforeSystem
		cfg.Injection.Depth = 2
	})
	f.svc.context = "remembered"
	f.relay.Start(context.Background())

	f.relay.TurnSent("hello")
	f.relay.BeforeGeneration(context.Background())
	assert.Equal(t, model.InjectionConfig{Position: model.PositionBeforeSystem, Depth: 2}, f.host.cfg)
}

func TestConversationChanged(t *testing.T) {
	f := newFixture(t, nil)
	f.relay.TurnSent("old chat")

	f.relay.Hooks().OnConversationChanged("chat-2")
	assert.Empty(t, f.relay.injector.Query())
	assert.Equal(t, 1, f.host.cleared)

	st, err := f.relay.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "chat-2", st.Conversation)
}

func TestNotifiesOnlyStoredRecords(t *testing.T) {
	f := newFixture(t, nil)

	wait(t, f.relay.TurnSent("kept"))
	f.svc.failing.Store(true)
	wait(t, f.relay.TurnSent("parked"))

	f.relay.queue.Wait()
	f.relay.notifier.Wait()
	assert.Equal(t, []string{"kept"}, f.svc.notified)
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(config.PendingConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "p.db"), Capacity: 5})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenStore(config.PendingConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	got := Summary([]model.Result{
		{Success: true, ID: "a"},
		{Queued: true, Message: "down"},
		{Message: "duplicate"},
	})
	assert.Equal(t, "stored=1 queued=1 failed=1 (duplicate)", got)
}
