package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-relay/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: 2 * time.Second})
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, c.Health(context.Background()))
}

func TestHealth_Unhealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerRejected)
}

func TestCreateMemory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/memories", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var body createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Content)
		assert.Equal(t, "u1", body.UserID)
		assert.Equal(t, model.RoleUser, body.Metadata.Role)

		json.NewEncoder(w).Encode(CreateResponse{Success: true, ID: "mem-1"})
	})

	resp, err := c.CreateMemory(context.Background(), model.MemoryRecord{
		Content:  "hello",
		OwnerID:  "u1",
		Metadata: model.Metadata{Role: model.RoleUser},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "mem-1", resp.ID)
}

func TestCreateMemory_BusinessRejection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CreateResponse{Success: false, Message: "duplicate"})
	})
	resp, err := c.CreateMemory(context.Background(), model.MemoryRecord{Content: "x"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "duplicate", resp.Message)
}

func TestCreateMemory_ErrorClasses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrServerRejected},
		{"bad request", http.StatusBadRequest, ErrServerRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := c.CreateMemory(context.Background(), model.MemoryRecord{Content: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, Retryable(err))

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Code)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestCreateMemory_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url})
	_, err := c.CreateMemory(context.Background(), model.MemoryRecord{Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
}

func TestCreateMemory_Timeout(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CreateMemory(ctx, model.MemoryRecord{Content: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrNetwork, "timeouts are network errors")
}

func TestFetchContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/context", r.URL.Path)
		var body ContextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, ContextRequest{Query: "q", UserID: "u1", MaxTokens: 300}, body)
		json.NewEncoder(w).Encode(map[string]string{"context": "remembered"})
	})

	got, err := c.FetchContext(context.Background(), ContextRequest{Query: "q", UserID: "u1", MaxTokens: 300})
	require.NoError(t, err)
	assert.Equal(t, "remembered", got)
}

func TestSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settings", r.URL.Path)
		w.Write([]byte(`{"chunk_size":1500}`))
	})
	s, err := c.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1500, s.ChunkSize)
	assert.Zero(t, s.ContextBudget)
}

func TestAnalysisNotify(t *testing.T) {
	got := make(chan Notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notify", r.URL.Path)
		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		got <- n
		w.Write([]byte("whatever"))
	}))
	defer srv.Close()

	a := NewAnalysisClient(srv.URL, "", time.Second)
	require.NoError(t, a.Notify(context.Background(), Notification{Content: "c", Role: model.RoleAssistant, UserID: "u"}))
	assert.Equal(t, Notification{Content: "c", Role: model.RoleAssistant, UserID: "u"}, <-got)
}
