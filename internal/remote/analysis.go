package remote

import (
	"context"
	"time"

	"github.com/rcliao/memory-relay/internal/model"
)

// Notification is the payload sent to the analysis service after a record
// is stored.
type Notification struct {
	Content string     `json:"content"`
	Role    model.Role `json:"role"`
	UserID  string     `json:"user_id"`
}

// AnalysisClient posts notifications to the secondary analysis service.
// The service's response carries no contract beyond its status code.
type AnalysisClient struct {
	c *Client
}

// NewAnalysisClient creates a client for the analysis service.
func NewAnalysisClient(baseURL, apiKey string, timeout time.Duration) *AnalysisClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &AnalysisClient{c: New(Options{BaseURL: baseURL, APIKey: apiKey, Timeout: timeout})}
}

// Notify sends n. Only transport and status failures are reported.
func (a *AnalysisClient) Notify(ctx context.Context, n Notification) error {
	return a.c.postJSON(ctx, "notify", "/api/notify", n, nil)
}
