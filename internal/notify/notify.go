// Package notify forwards stored records to the analysis service on a
// best-effort basis.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/remote"
)

// Sender delivers one notification.
type Sender interface {
	Notify(ctx context.Context, n remote.Notification) error
}

// Notifier sends each notification on a detached goroutine. Callers never
// wait for it and failures are logged and dropped: no retry, and no effect
// on the record that triggered it.
type Notifier struct {
	sender  Sender
	ownerID string
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a Notifier. A nil sender disables notifications.
func New(sender Sender, ownerID string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, ownerID: ownerID, timeout: timeout, logger: logger}
}

// Notify starts the notification and returns immediately.
func (n *Notifier) Notify(content string, role model.Role) {
	if n.sender == nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		err := n.sender.Notify(ctx, remote.Notification{Content: content, Role: role, UserID: n.ownerID})
		if err != nil {
			n.logger.Warn("Analysis notification dropped", zap.String("role", string(role)), zap.Error(err))
		}
	}()
}

// OnStored adapts Notify to the queue's success hook.
func (n *Notifier) OnStored(rec model.MemoryRecord, _ model.Result) {
	n.Notify(rec.Content, rec.Metadata.Role)
}

// Wait blocks until every started notification has finished. It is meant
// for shutdown; the write path never calls it.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
