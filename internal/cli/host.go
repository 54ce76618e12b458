package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/rcliao/memory-relay/internal/model"
	"github.com/rcliao/memory-relay/internal/relay"
)

// Hook names accepted on stdin.
const (
	hookTurnSent            = "turn_sent"
	hookTurnReceived        = "turn_received"
	hookConversationChanged = "conversation_changed"
	hookBeforeGeneration    = "before_generation"
	hookSave                = "save"
	hookProbe               = "probe"
)

// hostEvent is one inbound line from the host application.
type hostEvent struct {
	Hook string `json:"hook"`
	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`
}

// hostEffect is one outbound line to the host application.
type hostEffect struct {
	Effect   string                  `json:"effect"`
	Text     string                  `json:"text,omitempty"`
	Position model.Position          `json:"position,omitempty"`
	Depth    *int                    `json:"depth,omitempty"`
	State    model.ConnectivityState `json:"state,omitempty"`
	Results  []model.Result          `json:"results,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// stdioHost writes effects as JSON lines. It is safe for concurrent use.
type stdioHost struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdioHost(w io.Writer) *stdioHost {
	return &stdioHost{enc: json.NewEncoder(w)}
}

func (h *stdioHost) emit(e hostEffect) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enc.Encode(e); err != nil && logger != nil {
		logger.Warn("Write effect", zap.String("effect", e.Effect), zap.Error(err))
	}
}

func (h *stdioHost) SetContext(text string, cfg model.InjectionConfig) {
	depth := cfg.Depth
	h.emit(hostEffect{Effect: "set_context", Text: text, Position: cfg.Position, Depth: &depth})
}

func (h *stdioHost) ClearContext() {
	h.emit(hostEffect{Effect: "clear_context"})
}

// serve dispatches hook lines from in until EOF or ctx is done. Manual
// saves report their results asynchronously; serve waits for them before
// returning.
func serve(ctx context.Context, in io.Reader, h *stdioHost, rl *relay.Relay) error {
	hooks := rl.Hooks()
	var pending sync.WaitGroup
	defer pending.Wait()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev hostEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			h.emit(hostEffect{Effect: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		switch ev.Hook {
		case hookTurnSent:
			hooks.OnTurnSent(ev.Text)
		case hookTurnReceived:
			hooks.OnTurnReceived(ev.Text)
		case hookConversationChanged:
			hooks.OnConversationChanged(ev.ID)
		case hookBeforeGeneration:
			hooks.OnBeforeGeneration(ctx)
		case hookProbe:
			h.emit(hostEffect{Effect: "connectivity", State: rl.Probe(ctx)})
		case hookSave:
			results := rl.SaveManual(ev.Text)
			pending.Add(1)
			go func() {
				defer pending.Done()
				res, err := relay.Join(ctx, results)
				e := hostEffect{Effect: "saved", Results: res}
				if err != nil {
					e.Error = err.Error()
				}
				h.emit(e)
			}()
		default:
			h.emit(hostEffect{Effect: "error", Error: fmt.Sprintf("unknown hook %q", ev.Hook)})
		}
	}
	return sc.Err()
}
