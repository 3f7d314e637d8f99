package comfyui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrExecutionInterrupted is returned when ComfyUI reports the prompt was interrupted
var ErrExecutionInterrupted = errors.New("comfyui execution interrupted")

// ProgressCallback is called when progress updates are received
type ProgressCallback func(current, total int)

// ExecutionMonitor follows a single prompt execution via WebSocket
type ExecutionMonitor struct {
	wsURL    string
	logger   *slog.Logger
	clientID string
	conn     *websocket.Conn
}

// NewExecutionMonitor creates a new execution monitor with a unique client ID
func NewExecutionMonitor(wsURL string, logger *slog.Logger) *ExecutionMonitor {
	return &ExecutionMonitor{
		wsURL:    wsURL,
		logger:   logger,
		clientID: uuid.New().String(),
	}
}

// GetClientID returns the client ID for use in prompt submission
func (m *ExecutionMonitor) GetClientID() string {
	return m.clientID
}

// Connect opens the socket. It must be called before the prompt is queued so
// that a fast execution cannot finish unobserved.
func (m *ExecutionMonitor) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?clientId=%s", m.wsURL, m.clientID)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	m.conn = conn
	return nil
}

// Close releases the socket
func (m *ExecutionMonitor) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// WaitForCompletion waits for a specific prompt to complete.
// Returns nil on success, error on failure or context cancellation.
func (m *ExecutionMonitor) WaitForCompletion(ctx context.Context, promptID string, progressCb ProgressCallback) error {
	if m.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	conn := m.conn

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(10 * time.Second)
	defer pingTicker.Stop()

	// buffered so the reader can exit after we stop listening
	msgCh := make(chan WSMessage, 16)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				m.logger.Debug("failed to unmarshal ws message", "error", err)
				continue
			}
			select {
			case msgCh <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}

		case err := <-errCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("websocket closed unexpectedly")
			}
			return fmt.Errorf("websocket read: %w", err)

		case msg := <-msgCh:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))

			switch msg.Type {
			case "executing":
				var data ExecutingData
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					continue
				}

				if data.PromptID == promptID && data.Node == nil {
					m.logger.Debug("execution complete", "prompt_id", promptID)
					return nil
				}

			case "progress":
				var data ProgressData
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					continue
				}

				if data.PromptID == promptID && progressCb != nil {
					progressCb(data.Value, data.Max)
				}

			case "execution_interrupted":
				var data ExecutingData
				if err := json.Unmarshal(msg.Data, &data); err == nil && data.PromptID == promptID {
					return ErrExecutionInterrupted
				}

			case "execution_error":
				return fmt.Errorf("comfyui execution error: %s", string(msg.Data))
			}
		}
	}
}
