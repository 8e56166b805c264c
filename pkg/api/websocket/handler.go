package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/application/orchestrator"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ExecutionGetter reads execution records
type ExecutionGetter interface {
	Get(ctx context.Context, id string) (*domain.Execution, error)
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus   ports.EventBus
	executions ExecutionGetter
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler. executions may be nil; when
// set, a client connecting after the execution finished gets a final event
// immediately.
func NewHandler(eventBus ports.EventBus, executions ExecutionGetter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus:   eventBus,
		executions: executions,
		logger:     logger.With(zap.String("component", "websocket")),
	}
}

// HandleExecutionStream streams the events of one execution
func (h *Handler) HandleExecutionStream(c *gin.Context) {
	executionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("execution_id", executionID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The read loop only notices the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := make(chan domain.Event, eventBuffer)
	handler := func(_ context.Context, event domain.Event) error {
		if event.ExecutionID != executionID {
			return nil
		}
		select {
		case events <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("execution_id", executionID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	if err := h.eventBus.Subscribe(ctx, orchestrator.Topic, handler); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("topic", orchestrator.Topic),
			zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event bus unavailable"),
			time.Now().Add(writeWait))
		return
	}

	if final, ok := h.finished(ctx, executionID); ok {
		h.write(conn, final)
		h.close(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := h.write(conn, event); err != nil {
				return
			}
			if event.Type == domain.EventTypeExecutionFinished {
				h.close(conn)
				return
			}
		}
	}
}

// finished synthesizes the final event of an execution that already ended
func (h *Handler) finished(ctx context.Context, executionID string) (domain.Event, bool) {
	if h.executions == nil {
		return domain.Event{}, false
	}
	exec, err := h.executions.Get(ctx, executionID)
	if err != nil || !exec.Status.IsTerminal() {
		return domain.Event{}, false
	}

	ts := exec.SubmittedAt
	if exec.CompletedAt != nil {
		ts = *exec.CompletedAt
	}
	return domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventTypeExecutionFinished,
		ExecutionID: executionID,
		Timestamp:   ts,
		Data:        map[string]any{"status": string(exec.Status)},
	}, true
}

func (h *Handler) write(conn *websocket.Conn, event domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Debug("failed to write message",
			zap.String("execution_id", event.ExecutionID),
			zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) close(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"),
		time.Now().Add(writeWait))
}
