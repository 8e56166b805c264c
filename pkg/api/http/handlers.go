package http

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/application/orchestrator"
	"github.com/aescanero/a2aflow/internal/application/workers"
	"github.com/aescanero/a2aflow/internal/scheduler"
	"github.com/aescanero/a2aflow/pkg/adapters/composites"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

// WorkflowRequest carries a graph and its initial state
type WorkflowRequest struct {
	Graph  *domain.Graph  `json:"graph" binding:"required"`
	Inputs map[string]any `json:"inputs"`
}

// RunResponse is the outcome of a synchronous run
type RunResponse struct {
	ExecutionID string            `json:"execution_id"`
	Verdict     domain.Verdict    `json:"verdict"`
	Logs        []domain.LogEntry `json:"logs"`
	FinalState  map[string]any    `json:"final_state"`
	Error       *domain.ErrorInfo `json:"error,omitempty"`
}

// SubmitResponse acknowledges an asynchronous submission
type SubmitResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

// graphError answers a graph rejected before execution
func graphError(c *gin.Context, err error) {
	detail := ErrorDetail{Code: "INVALID_GRAPH", Message: err.Error()}
	var cycle *scheduler.CycleError
	if errors.As(err, &cycle) {
		detail.Code = "CYCLE_DETECTED"
		detail.Details = gin.H{"steps": cycle.Steps}
	}
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: detail})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"orchestrator": "ok"}
	status := http.StatusOK
	if s.health != nil {
		pool := s.health.GetStatus()
		checks["workers"] = pool
		if !pool.Healthy {
			status = http.StatusServiceUnavailable
		}
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleListCapabilities lists every capability the directory knows
func (s *Server) handleListCapabilities(c *gin.Context) {
	all, err := s.capabilities.ListAll(c.Request.Context())
	if err != nil {
		s.logger.Warn("failed to list capabilities", zap.Error(err))
		abort(c, http.StatusBadGateway, "DIRECTORY_UNAVAILABLE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  all,
		"total": len(all),
	})
}

// handleRefreshCapabilities reloads the directory cache
func (s *Server) handleRefreshCapabilities(c *gin.Context) {
	n, err := s.capabilities.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Warn("failed to refresh capabilities", zap.Error(err))
		abort(c, http.StatusBadGateway, "DIRECTORY_UNAVAILABLE", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

// handleListComposites lists stored composite definitions by name
func (s *Server) handleListComposites(c *gin.Context) {
	defs, err := s.composites.LoadAll(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to load composites", zap.Error(err))
		abort(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}

	out := make([]*domain.CompositeDefinition, 0, len(defs))
	for _, def := range defs {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b *domain.CompositeDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})

	c.JSON(http.StatusOK, gin.H{
		"data":  out,
		"total": len(out),
	})
}

// handleSaveComposite creates or replaces a composite definition
func (s *Server) handleSaveComposite(c *gin.Context) {
	name := c.Param("name")

	var def domain.CompositeDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	if err := s.composites.Save(c.Request.Context(), name, &def); err != nil {
		if errors.Is(err, composites.ErrInvalidDefinition) {
			if errors.Is(err, scheduler.ErrCycle) {
				graphError(c, err)
				return
			}
			abort(c, http.StatusUnprocessableEntity, "INVALID_COMPOSITE", err)
			return
		}
		s.logger.Error("failed to save composite", zap.String("composite", name), zap.Error(err))
		abort(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}
	s.capabilities.Invalidate(name)

	s.logger.Info("composite saved", zap.String("composite", name))
	c.JSON(http.StatusOK, def)
}

// handleValidate schedules a graph without running it
func (s *Server) handleValidate(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	v, err := s.orchestrator.Validate(c.Request.Context(), req.Graph)
	if err != nil {
		graphError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      len(v.Unresolved) == 0,
		"validation": v,
	})
}

// handleRun executes a graph and waits for its result
func (s *Server) handleRun(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	exec, err := s.orchestrator.Run(c.Request.Context(), req.Graph, req.Inputs)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidGraph) {
			graphError(c, err)
			return
		}
		s.logger.Error("run failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, "RUN_FAILED", err)
		return
	}

	c.JSON(http.StatusOK, RunResponse{
		ExecutionID: exec.ID,
		Verdict:     exec.Result.Verdict,
		Logs:        exec.Result.Logs,
		FinalState:  exec.Result.FinalState,
		Error:       exec.Result.Error,
	})
}

// handleSubmit queues a graph for asynchronous execution
func (s *Server) handleSubmit(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	id, err := s.orchestrator.Submit(c.Request.Context(), req.Graph, req.Inputs)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrInvalidGraph):
		graphError(c, err)
		return
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolStopped):
		abort(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err)
		return
	default:
		s.logger.Error("failed to submit execution", zap.Error(err))
		abort(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		ExecutionID: id,
		Status:      string(domain.ExecutionStatusPending),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetExecution returns an execution record
func (s *Server) handleGetExecution(c *gin.Context) {
	exec, err := s.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			abort(c, http.StatusNotFound, "NOT_FOUND", err)
			return
		}
		abort(c, http.StatusInternalServerError, "STORE_ERROR", err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

// handleCancel cancels a queued or running execution
func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")

	if err := s.orchestrator.Cancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyFinished):
			abort(c, http.StatusConflict, "ALREADY_FINISHED", err)
		case errors.Is(err, ports.ErrNotFound):
			abort(c, http.StatusNotFound, "NOT_FOUND", err)
		default:
			abort(c, http.StatusInternalServerError, "CANCELLATION_FAILED", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": id,
		"status":       "cancelling",
	})
}
