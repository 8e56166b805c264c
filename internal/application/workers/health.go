package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExecutionCounter reports how many executions are in flight
type ExecutionCounter interface {
	Active() int
}

// HealthMonitor periodically samples the pool and the executions it serves
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	executions ExecutionCounter
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// HealthStatus is one sample of pool and execution load. Saturated means
// the submission queue is full and new executions are being rejected.
type HealthStatus struct {
	TotalWorkers     int       `json:"total_workers"`
	IdleWorkers      int       `json:"idle_workers"`
	BusyWorkers      int       `json:"busy_workers"`
	StoppedWorkers   int       `json:"stopped_workers"`
	QueuedJobs       int       `json:"queued_jobs"`
	QueueCapacity    int       `json:"queue_capacity"`
	ActiveExecutions int       `json:"active_executions"`
	Saturated        bool      `json:"saturated"`
	Healthy          bool      `json:"healthy"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a monitor for pool. A non-positive interval
// defaults to 30s.
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// TrackExecutions makes every sample include the in-flight execution count
// and keeps the active executions gauge in sync with it.
func (h *HealthMonitor) TrackExecutions(c ExecutionCounter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executions = c
}

// Start begins periodic sampling. Calling it twice is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.loop(h.stopCh, h.doneCh)
}

// Stop ends sampling and waits for the loop to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	<-done
}

func (h *HealthMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

// sample records one status to metrics and logs load problems
func (h *HealthMonitor) sample() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
	if h.counter() != nil {
		h.pool.metrics.SetActiveExecutions(status.ActiveExecutions)
	}

	h.logger.Debug("orchestrator load",
		zap.Int("busy", status.BusyWorkers),
		zap.Int("queued", status.QueuedJobs),
		zap.Int("active_executions", status.ActiveExecutions),
		zap.Bool("healthy", status.Healthy))

	switch {
	case !status.Healthy:
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("total", status.TotalWorkers))
	case status.Saturated:
		h.logger.Warn("submission queue is full, new executions are rejected",
			zap.Int("queue_capacity", status.QueueCapacity),
			zap.Int("active_executions", status.ActiveExecutions))
	}
}

func (h *HealthMonitor) counter() ExecutionCounter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.executions
}

// GetStatus returns a fresh sample
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueuedJobs:    h.pool.Pending(),
		QueueCapacity: cap(h.pool.queue),
		Timestamp:     time.Now(),
	}

	for _, ws := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch ws {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	if c := h.counter(); c != nil {
		status.ActiveExecutions = c.Active()
	}
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	status.Saturated = status.BusyWorkers == status.TotalWorkers &&
		status.QueuedJobs >= status.QueueCapacity && status.TotalWorkers > 0

	return status
}

// IsHealthy reports whether every worker is running
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
