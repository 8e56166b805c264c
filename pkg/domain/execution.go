package domain

import "time"

// StepStatus is the outcome of one attempted step
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusSuccess        StepStatus = "success"
	StepStatusError          StepStatus = "error"
	StepStatusPartialSuccess StepStatus = "partial_success"
)

// Verdict is the overall outcome of one graph execution
type Verdict string

const (
	VerdictCompleted      Verdict = "completed"
	VerdictPartialSuccess Verdict = "partial_success"
	VerdictFailed         Verdict = "failed"
)

func (v Verdict) rank() int {
	switch v {
	case VerdictPartialSuccess:
		return 1
	case VerdictFailed:
		return 2
	default:
		return 0
	}
}

// Worsen returns the worse of the two verdicts. A verdict never improves.
func (v Verdict) Worsen(other Verdict) Verdict {
	if other.rank() > v.rank() {
		return other
	}
	return v
}

// StepStatus maps a nested verdict onto the status of the step that ran it
func (v Verdict) StepStatus() StepStatus {
	switch v {
	case VerdictCompleted:
		return StepStatusSuccess
	case VerdictPartialSuccess:
		return StepStatusPartialSuccess
	default:
		return StepStatusError
	}
}

// Error kinds recorded on log entries
const (
	ErrorKindCycle             = "cycle"
	ErrorKindMissingParameter  = "missing_parameter"
	ErrorKindTypeCoercion      = "type_coercion"
	ErrorKindRemote            = "remote"
	ErrorKindTimeout           = "timeout"
	ErrorKindTransport         = "transport"
	ErrorKindProtocol          = "protocol"
	ErrorKindUnknownCapability = "unknown_capability"
	ErrorKindDirectory         = "directory"
	ErrorKindValidation        = "validation"
	ErrorKindRecursion         = "recursion"
	ErrorKindCanceled          = "canceled"
	ErrorKindInternal          = "internal"
)

// OrchestratorStepID names the orchestration itself as the failure point
const OrchestratorStepID = "orchestrator"

// LogEntry records one attempted step, or one fan-out item
type LogEntry struct {
	StepID        string         `json:"step_id"`
	Agent         string         `json:"agent,omitempty"`
	Method        string         `json:"method,omitempty"`
	Status        StepStatus     `json:"status"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	DurationMS    float64        `json:"duration_ms"`
	Children      []LogEntry     `json:"children,omitempty"`
}

// ErrorInfo explains why a graph was rejected before running
type ErrorInfo struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message"`
	Steps   []string `json:"steps,omitempty"`
}

// Result is the outcome of one Execute call
type Result struct {
	Verdict    Verdict        `json:"verdict"`
	Logs       []LogEntry     `json:"logs"`
	FinalState map[string]any `json:"final_state"`
	Error      *ErrorInfo     `json:"error,omitempty"`
}

// ExecutionStatus tracks a submitted execution through its lifecycle
type ExecutionStatus string

const (
	ExecutionStatusPending        ExecutionStatus = "pending"
	ExecutionStatusRunning        ExecutionStatus = "running"
	ExecutionStatusCompleted      ExecutionStatus = "completed"
	ExecutionStatusPartialSuccess ExecutionStatus = "partial_success"
	ExecutionStatusFailed         ExecutionStatus = "failed"
	ExecutionStatusCancelled      ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution has finished
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusPartialSuccess,
		ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is the stored record of one orchestrated run
type Execution struct {
	ID          string          `json:"id"`
	Status      ExecutionStatus `json:"status"`
	Graph       *Graph          `json:"graph,omitempty"`
	Inputs      map[string]any  `json:"inputs,omitempty"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// EventType identifies an execution event
type EventType string

const (
	EventTypeExecutionStarted  EventType = "execution.started"
	EventTypeStepStarted       EventType = "step.started"
	EventTypeStepFinished      EventType = "step.finished"
	EventTypeExecutionFinished EventType = "execution.finished"
)

// Event is published on the event bus while executions run
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}
