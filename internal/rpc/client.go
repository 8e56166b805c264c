// Package rpc invokes remote capabilities over a JSON-RPC 2.0 envelope and
// classifies failures into transport, timeout, remote and protocol errors.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	jsonRPCVersion = "2.0"

	// CorrelationHeader carries the correlation id next to the envelope id
	CorrelationHeader = "X-Correlation-ID"

	defaultMaxBodyBytes = 16 << 20
	maxErrorBodyBytes   = 512
)

// Timeouts is the per-call deadline budget. Connect bounds dialing and the TLS
// handshake, Read bounds the wait for response headers. Write and Pool have no
// dedicated knob in net/http and only widen the overall call deadline, which
// is the sum of all four.
type Timeouts struct {
	Connect time.Duration
	Write   time.Duration
	Pool    time.Duration
	Read    time.Duration
}

// DefaultTimeouts returns the uniform default budget
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: 5 * time.Second,
		Write:   10 * time.Second,
		Pool:    5 * time.Second,
		Read:    10 * time.Second,
	}
}

// Total returns the overall deadline for one call
func (t Timeouts) Total() time.Duration {
	return t.Connect + t.Write + t.Pool + t.Read
}

// orElse fills zero fields of t from d
func (t Timeouts) orElse(d Timeouts) Timeouts {
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Write <= 0 {
		t.Write = d.Write
	}
	if t.Pool <= 0 {
		t.Pool = d.Pool
	}
	if t.Read <= 0 {
		t.Read = d.Read
	}
	return t
}

// Config holds client configuration
type Config struct {
	// Timeouts is the default budget for every call
	Timeouts Timeouts
	// Overrides replaces the budget for "agent.method" targets known to be slow
	Overrides map[string]Timeouts
	// MaxBodyBytes caps the response size read from a callee
	MaxBodyBytes int64
}

// Call describes one invocation
type Call struct {
	Address       string
	Capability    string
	Method        string
	Params        map[string]any
	CorrelationID string

	// Timeouts overrides the configured budget field by field
	Timeouts Timeouts
}

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      string         `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
}

// Client invokes JSON-RPC endpoints
type Client struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	clients map[Timeouts]*http.Client
}

// NewClient creates a new invocation client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Timeouts = cfg.Timeouts.orElse(DefaultTimeouts())
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Client{
		config:  cfg,
		logger:  logger.With(zap.String("component", "rpc_client")),
		clients: make(map[Timeouts]*http.Client),
	}
}

// CorrelationID tags a call with its step id and, for fan-out items, the item index
func CorrelationID(stepID string, index int) string {
	if index < 0 {
		return stepID
	}
	return fmt.Sprintf("%s#%d", stepID, index)
}

// TimeoutsFor resolves the budget of a call: configured override for the
// target first, then the call's own fields, then the defaults
func (c *Client) TimeoutsFor(call Call) Timeouts {
	if o, ok := c.config.Overrides[call.Capability+"."+call.Method]; ok {
		return o.orElse(call.Timeouts).orElse(c.config.Timeouts)
	}
	return call.Timeouts.orElse(c.config.Timeouts)
}

// Invoke sends call and returns the decoded result
func (c *Client) Invoke(ctx context.Context, call Call) (any, error) {
	timeouts := c.TimeoutsFor(call)

	params := call.Params
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		Method:  call.Method,
		Params:  params,
		ID:      call.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.Total())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, call.Address, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Address: call.Address, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if call.CorrelationID != "" {
		req.Header.Set(CorrelationHeader, call.CorrelationID)
	}

	start := time.Now()
	c.logger.Debug("invoking capability",
		zap.String("address", call.Address),
		zap.String("capability", call.Capability),
		zap.String("method", call.Method),
		zap.String("correlation_id", call.CorrelationID))

	resp, err := c.httpClient(timeouts).Do(req)
	if err != nil {
		return nil, c.classify(ctx, call, timeouts, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		return nil, c.classify(ctx, call, timeouts, err)
	}

	result, err := decode(resp.StatusCode, data)

	c.logger.Debug("capability replied",
		zap.String("correlation_id", call.CorrelationID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("outcome", Outcome(err)))

	return result, err
}

// Close releases idle connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hc := range c.clients {
		hc.CloseIdleConnections()
	}
}

func (c *Client) httpClient(t Timeouts) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[t]; ok {
		return hc
	}

	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}
	hc := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   t.Connect,
			ResponseHeaderTimeout: t.Read,
			ExpectContinueTimeout: time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   16,
		},
	}
	c.clients[t] = hc
	return hc
}

func (c *Client) classify(parent context.Context, call Call, t Timeouts, err error) error {
	if cause := parent.Err(); cause != nil {
		return fmt.Errorf("invocation of %s.%s aborted: %w", call.Capability, call.Method, cause)
	}

	phase := "read"
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		phase = "connect"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		budget := t.Read
		if phase == "connect" {
			budget = t.Connect
		}
		c.logger.Warn("capability call timed out",
			zap.String("address", call.Address),
			zap.String("correlation_id", call.CorrelationID),
			zap.String("phase", phase))
		return &TimeoutError{Address: call.Address, Phase: phase, Timeout: budget.String(), Err: err}
	}

	c.logger.Warn("capability unreachable",
		zap.String("address", call.Address),
		zap.String("correlation_id", call.CorrelationID),
		zap.Error(err))
	return &TransportError{Address: call.Address, Err: err}
}

func decode(status int, data []byte) (any, error) {
	var env response
	parseErr := json.Unmarshal(data, &env)

	if status < 200 || status >= 300 {
		if parseErr == nil && env.Error != nil {
			env.Error.HTTPStatus = status
			return nil, env.Error
		}
		return nil, &ProtocolError{StatusCode: status, Body: truncate(data), Reason: "non-success status"}
	}

	if parseErr != nil {
		return nil, &ProtocolError{StatusCode: status, Body: truncate(data), Reason: "invalid JSON-RPC response"}
	}
	if env.Error != nil {
		env.Error.HTTPStatus = status
		return nil, env.Error
	}
	if env.Result == nil {
		return nil, &ProtocolError{StatusCode: status, Body: truncate(data), Reason: "response has neither result nor error"}
	}

	var result any
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, &ProtocolError{StatusCode: status, Reason: "undecodable result"}
	}
	return result, nil
}

func truncate(data []byte) string {
	if len(data) > maxErrorBodyBytes {
		return string(data[:maxErrorBodyBytes]) + "..."
	}
	return string(data)
}
