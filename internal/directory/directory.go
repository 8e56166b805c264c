// Package directory resolves capability names to descriptors. Composite
// definitions from the composite store are consulted first; everything else
// is read through a TTL cache in front of the JSON-RPC agent registry.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/a2aflow/internal/rpc"
	"github.com/aescanero/a2aflow/pkg/domain"
	"github.com/aescanero/a2aflow/pkg/ports"
)

const (
	methodListAgents = "list_agents"
	methodGetAgent   = "get_agent"
)

var (
	// ErrUnavailable marks a registry that could not answer
	ErrUnavailable = errors.New("capability directory unavailable")
	// ErrUnknownCapability groups UnknownCapabilityError values
	ErrUnknownCapability = errors.New("unknown capability")
)

// UnknownCapabilityError is returned when a capability or one of its methods cannot be resolved
type UnknownCapabilityError struct {
	Name   string
	Method string
}

func (e *UnknownCapabilityError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s: %s has no method %s", ErrUnknownCapability.Error(), e.Name, e.Method)
	}
	return fmt.Sprintf("%s: %s", ErrUnknownCapability.Error(), e.Name)
}

func (e *UnknownCapabilityError) Unwrap() error { return ErrUnknownCapability }

// Invoker sends one JSON-RPC call
type Invoker interface {
	Invoke(ctx context.Context, call rpc.Call) (any, error)
}

// Config holds directory configuration
type Config struct {
	RegistryURL string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

type cacheEntry struct {
	descriptor domain.Descriptor
	expires    time.Time
}

// Directory is a read-through cache over the agent registry
type Directory struct {
	registry   Invoker
	composites ports.CompositeStore
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a directory. composites may be nil.
func New(cfg Config, registry Invoker, composites ports.CompositeStore, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Directory{
		registry:   registry,
		composites: composites,
		config:     cfg,
		logger:     logger.With(zap.String("component", "directory")),
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// Lookup resolves name to its descriptor
func (d *Directory) Lookup(ctx context.Context, name string) (*domain.Descriptor, error) {
	if desc, err := d.lookupComposite(ctx, name); err != nil || desc != nil {
		return desc, err
	}

	if desc, ok := d.cached(name); ok {
		return desc, nil
	}

	result, err := d.call(ctx, methodGetAgent, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}

	if isEmpty(result) {
		return nil, &UnknownCapabilityError{Name: name}
	}

	var desc domain.Descriptor
	if err := convert(result, &desc); err != nil {
		return nil, fmt.Errorf("%w: malformed card for %s: %w", ErrUnavailable, name, err)
	}
	if desc.Name == "" {
		desc.Name = name
	}

	d.store(name, desc)
	return &desc, nil
}

// ListAll returns every registry capability followed by the composites not
// shadowing a registry name
func (d *Directory) ListAll(ctx context.Context) ([]domain.Descriptor, error) {
	result, err := d.call(ctx, methodListAgents, map[string]any{})
	if err != nil {
		return nil, err
	}

	var cards []domain.Descriptor
	if result != nil {
		if err := convert(result, &cards); err != nil {
			return nil, fmt.Errorf("%w: malformed agent list: %w", ErrUnavailable, err)
		}
	}

	composites, err := d.loadComposites(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Descriptor, 0, len(cards)+len(composites))
	for _, card := range cards {
		if def, ok := composites[card.Name]; ok {
			out = append(out, *domain.CompositeDescriptor(def))
			delete(composites, card.Name)
			continue
		}
		d.store(card.Name, card)
		out = append(out, card)
	}
	for _, name := range slices.Sorted(maps.Keys(composites)) {
		out = append(out, *domain.CompositeDescriptor(composites[name]))
	}

	return out, nil
}

// Refresh drops the cache and reloads it from list_agents
func (d *Directory) Refresh(ctx context.Context) (int, error) {
	d.mu.Lock()
	d.cache = make(map[string]cacheEntry)
	d.mu.Unlock()

	all, err := d.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	d.logger.Info("directory refreshed", zap.Int("capabilities", len(all)))
	return len(all), nil
}

// Invalidate drops one cached descriptor
func (d *Directory) Invalidate(name string) {
	d.mu.Lock()
	delete(d.cache, name)
	d.mu.Unlock()
}

func (d *Directory) lookupComposite(ctx context.Context, name string) (*domain.Descriptor, error) {
	composites, err := d.loadComposites(ctx)
	if err != nil {
		return nil, err
	}
	if def, ok := composites[name]; ok {
		return domain.CompositeDescriptor(def), nil
	}
	return nil, nil
}

func (d *Directory) loadComposites(ctx context.Context) (map[string]*domain.CompositeDefinition, error) {
	if d.composites == nil {
		return map[string]*domain.CompositeDefinition{}, nil
	}
	defs, err := d.composites.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: composite store: %w", ErrUnavailable, err)
	}
	if defs == nil {
		defs = map[string]*domain.CompositeDefinition{}
	}
	return defs, nil
}

func (d *Directory) cached(name string) (*domain.Descriptor, bool) {
	d.mu.RLock()
	entry, ok := d.cache[name]
	d.mu.RUnlock()

	if !ok || !d.now().Before(entry.expires) {
		return nil, false
	}
	desc := entry.descriptor
	return &desc, true
}

func (d *Directory) store(name string, desc domain.Descriptor) {
	d.mu.Lock()
	d.cache[name] = cacheEntry{descriptor: desc, expires: d.now().Add(d.config.CacheTTL)}
	d.mu.Unlock()
}

func (d *Directory) call(ctx context.Context, method string, params map[string]any) (any, error) {
	result, err := d.registry.Invoke(ctx, rpc.Call{
		Address:       d.config.RegistryURL,
		Capability:    "registry",
		Method:        method,
		Params:        params,
		CorrelationID: method,
		Timeouts:      rpc.Timeouts{Connect: d.config.Timeout, Read: d.config.Timeout},
	})
	if err != nil {
		d.logger.Warn("registry call failed",
			zap.String("method", method),
			zap.String("registry_url", d.config.RegistryURL),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return result, nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	}
	return false
}

// convert re-decodes a generic JSON value into a typed structure
func convert(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
