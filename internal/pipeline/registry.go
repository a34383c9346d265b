package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/joseph-ayodele/ocr-service/internal/extract"
)

// Factory builds an engine. It runs at most once successfully per registered name.
type Factory func(ctx context.Context) (extract.Engine, error)

type engineSlot struct {
	mu      sync.Mutex // serializes construction
	factory Factory
	engine  extract.Engine
}

// Registry owns the process-wide engines. Engines are built on first use and
// then shared by every request. A failed build is not remembered, so the next
// request retries it.
type Registry struct {
	mu     sync.RWMutex
	slots  map[string]*engineSlot
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{slots: make(map[string]*engineSlot), logger: logger}
}

// Register makes name available. Registering the same name again replaces the factory
// only if the engine has not been built yet.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[name]; ok {
		s.mu.Lock()
		if s.engine == nil {
			s.factory = f
		}
		s.mu.Unlock()
		return
	}
	r.slots[name] = &engineSlot{factory: f}
}

// Configured reports whether name has a factory.
func (r *Registry) Configured(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[name]
	return ok
}

// Names lists registered engines in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.slots))
	for n := range r.slots {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Get returns the engine for name, building it on first use.
func (r *Registry) Get(ctx context.Context, name string) (extract.Engine, error) {
	r.mu.RLock()
	s, ok := r.slots[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine %q is not registered", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return s.engine, nil
	}
	e, err := s.factory(ctx)
	if err != nil {
		r.logger.Error("pipeline.engine.init_failed", "engine", name, "error", err)
		return nil, err
	}
	r.logger.Info("pipeline.engine.initialized", "engine", name)
	s.engine = e
	return e, nil
}

// Close releases every built engine that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, s := range r.slots {
		s.mu.Lock()
		if c, ok := s.engine.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("engine close error", "engine", name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		s.engine = nil
		s.mu.Unlock()
	}
	return firstErr
}
