// Package plugin lets external code observe test execution through action
// handlers registered explicitly at startup.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/lane"
)

// Action types passed to Handler.Handle.
const (
	ActionStepStart = "yaml_action_start"
	ActionStepEnd   = "yaml_action_end"
	TestCaseStart   = "test_case_start"
	TestCaseStop    = "test_case_stop"
)

// Action describes what is happening. Keys depend on the action type.
type Action map[string]any

// Handler receives lifecycle actions for every lane session.
type Handler interface {
	Startup() error
	Handle(sessionID uuid.UUID, actionType string, action Action) error
	Finalize() error
}

// Factory builds a handler from free-form settings.
type Factory func(settings map[string]any) (Handler, error)

// Registry maps handler names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names lists registered handler names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds the named handler.
func (r *Registry) Create(name string, settings map[string]any) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action handler %q is not registered", name)
	}
	return factory(settings)
}

// CreateAll builds one handler per registered name, in name order.
func (r *Registry) CreateAll(settings map[string]any) (Handlers, error) {
	var handlers Handlers
	for _, name := range r.Names() {
		h, err := r.Create(name, settings)
		if err != nil {
			return nil, fmt.Errorf("create action handler %s: %w", name, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// CreateNamed builds the handlers listed in names, in the given order.
func (r *Registry) CreateNamed(names []string, settings map[string]any) (Handlers, error) {
	handlers := make(Handlers, 0, len(names))
	for _, name := range names {
		h, err := r.Create(name, settings)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Handlers fans actions out to several handlers.
type Handlers []Handler

// Startup starts every handler, stopping at the first error.
func (hs Handlers) Startup() error {
	for _, h := range hs {
		if err := h.Startup(); err != nil {
			return err
		}
	}
	return nil
}

// Handle delivers an action to every handler. Handler errors are logged and
// never interrupt the test.
func (hs Handlers) Handle(logger *zap.Logger, sessionID uuid.UUID, actionType string, action Action) {
	for _, h := range hs {
		if err := h.Handle(sessionID, actionType, action); err != nil {
			logger.Warn("action handler failed", zap.String("action", actionType), zap.Error(err))
		}
	}
}

// Finalize finalizes every handler and returns the first error.
func (hs Handlers) Finalize() error {
	var first error
	for _, h := range hs {
		if err := h.Finalize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type handlersKey struct{}

// Attach makes hs available to code running on lc.
func Attach(lc *lane.Context, hs Handlers) {
	lc.SetValue(handlersKey{}, hs)
}

// Notify sends an action for lc's session to the handlers attached to it.
func Notify(lc *lane.Context, actionType string, action Action) {
	v, ok := lc.Value(handlersKey{})
	if !ok {
		return
	}
	hs, _ := v.(Handlers)
	if len(hs) == 0 {
		return
	}
	hs.Handle(lc.Logger, lc.SessionID, actionType, action)
}
