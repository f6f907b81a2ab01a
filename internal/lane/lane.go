// Package lane defines the state a single virtual user carries through its
// iterations and the errors scenario code uses to report outcomes.
package lane

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/torosent/crankloop/internal/recorder"
)

// Context is created once per lane and handed explicitly to everything that
// runs on the lane. It is never shared between lanes, so it needs no locking.
type Context struct {
	// Index is the lane's position across the whole run.
	Index int
	// LocalIndex is the lane's position within its process.
	LocalIndex int
	// Total is the run's total concurrency.
	Total int
	// Worker is the index of the hosting process.
	Worker int
	// Iteration counts completed iterations, starting at 0.
	Iteration int

	SessionID uuid.UUID
	Recorder  *recorder.Recorder
	Logger    *zap.Logger

	vars   map[string]string
	values map[any]any
}

// New returns a context for the lane at global index with a fresh recorder.
func New(index, total int, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Index:     index,
		Total:     total,
		SessionID: uuid.New(),
		Recorder:  recorder.New(),
		Logger:    logger.With(zap.Int("lane", index)),
		vars:      make(map[string]string),
		values:    make(map[any]any),
	}
}

// Set stores a named string variable, e.g. a value extracted from a response.
func (c *Context) Set(key, value string) {
	c.vars[key] = value
}

// Get returns a variable set with Set.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Merge overlays the lane's variables on record; variables win.
func (c *Context) Merge(record map[string]string) map[string]string {
	out := make(map[string]string, len(record)+len(c.vars))
	for k, v := range record {
		out[k] = v
	}
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Value returns a lane-scoped object stored under key.
func (c *Context) Value(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// SetValue stores a lane-scoped object, such as a per-lane data reader.
func (c *Context) SetValue(key, value any) {
	c.values[key] = value
}
