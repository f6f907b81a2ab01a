package plugin

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogHandlerName is the name the log handler is registered under by Builtin.
const LogHandlerName = "log"

// LogHandler writes every action to a zap logger at debug level.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler returns a factory for LogHandler. The optional "level"
// setting switches to "info".
func NewLogHandler(logger *zap.Logger) Factory {
	return func(settings map[string]any) (Handler, error) {
		if logger == nil {
			logger = zap.NewNop()
		}
		h := &LogHandler{logger: logger.Named("actions")}
		if level, _ := settings["level"].(string); level == "info" {
			h.logger = h.logger.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
		}
		return h, nil
	}
}

func (h *LogHandler) Startup() error { return nil }

func (h *LogHandler) Handle(sessionID uuid.UUID, actionType string, action Action) error {
	fields := make([]zap.Field, 0, len(action)+2)
	fields = append(fields, zap.Stringer("session", sessionID), zap.String("type", actionType))
	for k, v := range action {
		fields = append(fields, zap.Any(k, v))
	}
	h.logger.Debug("action", fields...)
	return nil
}

func (h *LogHandler) Finalize() error {
	_ = h.logger.Sync()
	return nil
}

// Builtin returns a registry holding the handlers that ship with crankloop.
func Builtin(logger *zap.Logger) *Registry {
	r := NewRegistry()
	r.Register(LogHandlerName, NewLogHandler(logger))
	return r
}
