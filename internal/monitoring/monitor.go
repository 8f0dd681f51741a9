package monitoring

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Monitor is the observability collaborator handed to every component.
// Components report at their boundaries through Error and Event instead of
// logging and counting inline.
type Monitor struct {
	logger  *slog.Logger
	hooks   *Hooks
	metrics *Metrics
}

func New(logger *slog.Logger, registerer prometheus.Registerer) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:  logger,
		hooks:   NewHooks(),
		metrics: NewMetrics(registerer),
	}
}

// NewNop returns a Monitor that discards logs and registers no metrics.
func NewNop() *Monitor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func (m *Monitor) Logger() *slog.Logger { return m.logger }
func (m *Monitor) Hooks() *Hooks        { return m.hooks }
func (m *Monitor) Metrics() *Metrics    { return m.metrics }

// Error logs err with its component and action, then notifies error hooks.
func (m *Monitor) Error(component, action string, err error, attrs ...any) {
	m.report(SeverityError, slog.LevelError, component, action, err, attrs)
}

// Warn is Error for conditions that are expected in normal operation.
func (m *Monitor) Warn(component, action string, err error, attrs ...any) {
	m.report(SeverityWarning, slog.LevelWarn, component, action, err, attrs)
}

// Event records a breadcrumb at info level and notifies event hooks.
func (m *Monitor) Event(kind, message string, attrs ...any) {
	m.logger.Info(message, append([]any{"event", kind}, attrs...)...)
	m.hooks.TriggerEvent(SystemEvent{
		Kind:       kind,
		Message:    message,
		Properties: attrsToMap(attrs),
		Timestamp:  time.Now(),
	})
}

func (m *Monitor) report(severity ErrorSeverity, level slog.Level, component, action string, err error, attrs []any) {
	logAttrs := append([]any{"component", component, "action", action}, attrs...)
	msg := action + " failed"
	if err != nil {
		logAttrs = append(logAttrs, "error", err)
	}
	m.logger.Log(context.Background(), level, msg, logAttrs...)

	event := ErrorEvent{
		Component: component,
		Action:    action,
		Severity:  severity,
		Err:       err,
		Context:   attrsToMap(attrs),
		Timestamp: time.Now(),
	}
	if err != nil {
		event.Message = err.Error()
	}
	m.hooks.TriggerError(event)
}

// attrsToMap folds slog-style key/value pairs into a map for hooks.
func attrsToMap(attrs []any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		if key, ok := attrs[i].(string); ok {
			out[key] = attrs[i+1]
		}
	}
	return out
}
