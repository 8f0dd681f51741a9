package monitoring

import (
	"sync"
	"time"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorEvent represents a single error occurrence at a component boundary
type ErrorEvent struct {
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Severity  ErrorSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Err       error          `json:"-"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemEvent is a breadcrumb-level occurrence: startup, shutdown,
// connection lifecycle, bus reconnects.
type SystemEvent struct {
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type (
	ErrorHook func(ErrorEvent)
	EventHook func(SystemEvent)
)

// Hooks fans error and system events out to external reporters.
type Hooks struct {
	errorHooks []ErrorHook
	eventHooks []EventHook

	mu sync.RWMutex
}

func NewHooks() *Hooks {
	return &Hooks{}
}

// AddErrorHook adds a new hook for error events
func (h *Hooks) AddErrorHook(hook ErrorHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHooks = append(h.errorHooks, hook)
}

// AddEventHook adds a new hook for system events
func (h *Hooks) AddEventHook(hook EventHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.eventHooks = append(h.eventHooks, hook)
}

// TriggerError calls every error hook on its own goroutine so a slow
// reporter never stalls the caller.
func (h *Hooks) TriggerError(event ErrorEvent) {
	h.mu.RLock()
	hooks := make([]ErrorHook, len(h.errorHooks))
	copy(hooks, h.errorHooks)
	h.mu.RUnlock()

	for _, hook := range hooks {
		go hook(event)
	}
}

func (h *Hooks) TriggerEvent(event SystemEvent) {
	h.mu.RLock()
	hooks := make([]EventHook, len(h.eventHooks))
	copy(hooks, h.eventHooks)
	h.mu.RUnlock()

	for _, hook := range hooks {
		go hook(event)
	}
}
