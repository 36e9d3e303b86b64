package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Factory creates a device instance. Settings come from the device's
// Options and are opaque to the conductor.
type Factory func(id string, settings map[string]any) (Device, error)

// Registry maps device types to factories.
//
// All public methods are thread-safe.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    Logger
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a factory for deviceType.
// Returns ErrFactoryExists if the type is already registered.
func (r *Registry) Register(deviceType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[deviceType]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, deviceType)
	}
	r.factories[deviceType] = factory

	r.logger.Debug("device factory registered", "device_type", deviceType)
	return nil
}

// Lookup returns the factory for deviceType.
func (r *Registry) Lookup(deviceType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[deviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, deviceType)
	}
	return f, nil
}

// Create instantiates a device of deviceType.
func (r *Registry) Create(deviceType, id string, settings map[string]any) (Device, error) {
	f, err := r.Lookup(deviceType)
	if err != nil {
		return nil, err
	}

	dev, err := f(id, settings)
	if err != nil {
		return nil, fmt.Errorf("creating %s device %q: %w", deviceType, id, err)
	}

	r.logger.Info("device created", "device_id", id, "device_type", deviceType)
	return dev, nil
}

// Types returns the registered device types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
