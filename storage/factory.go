package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/logger"
)

// Factory creates a Storage backend from cfg.
type Factory func(cfg Config, log *logger.Logger) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a backend available to New under name.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Providers lists the registered backend names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New creates the backend selected by cfg.Provider. The backend package
// must have been imported so its factory is registered.
func New(cfg Config, log *logger.Logger) (Storage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.InvalidInput("storage.provider", fmt.Sprintf("%q is not registered", cfg.Provider))
	}

	l := log.WithComponent("storage")
	l.Info("initializing storage", logger.Fields("provider", cfg.Provider))
	s, err := f(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", cfg.Provider, err)
	}
	return s, nil
}
