package logger

import "sync"

// named holds the loggers handed out by Get, keyed by component name.
var named sync.Map

// Register makes Get(name) return l.
func Register(name string, l *Logger) {
	named.Store(name, l)
}

// Get returns the logger for a component. The first call for an unknown
// name derives one from the global logger and keeps it, so every caller
// of Get("camera") shares the same instance until the next Init.
func Get(name string) *Logger {
	if l, ok := named.Load(name); ok {
		return l.(*Logger)
	}
	l, _ := named.LoadOrStore(name, GetGlobalLogger().WithComponent(name))
	return l.(*Logger)
}

// Reset forgets every named logger.
func Reset() {
	named.Range(func(k, _ any) bool {
		named.Delete(k)
		return true
	})
}
