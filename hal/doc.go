// Package hal is the boundary between mmalkit and the native media engine.
//
// A Host opens the process-wide engine session and creates components.
// Components expose ports; ports carry a stream format, buffer sizing
// reported by the engine, and a callback through which the engine hands
// buffer headers back after processing them. Callbacks run on goroutines
// owned by the engine and must return quickly.
//
// The package holds interfaces and plain data only. hal/sim implements it
// in memory.
package hal
