// Package logger provides structured logging for mmalkit using zerolog.
//
// Loggers are component-scoped: the media core, the pipeline coordinator,
// the camera session and the simulated engine each log through a logger
// tagged with their component name. Fields are passed as maps so that call
// sites read the same everywhere.
//
// # Configuration
//
//	logging:
//	  level: "debug"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("mmal")
//	log.Warn("buffer pool exhausted", logger.PortFields(name, size, 0))
package logger
