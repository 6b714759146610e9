// Package errors provides the unified error type for mmalkit.
//
// Every failure surfaced by the pipeline engine is an *AppError carrying a
// machine-readable code. The codes cover the pipeline taxonomy:
//
//   - COMPONENT_STATE: native enable/disable/configure failed; abort the build
//   - FORMAT_COMMIT: port format rejected even after rollback
//   - BUFFER_PROTOCOL: buffer ownership invariant broken (programming error)
//   - STARVATION: pool exhausted; reported as an event, never returned
//   - PIPELINE_FAILED: aggregated failure of a running capture
//
// AppError implements Is by code, so errors.Is works against a prototype:
//
//	if errors.Is(err, apperrors.FormatCommit("", nil)) { ... }
package errors
