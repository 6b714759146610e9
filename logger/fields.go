package logger

import (
	"time"
)

// Standard field key constants for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldSessionID = "session_id"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Pipeline field keys.
const (
	FieldPort       = "port"
	FieldPortType   = "port_type"
	FieldBuffer     = "buffer"
	FieldBufferLen  = "length"
	FieldFlags      = "flags"
	FieldPoolSize   = "pool_size"
	FieldFree       = "free"
	FieldState      = "state"
	FieldEncoding   = "encoding"
	FieldConnection = "connection"
	FieldExpected   = "expected"
	FieldPipeline   = "pipeline"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	logger.Info("done", logger.Fields("port", name, "free", 3))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldError:     err.Error(),
	}
}

// DurationFields creates fields for a timed operation.
func DurationFields(op string, d time.Duration) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldDuration:  d.Milliseconds(),
	}
}

// PortFields creates fields identifying a port and its pool occupancy.
func PortFields(port string, poolSize, free int) map[string]interface{} {
	return map[string]interface{}{
		FieldPort:     port,
		FieldPoolSize: poolSize,
		FieldFree:     free,
	}
}

// MergeWithError adds an error field to an existing map.
func MergeWithError(fields map[string]interface{}, err error) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields[FieldError] = err.Error()
	return fields
}
