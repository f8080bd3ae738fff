package logger

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runnerIDKey  contextKey = "runner_id"
)

// ContextWithRequestID stores the id of the API request being served.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id stored by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey)
}

// ContextWithRunnerID stores the id of the runner processing jobs under ctx.
func ContextWithRunnerID(ctx context.Context, runnerID string) context.Context {
	return context.WithValue(ctx, runnerIDKey, runnerID)
}

// RunnerIDFromContext returns the runner id stored by ContextWithRunnerID, or "".
func RunnerIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, runnerIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}

// contextFields returns the key-value pairs WithContext attaches to a logger.
func contextFields(ctx context.Context) []any {
	var fields []any
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if runnerID := RunnerIDFromContext(ctx); runnerID != "" {
		fields = append(fields, "runner_id", runnerID)
	}
	return fields
}
