package beamkit

import "go.uber.org/zap"

// Logger is the structured-logging seam every component accepts via its
// options struct. It is satisfied directly by *zap.SugaredLogger; callers
// embedded in the retrieval pack (webitel-im-delivery-service) wire zap
// the same way. NewNopLogger is the default when a caller supplies none.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// NewNopLogger returns a Logger that discards everything, so components
// never need a nil check before logging.
func NewNopLogger() Logger {
	return zap.NewNop().Sugar()
}

// NewProductionLogger returns a zap-backed Logger suitable for real
// deployments; it never returns an error, falling back to a nop logger if
// zap construction somehow fails (it practically never does with defaults).
func NewProductionLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return NewNopLogger()
	}
	return l.Sugar()
}
