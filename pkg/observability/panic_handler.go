package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the stack trace. Meant
// for deferred use in background goroutines, where an unrecovered panic
// would take the whole process down:
//
//	defer observability.RecoverPanic(logger, "expiry cleanup")
//
// The panic is swallowed after logging; the goroutine returns normally.
func RecoverPanic(logger *Logger, operation string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("operation", operation).
			Error("panic recovered")
	}
}
