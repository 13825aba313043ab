package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into an error carrying
// the stack trace.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	stack := debug.Stack()

	switch v := r.(type) {
	case error:
		return fmt.Errorf("panic: %w\n%s", v, stack)
	default:
		return fmt.Errorf("panic: %v\n%s", v, stack)
	}
}
