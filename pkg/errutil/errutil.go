package errutil

import (
	"fmt"

	"github.com/small-frappuccino/productdock/pkg/log"
)

// Helpers that run an operation and log any failure with context before
// handing the error back to the caller. They keep call sites flat: the caller
// decides propagation, the helper guarantees the failure is on record.

// HandleDiscordError executes fn and logs any error as a Discord-related failure.
// It returns whatever error fn returns, unmodified.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.ErrorLoggerRaw().Error("Discord operation failed", "operation", operation, "error", err)
	return err
}

// HandleConfigError executes fn and logs any error as a configuration failure.
// It returns a wrapped error with the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.ErrorLoggerRaw().Error("Config operation failed", "operation", operation, "path", path, "error", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}

// HandleStorageError executes fn and logs any error as a persistence failure.
// It returns a wrapped error with the operation.
func HandleStorageError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}

	log.DatabaseLogger().Error("Storage operation failed", "operation", operation, "error", err)
	return fmt.Errorf("storage %s: %w", operation, err)
}
