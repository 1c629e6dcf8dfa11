// Package builtin registers the source handlers compiled into boardbot.
package builtin

import (
	"boardbot/internal/source"
	"boardbot/internal/source/issues"
	"boardbot/internal/source/publish"
	"boardbot/internal/source/reminder"
	"boardbot/internal/source/validator"
)

// DefaultRegistry returns a registry with every built-in handler.
func DefaultRegistry() *source.Registry {
	return source.NewRegistry().MustRegister(
		issues.Descriptor(),
		publish.Descriptor(),
		reminder.Descriptor(),
		validator.Descriptor(),
	)
}
