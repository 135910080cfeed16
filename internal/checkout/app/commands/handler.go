package commands

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// Command is implemented by every checkout command.
type Command interface {
	Name() string
	Attributes() []attribute.KeyValue
}

// Handler executes a command and returns its result.
type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}
