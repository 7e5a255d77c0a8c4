// Package runtime loads the reasoning model and runs generation against it.
//
// A Model owns native memory. Callers must Close it when done; Close is
// idempotent and releases everything the load acquired.
package runtime

import (
	"context"
	"errors"
)

var (
	// ErrOutOfMemory means the model could not be loaded for lack of RAM.
	ErrOutOfMemory = errors.New("insufficient memory to load model")
	// ErrModelClosed is returned by Generate after Close.
	ErrModelClosed = errors.New("model closed")
	// ErrEmptyCompletion means the server answered without any generated text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Runtime loads model artifacts.
type Runtime interface {
	Load(ctx context.Context, path string) (Model, error)
}

// Model is a loaded, resident model.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}
