package engine

import (
	"context"
	"io"

	"github.com/wippyai/testopt"
)

// Caller invokes an export from inside Library.Do
type Caller func(fn string, params ...uint64) (uint64, error)

// Library is the boundary to a loaded engine.
//
// A guest call may grow linear memory and move it. Any sequence that
// writes into engine memory, calls an export and reads the result back
// must therefore run inside Do, and Memory and Allocator must not be
// touched outside it while other goroutines use the library.
type Library interface {
	// Bootstrap runs the engine's one-time runtime initialization.
	// Calls after the first return the first result.
	Bootstrap(ctx context.Context) error

	// Memory returns the engine's linear memory
	Memory() testopt.Memory

	// Allocator returns the client allocator backed by engine exports
	Allocator() testopt.Allocator

	// Has reports whether the engine exports fn
	Has(fn string) bool

	// Call invokes an export and returns its first result, or 0 for
	// exports without results. It must not be used inside Do; use the
	// Caller passed to fn instead.
	Call(ctx context.Context, fn string, params ...uint64) (uint64, error)

	// Do runs fn with exclusive use of the engine and returns its error.
	// Calls must not nest.
	Do(ctx context.Context, fn func(call Caller) error) error

	Close(ctx context.Context) error
}

// Config holds configuration for engine loading
type Config struct {
	// Stdout and Stderr receive the engine's WASI output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Name of the instance; empty means anonymous.
	Name string

	// Env is exported to the engine through WASI environ.
	Env map[string]string

	// MemoryLimitPages sets the maximum memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}
