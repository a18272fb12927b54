// Package mockengine is an in-process test optimization engine.
//
// Engine implements engine.Library over its own linear memory and serves
// the full export table: lifecycle, settings and directives, entity
// create/tag/close, coverage, benchmarks, spans and the debug mock tracer.
// It is meant for exercising clients without a real engine binary.
//
// Every block of memory is tagged with the side that allocated it, so tests
// can assert that the client released everything it allocated and released
// every engine array exactly once:
//
//	eng := mockengine.New(mockengine.WithSettings(mockengine.Settings{CodeCoverage: true}))
//	// ... drive a client against eng ...
//	if !eng.ClientStats().Balanced() {
//	    t.Error("client leaked engine memory")
//	}
//
// Handles are assigned sequentially from 1 and never reused within an
// engine's lifetime.
package mockengine
