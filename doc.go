// Package testopt is a Go client for an out-of-process test optimization
// engine: it reports test sessions, modules, suites, tests and spans, and it
// fetches the engine's adaptive-execution directives (skippable tests, known
// tests, flaky retry budgets, test management properties).
//
// # Architecture Overview
//
// The engine exposes a C-compatible export table over a 32-bit linear memory.
// The client never shares Go memory with it: every value crosses the boundary
// as a fixed-layout record written into engine memory.
//
//	testopt/             Root package with the Memory and Allocator interfaces
//	├── optimization/    Session, Module, Suite, Test and Span entity client
//	├── marshal/         Scoped allocation, record views, string and array codecs
//	├── abi/             Export names, wire codes and record layouts
//	├── engine/          Library interface and the wazero-hosted engine
//	├── mockengine/      In-process engine with a mock tracer, for tests
//	├── capture/         SQLite persistence of captured spans
//	├── constants/       Tag names and span types
//	└── errors/          Structured error types
//
// # Quick Start
//
//	lib, err := engine.Open(ctx, "libtestoptimization.wasm", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lib.Close(ctx)
//
//	session, err := optimization.Init(ctx, optimization.DefaultOptions(lib))
//	if err != nil {
//	    log.Printf("test optimization disabled: %v", err)
//	}
//	defer session.Close(0)
//
//	module := session.CreateModule("pkg", "testing", "go1.25")
//	suite := module.CreateSuite("pkg/foo_test.go")
//	test := suite.CreateTest("TestFoo")
//	test.Close(optimization.StatusPass)
//	suite.Close()
//	module.Close()
//
// # Ownership Model
//
// Buffers the client allocates for a call are released by the client before
// the call returns, on every path. Arrays returned by the engine are copied
// out and then released through the engine's matching free export, exactly
// once.
//
// # Thread Safety
//
// Entity values are plain handles and may be used from any goroutine.
// Concurrent operations on the same entity must be serialized by the caller.
package testopt
