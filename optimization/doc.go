// Package optimization is the client side of a test optimization engine.
//
// A test runner opens one Session per process with Init, then creates a
// Module per framework invocation, a Suite per source file and a Test per
// case, closing them in reverse order:
//
//	session, err := optimization.Init(ctx, optimization.DefaultOptions(lib))
//	if err != nil {
//	    log.Printf("test optimization disabled: %v", err)
//	}
//	defer session.Close(0)
//
//	module := session.CreateModule("pkg", "go test", runtime.Version())
//	suite := module.CreateSuite("pkg/foo_test.go")
//	test := suite.CreateTest("TestFoo")
//	test.Close(optimization.StatusPass)
//	suite.Close()
//	module.Close()
//
// Init always returns a usable session. When the engine cannot be reached
// the session is disabled: its handle is 0 and every operation is a no-op
// that reports false.
//
// Entities are small values that carry an engine handle and a copy of
// their parent. They hold no client-side mutable state, so distinct
// entities may be used from different goroutines. Calls on the same entity
// must be serialized by the caller.
//
// Every string sent to the engine is checked for NUL bytes before any
// engine call is made, and every buffer allocated for a call is released
// before the call returns. Arrays returned by the engine are copied out and
// released through the engine's matching free export exactly once.
package optimization
