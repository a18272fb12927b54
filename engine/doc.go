// Package engine hosts a test optimization engine and exposes its export
// table to the client.
//
// # Architecture
//
// The package provides one interface and one production implementation:
//
//	Library        - Boundary to an engine: memory, allocator, calls
//	WazeroLibrary  - Engine compiled to WebAssembly, run with wazero
//
// An in-process implementation for tests lives in the mockengine package.
//
// # Boundary Calls
//
// Every export is called with flat core parameters, encoded with the wazero
// api helpers:
//
//	handle (u64)        api.EncodeI64 / raw uint64
//	pointer, usize      api.EncodeU32
//	c_int               api.EncodeI32
//	double              api.EncodeF64
//	Bool result         low byte of the i32 result
//
// Records are written to linear memory by the marshal package and passed by
// address. Record results are written by the engine into a caller-allocated
// out-record passed as the last parameter.
//
// # Bootstrap
//
// Engines built as reactors export _initialize, which must run once before
// any other export. Library.Bootstrap runs it at most once per instance.
//
// # Thread Safety
//
// A WebAssembly instance is single-threaded. WazeroLibrary serializes every
// call into the instance, including allocator calls, so a Library may be
// shared by goroutines.
package engine
