// Package abi describes the wire contract between the client and a test
// optimization engine.
//
// The engine exposes a C-compatible export table over a 32-bit linear
// memory. Pointers and sizes are u32, c_int is i32, booleans are a single
// byte where any non-zero value is true, handles are u64 and numbers are
// f64. All values are little-endian.
//
// Multi-field records are described as WIT record definitions and laid out
// by the internal layout calculator, so offsets are never written by hand:
//
//	off := abi.SettingsResponse.Offset("early_flake_detection", "enabled")
//	size := abi.MockSpan.Size()
//
// Record results are written by the engine into a caller-allocated record
// whose address is passed as the last parameter.
package abi
