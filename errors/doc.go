// Package errors provides structured error types for the test optimization
// client.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the record field path, the boundary
// function involved and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEncode, errors.KindEmbeddedNUL).
//		Path("module", "name").
//		Func("topt_module_create").
//		Detail("NUL byte at offset %d", 3).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.EmbeddedNUL(path, value, idx)
//	err := errors.OutOfBounds(errors.PhaseDecode, path, offset, size)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
