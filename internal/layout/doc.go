// Package layout computes size, alignment and field offsets of boundary
// records.
//
// Records crossing the library boundary are described as WIT record type
// definitions whose fields are primitives or nested records. For such
// records the C layout on a 32-bit target matches the Canonical ABI
// layout: fields are placed sequentially, each at the next offset aligned
// to its own alignment, and the total size is rounded up to the largest
// field alignment.
//
// # Usage
//
//	calc := layout.NewCalculator()
//	info := calc.Calculate(def)
//	off, ok := calc.Offset(def, "early_flake_detection", "enabled")
//
// This package is internal to the client.
package layout
