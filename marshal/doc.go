// Package marshal moves values between the client and engine memory.
//
// Outward values are written through a Scope. Every buffer a Scope
// allocates is tracked and freed by Release, so callers pair NewScope with a
// deferred Release and never leak on early returns:
//
//	sc := marshal.NewScope(mem, alloc)
//	defer sc.Release()
//	name, err := sc.CString("name", "suite")
//	if err != nil {
//	    return err // nothing crossed the boundary yet
//	}
//
// Fixed-layout records are accessed through a View, which resolves field
// offsets from the abi record descriptors and keeps the first access error.
//
// Arrays returned by the engine are owned by the engine. Callers copy the
// data out and release the array through a Guard, which runs the engine's
// free export exactly once.
package marshal
