package marshal

import (
	"sync"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/errors"
)

type Allocation struct {
	Ptr   uint32
	Size  uint32
	Align uint32
}

// Scope tracks the outward allocations of a single boundary call
type Scope struct {
	mem         testopt.Memory
	alloc       testopt.Allocator
	allocations []Allocation
}

var scopePool = sync.Pool{
	New: func() any {
		return &Scope{allocations: make([]Allocation, 0, 8)}
	},
}

const maxPooledAllocationCapacity = 128

func NewScope(mem testopt.Memory, alloc testopt.Allocator) *Scope {
	s := scopePool.Get().(*Scope)
	s.mem = mem
	s.alloc = alloc
	return s
}

// Memory returns the memory the scope writes to
func (s *Scope) Memory() testopt.Memory {
	return s.mem
}

// Alloc allocates a zeroed buffer owned by the scope
func (s *Scope) Alloc(size, align uint32) (uint32, error) {
	if s.alloc == nil {
		return 0, errors.NotInitialized(errors.PhaseEncode, "allocator")
	}
	if size == 0 {
		size = 1
	}
	ptr, err := s.alloc.Alloc(size, align)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, err)
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, align, nil)
	}
	s.allocations = append(s.allocations, Allocation{Ptr: ptr, Size: size, Align: align})
	if err := s.mem.Write(ptr, make([]byte, size)); err != nil {
		return 0, errors.OutOfBounds(errors.PhaseEncode, nil, ptr, size)
	}
	return ptr, nil
}

// Count returns the number of live allocations
func (s *Scope) Count() int {
	return len(s.allocations)
}

// Release frees every allocation and returns the scope to the pool.
// The scope must not be used afterwards.
func (s *Scope) Release() {
	if s.alloc != nil {
		for i := len(s.allocations) - 1; i >= 0; i-- {
			a := s.allocations[i]
			if a.Ptr != 0 {
				s.alloc.Free(a.Ptr, a.Size, a.Align)
			}
		}
	}
	s.recycle()
}

// Detach hands ownership of every allocation to the caller without freeing
// them and returns the scope to the pool.
func (s *Scope) Detach() []Allocation {
	out := make([]Allocation, len(s.allocations))
	copy(out, s.allocations)
	s.recycle()
	return out
}

func (s *Scope) recycle() {
	s.mem = nil
	s.alloc = nil
	// Only pool small lists to prevent memory bloat
	if cap(s.allocations) > maxPooledAllocationCapacity {
		s.allocations = nil
		return
	}
	s.allocations = s.allocations[:0]
	scopePool.Put(s)
}

// Record allocates a zeroed record and returns a view over it
func (s *Scope) Record(rec *abi.Record) (*View, error) {
	ptr, err := s.Alloc(rec.Size(), rec.Align())
	if err != nil {
		return nil, err
	}
	return At(s.mem, ptr, rec), nil
}

// Elements allocates a contiguous zeroed array of n records.
// A zero-length array is represented by pointer 0.
func (s *Scope) Elements(rec *abi.Record, n int) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	return s.Alloc(rec.Size()*uint32(n), rec.Align())
}

// Time writes a UnixTime record and returns its address
func (s *Scope) Time(t abi.UnixTime) (uint32, error) {
	v, err := s.Record(abi.Time)
	if err != nil {
		return 0, err
	}
	v.SetU64("sec", t.Sec).SetU64("nsec", t.Nsec)
	return v.Ptr(), v.Err()
}

// Int32 writes a c_int and returns its address; nil yields a null pointer
func (s *Scope) Int32(v *int32) (uint32, error) {
	if v == nil {
		return 0, nil
	}
	ptr, err := s.Alloc(4, 4)
	if err != nil {
		return 0, err
	}
	if err := s.mem.WriteU32(ptr, uint32(*v)); err != nil {
		return 0, errors.OutOfBounds(errors.PhaseEncode, nil, ptr, 4)
	}
	return ptr, nil
}
