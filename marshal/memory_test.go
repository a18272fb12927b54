package marshal

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// testMem is a bounds-checked little-endian byte slice
type testMem struct {
	data []byte
}

func newTestMem(size int) *testMem {
	return &testMem{data: make([]byte, size)}
}

func (m *testMem) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("out of bounds: %d+%d", offset, length)
	}
	return nil
}

func (m *testMem) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	return m.data[offset : offset+length], nil
}

func (m *testMem) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *testMem) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *testMem) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *testMem) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *testMem) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *testMem) WriteU8(offset uint32, value uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

func (m *testMem) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], value)
	return nil
}

func (m *testMem) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *testMem) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

// testAlloc is a bump allocator that records frees
type testAlloc struct {
	live   map[uint32]uint32
	offset uint32
	allocs int
	frees  int
	fail   bool
}

func newTestAlloc(start uint32) *testAlloc {
	return &testAlloc{offset: start, live: make(map[uint32]uint32)}
}

func (a *testAlloc) Alloc(size, align uint32) (uint32, error) {
	if a.fail {
		return 0, fmt.Errorf("allocator exhausted")
	}
	a.offset = (a.offset + align - 1) &^ (align - 1)
	addr := a.offset
	a.offset += size
	a.allocs++
	a.live[addr] = size
	return addr, nil
}

func (a *testAlloc) Free(ptr, size, align uint32) {
	a.frees++
	delete(a.live, ptr)
}

func (a *testAlloc) requireBalanced(t *testing.T) {
	t.Helper()
	if a.allocs != a.frees || len(a.live) != 0 {
		t.Errorf("allocations unbalanced: %d allocs, %d frees, %d live", a.allocs, a.frees, len(a.live))
	}
}
