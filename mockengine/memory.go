package mockengine

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/internal/layout"
)

const (
	pageSize = 64 * 1024

	// addresses below heapBase are never handed out, so 0 stays null
	heapBase = 16
)

// Owner identifies which side of the boundary allocated a block
type Owner uint8

const (
	OwnerClient Owner = iota
	OwnerEngine
)

func (o Owner) String() string {
	if o == OwnerEngine {
		return "engine"
	}
	return "client"
}

// AllocStats counts allocator activity for one owner
type AllocStats struct {
	Allocs int
	Frees  int

	// InvalidFrees counts frees of unknown pointers, double frees and
	// frees of blocks that belong to the other owner
	InvalidFrees int

	Live      int
	LiveBytes uint32
}

// Balanced reports whether every allocation was freed exactly once
func (s AllocStats) Balanced() bool {
	return s.Allocs == s.Frees && s.InvalidFrees == 0 && s.Live == 0
}

type block struct {
	size  uint32
	owner Owner
}

type region struct {
	start uint32
	size  uint32
}

// Memory is a growable little-endian linear memory with a first-fit
// allocator that tags every block with its owner
type Memory struct {
	data     []byte
	blocks   map[uint32]block
	free     []region
	stats    [2]AllocStats
	maxPages uint32
	mu       sync.Mutex
}

// NewMemory creates a memory of the given initial size in pages.
// maxPages of 0 means no limit below 4GB.
func NewMemory(pages, maxPages uint32) *Memory {
	if pages == 0 {
		pages = 1
	}
	if maxPages == 0 {
		maxPages = 65536
	}
	size := pages * pageSize
	return &Memory{
		data:     make([]byte, size),
		blocks:   make(map[uint32]block),
		free:     []region{{start: heapBase, size: size - heapBase}},
		maxPages: maxPages,
	}
}

// Allocator returns an allocator that tags blocks with owner
func (m *Memory) Allocator(owner Owner) testopt.Allocator {
	return &ownerAllocator{mem: m, owner: owner}
}

// Stats returns allocator counters for owner
func (m *Memory) Stats(owner Owner) AllocStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[owner]
}

// Owner returns the owner of the live block at ptr
func (m *Memory) Owner(ptr uint32) (Owner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[ptr]
	return b.owner, ok
}

func (m *Memory) alloc(owner Owner, size, align uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		for i, r := range m.free {
			start := layout.AlignTo(r.start, align)
			pad := start - r.start
			if pad+size > r.size {
				continue
			}
			m.take(i, start, size)
			m.blocks[start] = block{size: size, owner: owner}
			st := &m.stats[owner]
			st.Allocs++
			st.Live++
			st.LiveBytes += size
			return start, nil
		}
		if err := m.grow(size + align); err != nil {
			return 0, err
		}
	}
}

// take carves [start, start+size) out of free region i
func (m *Memory) take(i int, start, size uint32) {
	r := m.free[i]
	var parts []region
	if start > r.start {
		parts = append(parts, region{start: r.start, size: start - r.start})
	}
	if end, rend := start+size, r.start+r.size; end < rend {
		parts = append(parts, region{start: end, size: rend - end})
	}
	m.free = append(m.free[:i], append(parts, m.free[i+1:]...)...)
}

func (m *Memory) grow(need uint32) error {
	cur := uint32(len(m.data)) / pageSize
	add := (need + pageSize - 1) / pageSize
	if add < cur {
		add = cur
	}
	if cur+add > m.maxPages {
		add = m.maxPages - cur
		if add == 0 {
			return fmt.Errorf("memory limit of %d pages reached", m.maxPages)
		}
	}
	oldSize := uint32(len(m.data))
	grown := make([]byte, oldSize+add*pageSize)
	copy(grown, m.data)
	m.data = grown
	m.release(oldSize, add*pageSize)
	return nil
}

// release returns a range to the free list, coalescing neighbours
func (m *Memory) release(start, size uint32) {
	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].start > start })
	m.free = append(m.free, region{})
	copy(m.free[i+1:], m.free[i:])
	m.free[i] = region{start: start, size: size}

	if i+1 < len(m.free) && m.free[i].start+m.free[i].size == m.free[i+1].start {
		m.free[i].size += m.free[i+1].size
		m.free = append(m.free[:i+1], m.free[i+2:]...)
	}
	if i > 0 && m.free[i-1].start+m.free[i-1].size == m.free[i].start {
		m.free[i-1].size += m.free[i].size
		m.free = append(m.free[:i], m.free[i+1:]...)
	}
}

func (m *Memory) dealloc(owner Owner, ptr uint32) {
	if ptr == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.stats[owner]
	b, ok := m.blocks[ptr]
	if !ok || b.owner != owner {
		st.InvalidFrees++
		return
	}
	delete(m.blocks, ptr)
	st.Frees++
	st.Live--
	st.LiveBytes -= b.size
	m.release(ptr, b.size)
}

type ownerAllocator struct {
	mem   *Memory
	owner Owner
}

func (a *ownerAllocator) Alloc(size, align uint32) (uint32, error) {
	return a.mem.alloc(a.owner, size, align)
}

func (a *ownerAllocator) Free(ptr, size, align uint32) {
	a.mem.dealloc(a.owner, ptr)
}

func (m *Memory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return fmt.Errorf("out of bounds: offset=%d, length=%d", offset, length)
	}
	return nil
}

// Read returns a copy, since the backing slice moves when memory grows
func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:])
	return out, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.data[offset:]), nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

func (m *Memory) WriteU16(offset uint32, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.data[offset:], value)
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

func (m *Memory) Size() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.data))
}

var _ testopt.Memory = (*Memory)(nil)
var _ testopt.MemorySizer = (*Memory)(nil)
