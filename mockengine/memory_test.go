package mockengine

import "testing"

func TestMemoryFirstFit(t *testing.T) {
	m := NewMemory(1, 0)
	a := m.Allocator(OwnerClient)

	p1, err := a.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != heapBase {
		t.Errorf("first block at %d, want %d", p1, heapBase)
	}
	p2, _ := a.Alloc(16, 8)
	p3, _ := a.Alloc(16, 8)
	if p2 != p1+16 || p3 != p2+16 {
		t.Errorf("blocks not contiguous: %d %d %d", p1, p2, p3)
	}

	a.Free(p2, 16, 8)
	p4, _ := a.Alloc(8, 8)
	if p4 != p2 {
		t.Errorf("freed hole not reused: got %d, want %d", p4, p2)
	}
}

func TestMemoryAlignment(t *testing.T) {
	m := NewMemory(1, 0)
	a := m.Allocator(OwnerClient)

	_, _ = a.Alloc(3, 1)
	for _, align := range []uint32{2, 4, 8, 16} {
		p, err := a.Alloc(4, align)
		if err != nil {
			t.Fatal(err)
		}
		if p%align != 0 {
			t.Errorf("ptr %d not aligned to %d", p, align)
		}
	}
}

func TestMemoryCoalesce(t *testing.T) {
	m := NewMemory(1, 0)
	a := m.Allocator(OwnerClient)

	var ptrs []uint32
	for i := 0; i < 4; i++ {
		p, _ := a.Alloc(32, 8)
		ptrs = append(ptrs, p)
	}
	for _, i := range []int{1, 3, 2, 0} {
		a.Free(ptrs[i], 32, 8)
	}
	if len(m.free) != 1 {
		t.Fatalf("free list has %d regions after freeing everything, want 1", len(m.free))
	}
	if m.free[0].start != heapBase || m.free[0].size != pageSize-heapBase {
		t.Errorf("free region = %+v", m.free[0])
	}
}

func TestMemoryGrow(t *testing.T) {
	m := NewMemory(1, 0)
	a := m.Allocator(OwnerEngine)

	p, err := a.Alloc(pageSize*2, 8)
	if err != nil {
		t.Fatal(err)
	}
	if m.Size() < pageSize*3 {
		t.Errorf("size = %d, want at least %d", m.Size(), pageSize*3)
	}
	if err := m.WriteU64(p+pageSize*2-8, 7); err != nil {
		t.Errorf("write at end of grown block: %v", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	m := NewMemory(1, 2)
	a := m.Allocator(OwnerClient)

	if _, err := a.Alloc(pageSize/2, 8); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Alloc(pageSize, 8); err != nil {
		t.Fatalf("growing to the limit: %v", err)
	}
	if m.Size() != 2*pageSize {
		t.Errorf("size = %d, want %d", m.Size(), 2*pageSize)
	}
	if _, err := a.Alloc(pageSize*4, 8); err == nil {
		t.Error("expected limit error")
	}
}

func TestMemoryOwnership(t *testing.T) {
	m := NewMemory(1, 0)
	client := m.Allocator(OwnerClient)
	eng := m.Allocator(OwnerEngine)

	p, _ := eng.Alloc(8, 8)
	if o, ok := m.Owner(p); !ok || o != OwnerEngine {
		t.Errorf("Owner(%d) = %v, %v", p, o, ok)
	}

	client.Free(p, 8, 8)
	cs := m.Stats(OwnerClient)
	if cs.InvalidFrees != 1 {
		t.Errorf("client invalid frees = %d, want 1", cs.InvalidFrees)
	}
	if _, ok := m.Owner(p); !ok {
		t.Error("block released by the wrong owner")
	}

	eng.Free(p, 8, 8)
	eng.Free(p, 8, 8)
	es := m.Stats(OwnerEngine)
	if es.Frees != 1 || es.InvalidFrees != 1 || es.Live != 0 {
		t.Errorf("engine stats = %+v", es)
	}
	if es.Balanced() {
		t.Error("stats with an invalid free reported balanced")
	}
}

func TestMemoryBounds(t *testing.T) {
	m := NewMemory(1, 0)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"read past end", func() error { _, err := m.Read(pageSize-2, 4); return err }},
		{"u32 past end", func() error { _, err := m.ReadU32(pageSize - 2); return err }},
		{"write past end", func() error { return m.Write(pageSize, []byte{1}) }},
		{"u64 write past end", func() error { return m.WriteU64(pageSize-4, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.fn() == nil {
				t.Error("expected out of bounds error")
			}
		})
	}
}

func TestMemoryReadReturnsCopy(t *testing.T) {
	m := NewMemory(1, 0)
	_ = m.Write(64, []byte("abc"))
	b, _ := m.Read(64, 3)
	b[0] = 'x'
	got, _ := m.Read(64, 3)
	if string(got) != "abc" {
		t.Errorf("memory changed through Read result: %q", got)
	}
}
