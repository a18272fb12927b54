package marshal

import (
	"strings"
	"testing"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/errors"
)

func TestCString(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"simple", "hello"},
		{"empty", ""},
		{"unicode", "тест ✓"},
		{"long", strings.Repeat("abc", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newTestMem(4096)
			alloc := newTestAlloc(16)
			sc := NewScope(mem, alloc)

			ptr, err := sc.CString("name", tt.value)
			if err != nil {
				t.Fatalf("CString: %v", err)
			}
			if ptr == 0 {
				t.Fatal("CString returned null pointer")
			}
			got, err := ReadCString(mem, ptr)
			if err != nil {
				t.Fatalf("ReadCString: %v", err)
			}
			if got != tt.value {
				t.Errorf("got %q, want %q", got, tt.value)
			}
			if term := mem.data[ptr+uint32(len(tt.value))]; term != 0 {
				t.Errorf("missing terminator, got %d", term)
			}

			sc.Release()
			alloc.requireBalanced(t)
		})
	}
}

func TestCStringEmbeddedNUL(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	_, err := sc.CString("key", "bad\x00key")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindEmbeddedNUL}) {
		t.Errorf("unexpected error: %v", err)
	}
	if alloc.allocs != 0 {
		t.Errorf("allocated %d buffers before rejecting input", alloc.allocs)
	}
}

func TestOptionalCString(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	ptr, err := sc.OptionalCString("dir", "")
	if err != nil || ptr != 0 {
		t.Errorf("empty optional = %d, %v; want 0, nil", ptr, err)
	}
	ptr, err = sc.OptionalCString("dir", "/src")
	if err != nil || ptr == 0 {
		t.Errorf("non-empty optional = %d, %v", ptr, err)
	}
}

func TestReadCString(t *testing.T) {
	t.Run("null", func(t *testing.T) {
		s, err := ReadCString(newTestMem(16), 0)
		if err != nil || s != "" {
			t.Errorf("got %q, %v", s, err)
		}
	})

	t.Run("near end of memory", func(t *testing.T) {
		mem := newTestMem(16)
		copy(mem.data[10:], "abcde\x00")
		s, err := ReadCString(mem, 10)
		if err != nil || s != "abcde" {
			t.Errorf("got %q, %v", s, err)
		}
	})

	t.Run("unterminated", func(t *testing.T) {
		mem := newTestMem(8)
		copy(mem.data[2:], "abcdef")
		_, err := ReadCString(mem, 2)
		if !errors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindOutOfBounds}) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestScopeReleaseFreesEverything(t *testing.T) {
	mem := newTestMem(4096)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)

	if _, err := sc.CString("a", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Time(abi.UnixTime{Sec: 1, Nsec: 2}); err != nil {
		t.Fatal(err)
	}
	start := int32(7)
	if _, err := sc.Int32(&start); err != nil {
		t.Fatal(err)
	}
	if sc.Count() != 3 {
		t.Errorf("Count = %d, want 3", sc.Count())
	}

	sc.Release()
	alloc.requireBalanced(t)
}

func TestScopeAllocationFailure(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	alloc.fail = true
	sc := NewScope(mem, alloc)
	defer sc.Release()

	_, err := sc.CString("name", "x")
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindAllocation}) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestScopeDetach(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)

	ptr, err := sc.CString("name", "kept")
	if err != nil {
		t.Fatal(err)
	}
	owned := sc.Detach()
	if len(owned) != 1 || owned[0].Ptr != ptr {
		t.Fatalf("Detach = %+v", owned)
	}
	if alloc.frees != 0 {
		t.Error("Detach must not free")
	}
}

func TestInt32Nil(t *testing.T) {
	sc := NewScope(newTestMem(64), newTestAlloc(16))
	defer sc.Release()

	ptr, err := sc.Int32(nil)
	if err != nil || ptr != 0 {
		t.Errorf("Int32(nil) = %d, %v", ptr, err)
	}
}

func TestViewRoundTrip(t *testing.T) {
	mem := newTestMem(1024)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	v, err := sc.Record(abi.SettingsResponse)
	if err != nil {
		t.Fatal(err)
	}
	v.SetBool("code_coverage", true).
		SetBool("early_flake_detection.enabled", true).
		SetI32("early_flake_detection.slow_test_retries.five_m", -3).
		SetI32("test_management.attempt_to_fix_retries", 20)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}

	r := At(mem, v.Ptr(), abi.SettingsResponse)
	if !r.Bool("code_coverage") || !r.Bool("early_flake_detection.enabled") {
		t.Error("bool fields not read back")
	}
	if got := r.I32("early_flake_detection.slow_test_retries.five_m"); got != -3 {
		t.Errorf("five_m = %d", got)
	}
	if got := r.I32("test_management.attempt_to_fix_retries"); got != 20 {
		t.Errorf("attempt_to_fix_retries = %d", got)
	}
	if r.Bool("itr_enabled") {
		t.Error("record should start zeroed")
	}
}

func TestViewKeepsFirstError(t *testing.T) {
	mem := newTestMem(32)
	v := At(mem, 24, abi.MockSpan)
	v.SetU64("span_id", 1)
	if v.Err() != nil {
		t.Fatalf("in-bounds write failed: %v", v.Err())
	}
	v.SetU64("trace_id", 2).SetU64("parent_span_id", 3)
	first := v.Err()
	if first == nil {
		t.Fatal("expected out of bounds error")
	}
	if !strings.Contains(first.Error(), "trace_id") {
		t.Errorf("first error should name trace_id: %v", first)
	}
	if v.U64("span_id") != 0 {
		t.Error("reads after an error should return zero")
	}
}

func TestKeyValueArray(t *testing.T) {
	mem := newTestMem(4096)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)

	kvs := KeyValues(map[string]string{"b": "2", "a": "1", "c": ""})
	hdr, err := sc.KeyValueArray("tags", kvs)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ReadKeyValues(mem, hdr)
	if err != nil {
		t.Fatal(err)
	}
	want := []KeyValue{{"a", "1"}, {"b", "2"}, {"c", ""}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	sc.Release()
	alloc.requireBalanced(t)
}

func TestKeyValueArrayRejectsBeforeAllocating(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	_, err := sc.KeyValueArray("tags", []KeyValue{{"ok", "v"}, {"k", "bad\x00"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if alloc.allocs != 0 {
		t.Errorf("allocated %d buffers before rejecting input", alloc.allocs)
	}
}

func TestEmptyArrays(t *testing.T) {
	mem := newTestMem(256)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	hdr, err := sc.KeyNumberArray("numbers", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, n, err := ArrayHeader(mem, hdr)
	if err != nil || data != 0 || n != 0 {
		t.Errorf("empty header = (%d, %d, %v), want (0, 0, nil)", data, n, err)
	}
	got, err := ReadKeyNumbers(mem, hdr)
	if err != nil || len(got) != 0 {
		t.Errorf("ReadKeyNumbers = %v, %v", got, err)
	}
}

func TestKeyNumberArray(t *testing.T) {
	mem := newTestMem(4096)
	alloc := newTestAlloc(16)
	sc := NewScope(mem, alloc)
	defer sc.Release()

	hdr, err := sc.KeyNumberArray("numbers", KeyNumbers(map[string]float64{"mean": 1.5, "max": 3}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadKeyNumbers(mem, hdr)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != (KeyNumber{"max", 3}) || got[1] != (KeyNumber{"mean", 1.5}) {
		t.Errorf("got %v", got)
	}
}

func TestArrayHeaderLengthMismatch(t *testing.T) {
	mem := newTestMem(64)
	_ = mem.WriteU32(8, 0)
	_ = mem.WriteU32(12, 3)

	_, _, err := ArrayHeader(mem, 8)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindLengthMismatch}) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGuard(t *testing.T) {
	calls := 0
	g := NewGuard(func() error {
		calls++
		return nil
	})

	if g.Released() {
		t.Error("Released before Release")
	}
	if err := g.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	err := g.Release()
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindDoubleRelease}) {
		t.Errorf("second Release: %v", err)
	}
	if calls != 1 {
		t.Errorf("release ran %d times, want 1", calls)
	}
	if !g.Released() {
		t.Error("Released should be true")
	}
}
