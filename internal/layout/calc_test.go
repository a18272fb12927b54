package layout

import (
	"testing"

	"go.bytecodealliance.org/wit"
)

func record(fields ...wit.Field) *wit.TypeDef {
	return &wit.TypeDef{Kind: &wit.Record{Fields: fields}}
}

func TestAlignTo(t *testing.T) {
	tests := []struct {
		offset, align, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{9, 1, 9},
		{7, 0, 7},
	}
	for _, tc := range tests {
		if got := AlignTo(tc.offset, tc.align); got != tc.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tc.offset, tc.align, got, tc.want)
		}
	}
}

func TestCalculatePrimitives(t *testing.T) {
	c := NewCalculator()

	tests := []struct {
		typ   wit.Type
		name  string
		size  uint32
		align uint32
	}{
		{wit.Bool{}, "bool", 1, 1},
		{wit.U8{}, "u8", 1, 1},
		{wit.S32{}, "s32", 4, 4},
		{wit.U32{}, "u32", 4, 4},
		{wit.U64{}, "u64", 8, 8},
		{wit.F64{}, "f64", 8, 8},
		{wit.String{}, "string", 4, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := c.Calculate(tc.typ)
			if info.Size != tc.size {
				t.Errorf("size: got %d, want %d", info.Size, tc.size)
			}
			if info.Align != tc.align {
				t.Errorf("align: got %d, want %d", info.Align, tc.align)
			}
		})
	}
}

func TestCalculateRecord(t *testing.T) {
	c := NewCalculator()

	t.Run("empty", func(t *testing.T) {
		info := c.Calculate(record())
		if info.Size != 0 || info.Align != 1 {
			t.Errorf("got %+v", info)
		}
	})

	t.Run("mixed_alignment", func(t *testing.T) {
		def := record(
			wit.Field{Name: "a", Type: wit.U8{}},
			wit.Field{Name: "b", Type: wit.U32{}},
			wit.Field{Name: "c", Type: wit.U8{}},
		)
		info := c.Calculate(def)
		if info.Size != 12 {
			t.Errorf("size: got %d, want 12", info.Size)
		}
		if info.FieldOffs["b"] != 4 || info.FieldOffs["c"] != 8 {
			t.Errorf("offsets: %v", info.FieldOffs)
		}
	})

	t.Run("u64_then_bool", func(t *testing.T) {
		def := record(
			wit.Field{Name: "id", Type: wit.U64{}},
			wit.Field{Name: "valid", Type: wit.Bool{}},
		)
		info := c.Calculate(def)
		if info.Size != 16 || info.Align != 8 {
			t.Errorf("got size %d align %d, want 16/8", info.Size, info.Align)
		}
		if info.FieldOffs["valid"] != 8 {
			t.Errorf("valid offset: got %d, want 8", info.FieldOffs["valid"])
		}
	})

	t.Run("cached", func(t *testing.T) {
		def := record(wit.Field{Name: "x", Type: wit.U32{}})
		first := c.Calculate(def)
		second := c.Calculate(def)
		if first.Size != second.Size || len(c.cache) == 0 {
			t.Error("expected cached layout")
		}
	})
}

func TestOffsetNested(t *testing.T) {
	c := NewCalculator()

	retries := record(
		wit.Field{Name: "ten_s", Type: wit.S32{}},
		wit.Field{Name: "thirty_s", Type: wit.S32{}},
	)
	efd := record(
		wit.Field{Name: "enabled", Type: wit.Bool{}},
		wit.Field{Name: "retries", Type: retries},
	)
	outer := record(
		wit.Field{Name: "flag", Type: wit.Bool{}},
		wit.Field{Name: "efd", Type: efd},
	)

	tests := []struct {
		path []string
		want uint32
		ok   bool
	}{
		{[]string{"flag"}, 0, true},
		{[]string{"efd"}, 4, true},
		{[]string{"efd", "enabled"}, 4, true},
		{[]string{"efd", "retries", "thirty_s"}, 12, true},
		{[]string{"missing"}, 0, false},
		{[]string{"flag", "deeper"}, 0, false},
	}
	for _, tc := range tests {
		got, ok := c.Offset(outer, tc.path...)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Offset(%v) = %d, %v; want %d, %v", tc.path, got, ok, tc.want, tc.ok)
		}
	}

	if _, ok := c.FieldType(outer, "efd", "retries", "ten_s").(wit.S32); !ok {
		t.Error("FieldType should resolve nested s32")
	}
	if c.FieldType(outer, "nope") != nil {
		t.Error("FieldType should be nil for unknown field")
	}
}
