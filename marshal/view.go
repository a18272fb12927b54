package marshal

import (
	"math"
	"strings"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/errors"
)

// View reads and writes the fields of one record in engine memory.
// Field names may be dotted paths into nested records. The first failed
// access is kept and returned by Err; later accesses become no-ops.
type View struct {
	mem  testopt.Memory
	rec  *abi.Record
	err  error
	base uint32
}

// At returns a view of rec located at ptr
func At(mem testopt.Memory, ptr uint32, rec *abi.Record) *View {
	return &View{mem: mem, rec: rec, base: ptr}
}

// Ptr returns the record address
func (v *View) Ptr() uint32 { return v.base }

// Memory returns the memory the record lives in
func (v *View) Memory() testopt.Memory { return v.mem }

// Err returns the first access error
func (v *View) Err() error { return v.err }

// Addr returns the address of a field
func (v *View) Addr(field string) uint32 {
	return v.base + v.rec.Offset(strings.Split(field, ".")...)
}

func (v *View) fail(field string, size uint32, phase errors.Phase) {
	if v.err == nil {
		v.err = errors.OutOfBounds(phase, []string{v.rec.Name, field}, v.Addr(field), size)
	}
}

func (v *View) SetU8(field string, value uint8) *View {
	if v.err == nil {
		if err := v.mem.WriteU8(v.Addr(field), value); err != nil {
			v.fail(field, 1, errors.PhaseEncode)
		}
	}
	return v
}

func (v *View) SetBool(field string, value bool) *View {
	return v.SetU8(field, abi.EncodeBool(value))
}

func (v *View) SetU32(field string, value uint32) *View {
	if v.err == nil {
		if err := v.mem.WriteU32(v.Addr(field), value); err != nil {
			v.fail(field, 4, errors.PhaseEncode)
		}
	}
	return v
}

func (v *View) SetI32(field string, value int32) *View {
	return v.SetU32(field, uint32(value))
}

func (v *View) SetU64(field string, value uint64) *View {
	if v.err == nil {
		if err := v.mem.WriteU64(v.Addr(field), value); err != nil {
			v.fail(field, 8, errors.PhaseEncode)
		}
	}
	return v
}

func (v *View) SetF64(field string, value float64) *View {
	return v.SetU64(field, math.Float64bits(value))
}

func (v *View) SetTime(field string, t abi.UnixTime) *View {
	return v.SetU64(field+".sec", t.Sec).SetU64(field+".nsec", t.Nsec)
}

func (v *View) U8(field string) uint8 {
	if v.err != nil {
		return 0
	}
	val, err := v.mem.ReadU8(v.Addr(field))
	if err != nil {
		v.fail(field, 1, errors.PhaseDecode)
	}
	return val
}

func (v *View) Bool(field string) bool {
	return abi.DecodeBool(v.U8(field))
}

func (v *View) U32(field string) uint32 {
	if v.err != nil {
		return 0
	}
	val, err := v.mem.ReadU32(v.Addr(field))
	if err != nil {
		v.fail(field, 4, errors.PhaseDecode)
	}
	return val
}

func (v *View) I32(field string) int32 {
	return int32(v.U32(field))
}

func (v *View) U64(field string) uint64 {
	if v.err != nil {
		return 0
	}
	val, err := v.mem.ReadU64(v.Addr(field))
	if err != nil {
		v.fail(field, 8, errors.PhaseDecode)
	}
	return val
}

func (v *View) F64(field string) float64 {
	return math.Float64frombits(v.U64(field))
}

func (v *View) Time(field string) abi.UnixTime {
	return abi.UnixTime{Sec: v.U64(field + ".sec"), Nsec: v.U64(field + ".nsec")}
}

// CString follows a string pointer field
func (v *View) CString(field string) string {
	ptr := v.U32(field)
	if v.err != nil {
		return ""
	}
	s, err := ReadCString(v.mem, ptr)
	if err != nil && v.err == nil {
		v.err = err
	}
	return s
}
