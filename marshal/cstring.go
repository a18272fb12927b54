package marshal

import (
	"strings"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/errors"
)

// MaxCStringLen bounds C string reads from engine memory
const MaxCStringLen = 1 << 20

const readChunk = 64

// ValidateCString reports an error if value cannot cross as a C string
func ValidateCString(field, value string) error {
	if idx := strings.IndexByte(value, 0); idx >= 0 {
		return errors.EmbeddedNUL([]string{field}, value, idx)
	}
	return nil
}

// CString copies value into a NUL-terminated buffer and returns its address
func (s *Scope) CString(field, value string) (uint32, error) {
	if err := ValidateCString(field, value); err != nil {
		return 0, err
	}
	size := uint32(len(value)) + 1
	ptr, err := s.Alloc(size, 1)
	if err != nil {
		return 0, err
	}
	if len(value) > 0 {
		if err := s.mem.Write(ptr, []byte(value)); err != nil {
			return 0, errors.OutOfBounds(errors.PhaseEncode, []string{field}, ptr, size)
		}
	}
	return ptr, nil
}

// OptionalCString is CString with the empty string mapped to a null pointer
func (s *Scope) OptionalCString(field, value string) (uint32, error) {
	if value == "" {
		return 0, nil
	}
	return s.CString(field, value)
}

// ReadCString reads a NUL-terminated string. A null pointer reads as "".
func ReadCString(mem testopt.Memory, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}

	var b strings.Builder
	offset := ptr
	for b.Len() < MaxCStringLen {
		chunk, err := mem.Read(offset, readChunk)
		if err != nil {
			// near the end of memory; fall back to single bytes
			c, err := mem.ReadU8(offset)
			if err != nil {
				return "", errors.OutOfBounds(errors.PhaseDecode, nil, offset, 1)
			}
			chunk = []byte{c}
		}
		for i, c := range chunk {
			if c == 0 {
				b.Write(chunk[:i])
				return b.String(), nil
			}
		}
		b.Write(chunk)
		offset += uint32(len(chunk))
	}
	return "", errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
		Detail("unterminated string at 0x%x", ptr).
		Build()
}
