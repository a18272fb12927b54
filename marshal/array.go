package marshal

import (
	"sort"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/errors"
)

type KeyValue struct {
	Key   string
	Value string
}

type KeyNumber struct {
	Key   string
	Value float64
}

// KeyValues converts a map to pairs sorted by key
func KeyValues(m map[string]string) []KeyValue {
	out := make([]KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyNumbers converts a map to pairs sorted by key
func KeyNumbers(m map[string]float64) []KeyNumber {
	out := make([]KeyNumber, 0, len(m))
	for k, v := range m {
		out = append(out, KeyNumber{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyValueArray writes pairs and an array header and returns the header
// address. Every key and value is validated before anything is allocated.
func (s *Scope) KeyValueArray(field string, kvs []KeyValue) (uint32, error) {
	for _, kv := range kvs {
		if err := ValidateCString(field, kv.Key); err != nil {
			return 0, err
		}
		if err := ValidateCString(field, kv.Value); err != nil {
			return 0, err
		}
	}
	hdr, err := s.Record(abi.Array)
	if err != nil {
		return 0, err
	}
	if err := s.FillKeyValues(hdr, kvs); err != nil {
		return 0, err
	}
	return hdr.Ptr(), nil
}

// FillKeyValues writes pairs behind an existing array header view
func (s *Scope) FillKeyValues(hdr *View, kvs []KeyValue) error {
	data, err := s.Elements(abi.KeyValuePair, len(kvs))
	if err != nil {
		return err
	}
	size := abi.KeyValuePair.Size()
	for i, kv := range kvs {
		key, err := s.CString(hdr.rec.Name, kv.Key)
		if err != nil {
			return err
		}
		val, err := s.CString(hdr.rec.Name, kv.Value)
		if err != nil {
			return err
		}
		el := At(s.mem, data+uint32(i)*size, abi.KeyValuePair)
		if err := el.SetU32("key", key).SetU32("value", val).Err(); err != nil {
			return err
		}
	}
	return hdr.SetU32("data", data).SetU32("len", uint32(len(kvs))).Err()
}

// KeyNumberArray writes key/number pairs and an array header
func (s *Scope) KeyNumberArray(field string, kns []KeyNumber) (uint32, error) {
	for _, kn := range kns {
		if err := ValidateCString(field, kn.Key); err != nil {
			return 0, err
		}
	}
	hdr, err := s.Record(abi.Array)
	if err != nil {
		return 0, err
	}
	if err := s.FillKeyNumbers(hdr, kns); err != nil {
		return 0, err
	}
	return hdr.Ptr(), nil
}

// FillKeyNumbers writes pairs behind an existing array header view
func (s *Scope) FillKeyNumbers(hdr *View, kns []KeyNumber) error {
	data, err := s.Elements(abi.KeyNumberPair, len(kns))
	if err != nil {
		return err
	}
	size := abi.KeyNumberPair.Size()
	for i, kn := range kns {
		key, err := s.CString(hdr.rec.Name, kn.Key)
		if err != nil {
			return err
		}
		el := At(s.mem, data+uint32(i)*size, abi.KeyNumberPair)
		if err := el.SetU32("key", key).SetF64("value", kn.Value).Err(); err != nil {
			return err
		}
	}
	return hdr.SetU32("data", data).SetU32("len", uint32(len(kns))).Err()
}

// ArrayHeader reads a (data, len) header. A non-empty array with a null
// data pointer is rejected.
func ArrayHeader(mem testopt.Memory, ptr uint32) (data, n uint32, err error) {
	hdr := At(mem, ptr, abi.Array)
	data, n = hdr.U32("data"), hdr.U32("len")
	if err := hdr.Err(); err != nil {
		return 0, 0, err
	}
	if n > 0 && data == 0 {
		return 0, 0, errors.LengthMismatch(errors.PhaseDecode, []string{"array"}, data, n)
	}
	return data, n, nil
}

// Each calls fn with a view of every element of the array whose header is
// at ptr
func Each(mem testopt.Memory, ptr uint32, rec *abi.Record, fn func(i int, el *View) error) error {
	data, n, err := ArrayHeader(mem, ptr)
	if err != nil {
		return err
	}
	size := rec.Size()
	for i := uint32(0); i < n; i++ {
		el := At(mem, data+i*size, rec)
		if err := fn(int(i), el); err != nil {
			return err
		}
		if err := el.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ReadKeyValues decodes the key/value array whose header is at ptr
func ReadKeyValues(mem testopt.Memory, ptr uint32) ([]KeyValue, error) {
	var out []KeyValue
	err := Each(mem, ptr, abi.KeyValuePair, func(_ int, el *View) error {
		out = append(out, KeyValue{Key: el.CString("key"), Value: el.CString("value")})
		return nil
	})
	return out, err
}

// ReadKeyNumbers decodes the key/number array whose header is at ptr
func ReadKeyNumbers(mem testopt.Memory, ptr uint32) ([]KeyNumber, error) {
	var out []KeyNumber
	err := Each(mem, ptr, abi.KeyNumberPair, func(_ int, el *View) error {
		out = append(out, KeyNumber{Key: el.CString("key"), Value: el.F64("value")})
		return nil
	})
	return out, err
}
