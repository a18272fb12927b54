package layout

import (
	"sync"

	"go.bytecodealliance.org/wit"
)

// Info is the memory layout of a single type
type Info struct {
	FieldOffs map[string]uint32
	Size      uint32
	Align     uint32
}

// AlignTo rounds offset up to the next multiple of align
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

type Calculator struct {
	cache map[*wit.TypeDef]Info
	mu    sync.Mutex
}

func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[*wit.TypeDef]Info),
	}
}

func (c *Calculator) Calculate(t wit.Type) Info {
	switch typ := t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return Info{Size: 1, Align: 1}
	case wit.U16, wit.S16:
		return Info{Size: 2, Align: 2}
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return Info{Size: 4, Align: 4}
	case wit.U64, wit.S64, wit.F64:
		return Info{Size: 8, Align: 8}
	case wit.String:
		return Info{Size: 4, Align: 4} // NUL-terminated, pointer only
	case *wit.TypeDef:
		return c.calculateTypeDef(typ)
	default:
		return Info{Size: 0, Align: 1}
	}
}

// Offset resolves a field path through nested records.
// It returns false when any segment does not name a record field.
func (c *Calculator) Offset(t *wit.TypeDef, path ...string) (uint32, bool) {
	var off uint32
	cur := wit.Type(t)
	for _, name := range path {
		td, ok := cur.(*wit.TypeDef)
		if !ok {
			return 0, false
		}
		rec, ok := td.Kind.(*wit.Record)
		if !ok {
			return 0, false
		}
		info := c.Calculate(td)
		fieldOff, ok := info.FieldOffs[name]
		if !ok {
			return 0, false
		}
		off += fieldOff
		cur = fieldType(rec, name)
	}
	return off, true
}

// FieldType returns the type at a field path, or nil if the path is invalid
func (c *Calculator) FieldType(t *wit.TypeDef, path ...string) wit.Type {
	cur := wit.Type(t)
	for _, name := range path {
		td, ok := cur.(*wit.TypeDef)
		if !ok {
			return nil
		}
		rec, ok := td.Kind.(*wit.Record)
		if !ok {
			return nil
		}
		cur = fieldType(rec, name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func fieldType(r *wit.Record, name string) wit.Type {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Type
		}
	}
	return nil
}

func (c *Calculator) calculateTypeDef(t *wit.TypeDef) Info {
	c.mu.Lock()
	cached, ok := c.cache[t]
	c.mu.Unlock()
	if ok {
		return cached
	}

	var info Info

	switch kind := t.Kind.(type) {
	case *wit.Record:
		info = c.calculateRecord(kind)
	case wit.Type:
		info = c.Calculate(kind)
	default:
		info = Info{Size: 0, Align: 1}
	}

	c.mu.Lock()
	c.cache[t] = info
	c.mu.Unlock()
	return info
}

func (c *Calculator) calculateRecord(r *wit.Record) Info {
	if len(r.Fields) == 0 {
		return Info{Size: 0, Align: 1}
	}

	fieldOffs := make(map[string]uint32, len(r.Fields))
	maxAlign := uint32(1)
	offset := uint32(0)

	for _, field := range r.Fields {
		fieldLayout := c.Calculate(field.Type)

		offset = AlignTo(offset, fieldLayout.Align)
		fieldOffs[field.Name] = offset

		if fieldLayout.Align > maxAlign {
			maxAlign = fieldLayout.Align
		}

		offset += fieldLayout.Size
	}

	return Info{
		Size:      AlignTo(offset, maxAlign),
		Align:     maxAlign,
		FieldOffs: fieldOffs,
	}
}
