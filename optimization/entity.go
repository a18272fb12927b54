package optimization

import (
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/marshal"
)

// entity holds what every engine entity needs: the session client, the
// export family and the handle. It is embedded by value.
type entity struct {
	c    *client
	kind abi.Entity
	id   abi.ID
}

// ID returns the engine handle, or abi.Invalid when creation failed
func (e entity) ID() abi.ID { return e.id }

// Valid reports whether the engine accepted the entity's creation
func (e entity) Valid() bool { return e.id.Valid() }

// SetStringTag sets a string tag, replacing any previous value for key
func (e entity) SetStringTag(key, value string) bool {
	return e.c.invoke(e.kind.Export(abi.OpSetStringTag), e.id, func(s *marshal.Scope) ([]uint64, error) {
		return strs(s, "key", key, "value", value)
	})
}

// SetNumberTag sets a numeric tag. Numeric and string tags are separate
// namespaces.
func (e entity) SetNumberTag(key string, value float64) bool {
	return e.c.invoke(e.kind.Export(abi.OpSetNumberTag), e.id, func(s *marshal.Scope) ([]uint64, error) {
		args, err := strs(s, "key", key)
		return append(args, api.EncodeF64(value)), err
	})
}

// SetError records an error on the entity
func (e entity) SetError(errType, message, stacktrace string) bool {
	return e.c.invoke(e.kind.Export(abi.OpSetError), e.id, func(s *marshal.Scope) ([]uint64, error) {
		return strs(s, "error_type", errType, "error_message", message, "error_stacktrace", stacktrace)
	})
}

// StartSpan opens a span correlated to this entity
func (e entity) StartSpan(opts SpanOptions) Span {
	return startSpan(e.c, e.id, opts)
}

func (e entity) closeAt(t time.Time) bool {
	return e.c.invoke(e.kind.Export(abi.OpClose), e.id, func(s *marshal.Scope) ([]uint64, error) {
		ts, err := stamp(s, t)
		return []uint64{ts}, err
	})
}

// setSource is exported by suites and tests only
func (e entity) setSource(file string, start, end *int32) bool {
	return e.c.invoke(e.kind.Export(abi.OpSetSource), e.id, func(s *marshal.Scope) ([]uint64, error) {
		args, err := strs(s, "file", file)
		if err != nil {
			return nil, err
		}
		startPtr, err := s.Int32(start)
		if err != nil {
			return nil, err
		}
		endPtr, err := s.Int32(end)
		if err != nil {
			return nil, err
		}
		return append(args, api.EncodeU32(startPtr), api.EncodeU32(endPtr)), nil
	})
}
