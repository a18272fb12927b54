package optimization

import (
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/marshal"
)

// SpanOptions describes a span to open
type SpanOptions struct {
	// Start defaults to the session clock
	Start time.Time

	StringTags map[string]string
	NumberTags map[string]float64

	OperationName string
	ServiceName   string
	ResourceName  string
	SpanType      string
}

// Span is a timed annotation correlated to an entity. It does not take part
// in the entity's lifecycle: spans may be closed in any order.
type Span struct {
	entity
	parent abi.ID
}

// ParentID returns the handle the span was opened under
func (s Span) ParentID() abi.ID { return s.parent }

func (s Span) Close() bool { return s.closeAt(s.c.clock()) }

func (s Span) CloseAt(finish time.Time) bool { return s.closeAt(finish) }

func startSpan(c *client, parent abi.ID, opts SpanOptions) Span {
	start := opts.Start
	if start.IsZero() {
		start = c.clock()
	}
	id := c.child(abi.EntitySpan.Export(abi.OpCreate), parent, func(s *marshal.Scope) ([]uint64, error) {
		ptr, err := spanStartOptions(s, opts, start)
		return []uint64{api.EncodeU32(ptr)}, err
	})
	return Span{entity: entity{c: c, kind: abi.EntitySpan, id: id}, parent: parent}
}

func spanStartOptions(s *marshal.Scope, opts SpanOptions, start time.Time) (uint32, error) {
	op, err := s.CString("operation_name", opts.OperationName)
	if err != nil {
		return 0, err
	}
	optional := []struct{ field, value string }{
		{"service_name", opts.ServiceName},
		{"resource_name", opts.ResourceName},
		{"span_type", opts.SpanType},
	}
	ptrs := make([]uint32, len(optional))
	for i, o := range optional {
		if ptrs[i], err = s.OptionalCString(o.field, o.value); err != nil {
			return 0, err
		}
	}

	var strTags, numTags uint32
	if len(opts.StringTags) > 0 {
		if strTags, err = s.KeyValueArray("string_tags", marshal.KeyValues(opts.StringTags)); err != nil {
			return 0, err
		}
	}
	if len(opts.NumberTags) > 0 {
		if numTags, err = s.KeyNumberArray("number_tags", marshal.KeyNumbers(opts.NumberTags)); err != nil {
			return 0, err
		}
	}
	ts, err := s.Time(abi.FromTime(start))
	if err != nil {
		return 0, err
	}

	v, err := s.Record(abi.SpanStartOptions)
	if err != nil {
		return 0, err
	}
	v.SetU32("operation_name", op).
		SetU32("start_time", ts).
		SetU32("string_tags", strTags).
		SetU32("number_tags", numTags)
	for i, o := range optional {
		v.SetU32(o.field, ptrs[i])
	}
	return v.Ptr(), v.Err()
}
