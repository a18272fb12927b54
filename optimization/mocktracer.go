package optimization

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/marshal"
)

// MockSpan is a span captured by the engine's debug tracer
type MockSpan struct {
	Start         time.Time
	Finish        time.Time
	StringTags    map[string]string
	NumberTags    map[string]float64
	OperationName string
	SpanID        abi.ID
	TraceID       abi.ID
	ParentSpanID  abi.ID
}

// MockTracer inspects the engine's debug tracer. It is meant for testing
// clients and runners, not for production telemetry.
type MockTracer struct {
	c *client
}

// Reset drops every captured span
func (m *MockTracer) Reset() bool {
	if !m.c.enabled() {
		return false
	}
	ret, err := m.c.call(abi.FnMockTracerReset)
	if err != nil {
		m.c.log.Debug("mock tracer reset", zap.Error(err))
		return false
	}
	return abi.DecodeResult(ret)
}

// FinishedSpans returns closed spans ordered by span id
func (m *MockTracer) FinishedSpans() []MockSpan {
	return m.spans(abi.FnMockTracerFinishedSpans)
}

// OpenSpans returns spans that were started but not closed
func (m *MockTracer) OpenSpans() []MockSpan {
	return m.spans(abi.FnMockTracerOpenSpans)
}

func (m *MockTracer) spans(fn string) []MockSpan {
	if !m.c.enabled() {
		return nil
	}
	var out []MockSpan
	err := m.c.fetch(fn, abi.FnMockTracerFreeSpanArray, abi.MockSpan, func(el *marshal.View) error {
		span := MockSpan{
			SpanID:        abi.ID(el.U64("span_id")),
			TraceID:       abi.ID(el.U64("trace_id")),
			ParentSpanID:  abi.ID(el.U64("parent_span_id")),
			Start:         el.Time("start_time").Time(),
			Finish:        el.Time("finish_time").Time(),
			OperationName: el.CString("operation_name"),
			StringTags:    make(map[string]string),
			NumberTags:    make(map[string]float64),
		}
		mem := el.Memory()
		kvs, err := marshal.ReadKeyValues(mem, el.Addr("string_tags"))
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			span.StringTags[kv.Key] = kv.Value
		}
		kns, err := marshal.ReadKeyNumbers(mem, el.Addr("number_tags"))
		if err != nil {
			return err
		}
		for _, kn := range kns {
			span.NumberTags[kn.Key] = kn.Value
		}
		out = append(out, span)
		return nil
	})
	if err != nil {
		m.c.log.Debug("mock tracer spans", zap.String("fn", fn), zap.Error(err))
		return nil
	}
	return out
}

// Find returns the first span whose tag key has value
func Find(spans []MockSpan, key, value string) (MockSpan, bool) {
	for _, s := range spans {
		if s.StringTags[key] == value {
			return s, true
		}
	}
	return MockSpan{}, false
}
