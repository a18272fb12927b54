package mockengine

import (
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/marshal"
)

// The debug tracer exports keep working after shutdown so a finished run
// can still be inspected.

func (e *Engine) mockReset([]uint64) (uint64, error) {
	e.tracer.reset()
	return result(true), nil
}

func (e *Engine) mockSpans(finished bool) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		spans := e.tracer.snapshot(finished)
		return e.newArray(p[0], abi.MockSpan, len(spans), func(s *marshal.Scope, i int, el *marshal.View) error {
			sp := spans[i]
			op, err := s.CString("operation_name", sp.Operation)
			if err != nil {
				return err
			}
			el.SetU64("span_id", uint64(sp.ID)).
				SetU64("trace_id", uint64(sp.TraceID)).
				SetU64("parent_span_id", uint64(sp.ParentID)).
				SetTime("start_time", sp.Start).
				SetTime("finish_time", sp.Finish).
				SetU32("operation_name", op)
			if err := el.Err(); err != nil {
				return err
			}
			if err := s.FillKeyValues(marshal.At(e.mem, el.Addr("string_tags"), abi.Array), marshal.KeyValues(sp.StringTags)); err != nil {
				return err
			}
			return s.FillKeyNumbers(marshal.At(e.mem, el.Addr("number_tags"), abi.Array), marshal.KeyNumbers(sp.NumberTags))
		})
	}
}
