package optimization

import (
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/marshal"
)

// Test is a single test case
type Test struct {
	suite Suite
	entity
}

// Suite returns the suite the test was created in
func (t Test) Suite() Suite { return t.suite }

func (t Test) SetSource(file string, startLine, endLine *int32) bool {
	return t.setSource(file, startLine, endLine)
}

// Close finishes the test with a terminal status
func (t Test) Close(status Status) bool {
	return t.close(status, "", t.c.clock())
}

func (t Test) CloseAt(status Status, finish time.Time) bool {
	return t.close(status, "", finish)
}

// CloseWithSkipReason finishes the test as skipped. An empty reason is
// sent as no reason.
func (t Test) CloseWithSkipReason(reason string) bool {
	return t.close(StatusSkip, reason, t.c.clock())
}

func (t Test) CloseWithSkipReasonAt(reason string, finish time.Time) bool {
	return t.close(StatusSkip, reason, finish)
}

func (t Test) close(status Status, reason string, finish time.Time) bool {
	fn := abi.EntityTest.Export(abi.OpClose)
	return t.c.invoke(fn, t.id, func(s *marshal.Scope) ([]uint64, error) {
		code, ok := status.code()
		if !ok {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
				Path("status").
				Func(fn).
				Value(status).
				Detail("unknown test status %s", status).
				Build()
		}
		var reasonPtr uint32
		if status == StatusSkip {
			var err error
			if reasonPtr, err = s.OptionalCString("skip_reason", reason); err != nil {
				return nil, err
			}
		}
		finishPtr, err := s.Time(abi.FromTime(finish))
		if err != nil {
			return nil, err
		}
		opts, err := s.Record(abi.TestCloseOptions)
		if err != nil {
			return nil, err
		}
		opts.SetU8("status", code).
			SetU32("finish_time", finishPtr).
			SetU32("skip_reason", reasonPtr)
		return []uint64{api.EncodeU32(opts.Ptr())}, opts.Err()
	})
}

// SetCoverageData reports the files covered by the test as one coverage
// record. The engine does not acknowledge coverage, so nothing is
// returned; transient buffers are released either way.
func (t Test) SetCoverageData(files []string) {
	if !t.c.enabled() || !t.id.Valid() {
		return
	}
	fn := abi.FnSendCodeCoveragePayload
	for _, f := range files {
		if err := marshal.ValidateCString("filename", f); err != nil {
			t.c.inputError(fn, err)
			return
		}
	}

	err := t.c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		cov, err := t.coverageRecord(s, files)
		if err != nil {
			return err
		}
		_, err = call(fn, api.EncodeU32(cov), api.EncodeU32(1))
		return err
	})
	if err != nil {
		t.c.failed(fn, t.id, err)
	}
}

func (t Test) coverageRecord(s *marshal.Scope, files []string) (uint32, error) {
	data, err := s.Elements(abi.TestCoverageFile, len(files))
	if err != nil {
		return 0, err
	}
	size := abi.TestCoverageFile.Size()
	for i, f := range files {
		name, err := s.CString("filename", f)
		if err != nil {
			return 0, err
		}
		// bitmaps are left null: this client reports file sets only
		el := marshal.At(s.Memory(), data+uint32(i)*size, abi.TestCoverageFile)
		if err := el.SetU32("filename", name).Err(); err != nil {
			return 0, err
		}
	}

	cov, err := s.Record(abi.TestCoverage)
	if err != nil {
		return 0, err
	}
	cov.SetU64("session_id", uint64(t.suite.module.session.ID())).
		SetU64("suite_id", uint64(t.suite.id)).
		SetU64("test_id", uint64(t.id)).
		SetU32("files", data).
		SetU32("files_len", uint32(len(files)))
	return cov.Ptr(), cov.Err()
}

// SetBenchmarkStringData reports string measurements as
// benchmark.<measure>.<key> tags. An empty data set makes no call.
func (t Test) SetBenchmarkStringData(measure string, data map[string]string) bool {
	if len(data) == 0 {
		return true
	}
	return t.c.invoke(abi.FnTestSetBenchmarkStringData, t.id, func(s *marshal.Scope) ([]uint64, error) {
		args, err := strs(s, "measure_type", measure)
		if err != nil {
			return nil, err
		}
		arr, err := s.KeyValueArray("data_array", marshal.KeyValues(data))
		return append(args, api.EncodeU32(arr)), err
	})
}

// SetBenchmarkNumberData reports numeric measurements. An empty data set
// makes no call.
func (t Test) SetBenchmarkNumberData(measure string, data map[string]float64) bool {
	if len(data) == 0 {
		return true
	}
	return t.c.invoke(abi.FnTestSetBenchmarkNumberData, t.id, func(s *marshal.Scope) ([]uint64, error) {
		args, err := strs(s, "measure_type", measure)
		if err != nil {
			return nil, err
		}
		arr, err := s.KeyNumberArray("data_array", marshal.KeyNumbers(data))
		return append(args, api.EncodeU32(arr)), err
	})
}
