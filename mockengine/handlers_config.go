package mockengine

import (
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/constants"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/marshal"
)

func (e *Engine) initialize(p []uint64) (uint64, error) {
	if e.state == stateReady || e.failInit {
		return result(false), nil
	}

	v := marshal.At(e.mem, api.DecodeU32(p[0]), abi.InitOptions)
	opts := InitOptions{
		Language:         v.CString("language"),
		RuntimeName:      v.CString("runtime_name"),
		RuntimeVersion:   v.CString("runtime_version"),
		WorkingDirectory: v.CString("working_directory"),
		UseMockTracer:    v.Bool("use_mock_tracer"),
	}
	env, tags := v.U32("environment_variables"), v.U32("global_tags")
	if err := v.Err(); err != nil {
		return 0, err
	}

	var err error
	if opts.Environment, err = e.readMap(env); err != nil {
		return 0, err
	}
	if opts.GlobalTags, err = e.readMap(tags); err != nil {
		return 0, err
	}

	e.initOpts = opts
	e.state = stateReady
	e.tracer.setEnabled(opts.UseMockTracer)
	engine.Logger().Debug("mock engine initialized",
		zap.String("language", opts.Language),
		zap.Bool("mock_tracer", opts.UseMockTracer))
	return result(true), nil
}

// readMap decodes an optional key/value array
func (e *Engine) readMap(ptr uint32) (map[string]string, error) {
	if ptr == 0 {
		return nil, nil
	}
	kvs, err := marshal.ReadKeyValues(e.mem, ptr)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m, nil
}

func (e *Engine) shutdown([]uint64) (uint64, error) {
	e.shutdowns++
	if e.state == stateReady {
		e.state = stateShutdown
	}
	return result(true), nil
}

func (e *Engine) getSettings(p []uint64) (uint64, error) {
	out := marshal.At(e.mem, api.DecodeU32(p[0]), abi.SettingsResponse)
	s := e.settings
	if !e.ready() {
		s = Settings{}
	}
	efd := s.EarlyFlakeDetection
	out.SetBool("code_coverage", s.CodeCoverage).
		SetBool("early_flake_detection.enabled", efd.Enabled).
		SetI32("early_flake_detection.slow_test_retries.ten_s", efd.SlowTestRetries.TenS).
		SetI32("early_flake_detection.slow_test_retries.thirty_s", efd.SlowTestRetries.ThirtyS).
		SetI32("early_flake_detection.slow_test_retries.five_m", efd.SlowTestRetries.FiveM).
		SetI32("early_flake_detection.slow_test_retries.five_s", efd.SlowTestRetries.FiveS).
		SetI32("early_flake_detection.faulty_session_threshold", efd.FaultySessionThreshold).
		SetBool("flaky_test_retries_enabled", s.FlakyTestRetriesEnabled).
		SetBool("itr_enabled", s.ITREnabled).
		SetBool("require_git", s.RequireGit).
		SetBool("tests_skipping", s.TestsSkipping).
		SetBool("known_tests_enabled", s.KnownTestsEnabled).
		SetBool("test_management.enabled", s.TestManagement.Enabled).
		SetI32("test_management.attempt_to_fix_retries", s.TestManagement.AttemptToFixRetries)
	return 0, out.Err()
}

func (e *Engine) getFlakyTestRetries(p []uint64) (uint64, error) {
	out := marshal.At(e.mem, api.DecodeU32(p[0]), abi.FlakyTestRetriesSettings)
	f := e.flaky
	if !e.ready() {
		f = FlakyTestRetries{}
	}
	out.SetI32("retry_count", f.RetryCount).SetI32("total_retry_count", f.TotalRetryCount)
	return 0, out.Err()
}

func (e *Engine) getKnownTests(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.emptyArray(p[0])
	}
	return e.newArray(p[0], abi.KnownTest, len(e.known), func(s *marshal.Scope, i int, el *marshal.View) error {
		t := e.known[i]
		return e.fillStrings(s, el, "module_name", t.Module, "suite_name", t.Suite, "test_name", t.Test)
	})
}

func (e *Engine) getSkippableTests(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.emptyArray(p[0])
	}
	return e.newArray(p[0], abi.SkippableTest, len(e.skippable), func(s *marshal.Scope, i int, el *marshal.View) error {
		t := e.skippable[i]
		return e.fillStrings(s, el,
			"suite_name", t.Suite,
			"test_name", t.Test,
			"parameters", t.Parameters,
			"custom_configurations_json", t.CustomConfigurationsJSON)
	})
}

func (e *Engine) getManagementTests(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.emptyArray(p[0])
	}
	return e.newArray(p[0], abi.TestManagementTestProperties, len(e.management), func(s *marshal.Scope, i int, el *marshal.View) error {
		t := e.management[i]
		if err := e.fillStrings(s, el, "module_name", t.Module, "suite_name", t.Suite, "test_name", t.Test); err != nil {
			return err
		}
		el.SetBool("quarantined", t.Quarantined).
			SetBool("disabled", t.Disabled).
			SetBool("attempt_to_fix", t.AttemptToFix)
		return el.Err()
	})
}

// fillStrings writes field/value pairs of string fields
func (e *Engine) fillStrings(s *marshal.Scope, el *marshal.View, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		ptr, err := s.CString(pairs[i], pairs[i+1])
		if err != nil {
			return err
		}
		el.SetU32(pairs[i], ptr)
	}
	return el.Err()
}

// emptyArray writes a header with a null data pointer, which needs no release
func (e *Engine) emptyArray(out uint64) (uint64, error) {
	hdr := marshal.At(e.mem, api.DecodeU32(out), abi.Array)
	return 0, hdr.SetU32("data", 0).SetU32("len", 0).Err()
}

// newArray builds an engine-owned array of n records and writes its header
// to the out pointer. The data block is allocated even when n is 0 so every
// returned array has a distinct address to release.
func (e *Engine) newArray(out uint64, rec *abi.Record, n int, fill func(s *marshal.Scope, i int, el *marshal.View) error) (uint64, error) {
	hdr := marshal.At(e.mem, api.DecodeU32(out), abi.Array)
	s := marshal.NewScope(e.mem, e.engineAlloc)
	count := uint32(n)
	if count == 0 {
		count = 1
	}
	data, err := s.Alloc(rec.Size()*count, rec.Align())
	if err != nil {
		s.Release()
		return 0, err
	}
	for i := 0; i < n; i++ {
		el := marshal.At(e.mem, data+uint32(i)*rec.Size(), rec)
		if err := fill(s, i, el); err != nil {
			s.Release()
			return 0, err
		}
	}
	if err := hdr.SetU32("data", data).SetU32("len", uint32(n)).Err(); err != nil {
		s.Release()
		return 0, err
	}
	e.arrays[data] = s.Detach()
	return 0, nil
}

// freeArray releases an array returned by one of the get exports. Freeing
// an array that is unknown or already released is counted, not trapped.
func (e *Engine) freeArray(p []uint64) (uint64, error) {
	data, _, err := marshal.ArrayHeader(e.mem, api.DecodeU32(p[0]))
	if err != nil {
		return 0, err
	}
	if data == 0 {
		return 0, nil
	}
	allocs, ok := e.arrays[data]
	if !ok {
		e.invalidFrees++
		engine.Logger().Warn("mock engine: free of unknown array", zap.Uint32("data", data))
		return 0, nil
	}
	delete(e.arrays, data)
	for i := len(allocs) - 1; i >= 0; i-- {
		e.engineAlloc.Free(allocs[i].Ptr, allocs[i].Size, allocs[i].Align)
	}
	e.arrayFrees++
	return 0, nil
}

func (e *Engine) sendCoverage(p []uint64) (uint64, error) {
	ptr, n := api.DecodeU32(p[0]), api.DecodeU32(p[1])
	if !e.ready() {
		return 0, nil
	}
	if n > 0 && ptr == 0 {
		return 0, errors.LengthMismatch(errors.PhaseDecode, []string{"coverages"}, ptr, n)
	}

	batch := make([]Coverage, 0, n)
	for i := uint32(0); i < n; i++ {
		v := marshal.At(e.mem, ptr+i*abi.TestCoverage.Size(), abi.TestCoverage)
		c := Coverage{
			SessionID: abi.ID(v.U64("session_id")),
			SuiteID:   abi.ID(v.U64("suite_id")),
			TestID:    abi.ID(v.U64("test_id")),
		}
		files, filesLen := v.U32("files"), v.U32("files_len")
		if err := v.Err(); err != nil {
			return 0, err
		}
		if filesLen > 0 && files == 0 {
			return 0, errors.LengthMismatch(errors.PhaseDecode, []string{"coverages", "files"}, files, filesLen)
		}
		for j := uint32(0); j < filesLen; j++ {
			f := marshal.At(e.mem, files+j*abi.TestCoverageFile.Size(), abi.TestCoverageFile)
			file := CoverageFile{Filename: f.CString("filename")}
			bitmap, bitmapLen := f.U32("bitmap"), f.U32("bitmap_len")
			if err := f.Err(); err != nil {
				return 0, err
			}
			if bitmap != 0 && bitmapLen > 0 {
				b, err := e.mem.Read(bitmap, bitmapLen)
				if err != nil {
					return 0, err
				}
				file.Bitmap = b
			}
			c.Files = append(c.Files, file)
		}
		batch = append(batch, c)
	}
	e.coverage = append(e.coverage, batch)

	if len(batch) > 0 {
		if t, ok := e.table.Get(batch[0].TestID, abi.EntityTest); ok {
			t.NumberTags[constants.CodeCoverageFiles] = float64(len(batch[0].Files))
		}
	}
	return 0, nil
}
