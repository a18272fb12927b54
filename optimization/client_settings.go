package optimization

import (
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/marshal"
)

// GetSettings fetches the adaptive execution configuration. It has no
// effect on session state and may be called any number of times. A
// disabled session or a failed fetch yields the zero Settings.
func (s *Session) GetSettings() Settings {
	if !s.Enabled() {
		return Settings{}
	}
	var out Settings
	err := s.c.record(abi.FnGetSettings, abi.SettingsResponse, func(v *marshal.View) {
		out = Settings{
			CodeCoverage: v.Bool("code_coverage"),
			EarlyFlakeDetection: EarlyFlakeDetection{
				Enabled: v.Bool("early_flake_detection.enabled"),
				SlowTestRetries: SlowTestRetries{
					TenS:    v.I32("early_flake_detection.slow_test_retries.ten_s"),
					ThirtyS: v.I32("early_flake_detection.slow_test_retries.thirty_s"),
					FiveM:   v.I32("early_flake_detection.slow_test_retries.five_m"),
					FiveS:   v.I32("early_flake_detection.slow_test_retries.five_s"),
				},
				FaultySessionThreshold: v.I32("early_flake_detection.faulty_session_threshold"),
			},
			FlakyTestRetriesEnabled: v.Bool("flaky_test_retries_enabled"),
			ITREnabled:              v.Bool("itr_enabled"),
			RequireGit:              v.Bool("require_git"),
			TestsSkipping:           v.Bool("tests_skipping"),
			KnownTestsEnabled:       v.Bool("known_tests_enabled"),
			TestManagement: TestManagementSettings{
				Enabled:             v.Bool("test_management.enabled"),
				AttemptToFixRetries: v.I32("test_management.attempt_to_fix_retries"),
			},
		}
	})
	if err != nil {
		s.c.log.Debug("get settings", zap.Error(err))
		return Settings{}
	}
	return out
}

func (s *Session) GetFlakyTestRetriesSettings() FlakyTestRetriesSettings {
	if !s.Enabled() {
		return FlakyTestRetriesSettings{}
	}
	var out FlakyTestRetriesSettings
	err := s.c.record(abi.FnGetFlakyTestRetriesSettings, abi.FlakyTestRetriesSettings, func(v *marshal.View) {
		out.RetryCount = v.I32("retry_count")
		out.TotalRetryCount = v.I32("total_retry_count")
	})
	if err != nil {
		s.c.log.Debug("get flaky test retries settings", zap.Error(err))
		return FlakyTestRetriesSettings{}
	}
	return out
}

// GetKnownTests fetches the tests the engine has seen before
func (s *Session) GetKnownTests() KnownTests {
	out := KnownTests{}
	if !s.Enabled() {
		return out
	}
	err := s.c.fetch(abi.FnGetKnownTests, abi.FnFreeKnownTests, abi.KnownTest, func(el *marshal.View) error {
		out.add(el.CString("module_name"), el.CString("suite_name"), el.CString("test_name"))
		return nil
	})
	if err != nil {
		s.c.log.Debug("get known tests", zap.Error(err))
		return KnownTests{}
	}
	return out
}

// GetSkippableTests fetches the tests the engine allows to skip
func (s *Session) GetSkippableTests() SkippableTests {
	out := SkippableTests{}
	if !s.Enabled() {
		return out
	}
	err := s.c.fetch(abi.FnGetSkippableTests, abi.FnFreeSkippableTests, abi.SkippableTest, func(el *marshal.View) error {
		out.add(SkippableTest{
			Suite:                    el.CString("suite_name"),
			Test:                     el.CString("test_name"),
			Parameters:               el.CString("parameters"),
			CustomConfigurationsJSON: el.CString("custom_configurations_json"),
		})
		return nil
	})
	if err != nil {
		s.c.log.Debug("get skippable tests", zap.Error(err))
		return SkippableTests{}
	}
	return out
}

// GetTestManagementTests fetches quarantine, disable and attempt-to-fix
// flags. When a test appears twice the first entry is kept.
func (s *Session) GetTestManagementTests() TestManagementTests {
	out := TestManagementTests{}
	if !s.Enabled() {
		return out
	}
	err := s.c.fetch(abi.FnGetTestManagementTests, abi.FnFreeTestManagementTests, abi.TestManagementTestProperties, func(el *marshal.View) error {
		out.add(TestManagementTestProperties{
			Module:       el.CString("module_name"),
			Suite:        el.CString("suite_name"),
			Test:         el.CString("test_name"),
			Quarantined:  el.Bool("quarantined"),
			Disabled:     el.Bool("disabled"),
			AttemptToFix: el.Bool("attempt_to_fix"),
		})
		return nil
	})
	if err != nil {
		s.c.log.Debug("get test management tests", zap.Error(err))
		return TestManagementTests{}
	}
	return out
}

// record calls an export that fills a client-allocated out-record
func (c *client) record(fn string, rec *abi.Record, read func(v *marshal.View)) error {
	return c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		v, err := s.Record(rec)
		if err != nil {
			return err
		}
		if _, err := call(fn, api.EncodeU32(v.Ptr())); err != nil {
			return err
		}
		read(v)
		return v.Err()
	})
}
