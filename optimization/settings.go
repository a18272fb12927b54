package optimization

// SlowTestRetries is the early flake detection retry budget per test
// duration bucket
type SlowTestRetries struct {
	TenS    int32
	ThirtyS int32
	FiveM   int32
	FiveS   int32
}

type EarlyFlakeDetection struct {
	SlowTestRetries        SlowTestRetries
	FaultySessionThreshold int32
	Enabled                bool
}

type TestManagementSettings struct {
	AttemptToFixRetries int32
	Enabled             bool
}

// Settings is the adaptive execution configuration of a session. The zero
// value has every feature disabled.
type Settings struct {
	EarlyFlakeDetection     EarlyFlakeDetection
	TestManagement          TestManagementSettings
	CodeCoverage            bool
	FlakyTestRetriesEnabled bool
	ITREnabled              bool
	RequireGit              bool
	TestsSkipping           bool
	KnownTestsEnabled       bool
}

type FlakyTestRetriesSettings struct {
	RetryCount      int32
	TotalRetryCount int32
}

// KnownTests maps module to suite to the names of tests seen in earlier runs
type KnownTests map[string]map[string][]string

// Contains reports whether a test is known
func (k KnownTests) Contains(module, suite, test string) bool {
	for _, name := range k[module][suite] {
		if name == test {
			return true
		}
	}
	return false
}

func (k KnownTests) add(module, suite, test string) {
	suites, ok := k[module]
	if !ok {
		suites = make(map[string][]string)
		k[module] = suites
	}
	suites[suite] = append(suites[suite], test)
}

type SkippableTest struct {
	Suite                    string
	Test                     string
	Parameters               string
	CustomConfigurationsJSON string
}

// SkippableTests maps suite to test to the skippable entries, one per
// parameter set
type SkippableTests map[string]map[string][]SkippableTest

// IsSkippable reports whether any entry exists for a test
func (s SkippableTests) IsSkippable(suite, test string) bool {
	return len(s[suite][test]) > 0
}

func (s SkippableTests) add(t SkippableTest) {
	tests, ok := s[t.Suite]
	if !ok {
		tests = make(map[string][]SkippableTest)
		s[t.Suite] = tests
	}
	tests[t.Test] = append(tests[t.Test], t)
}

type TestManagementTestProperties struct {
	Module       string
	Suite        string
	Test         string
	Quarantined  bool
	Disabled     bool
	AttemptToFix bool
}

// TestManagementTests maps module to suite to test to its properties
type TestManagementTests map[string]map[string]map[string]TestManagementTestProperties

// Lookup returns the properties of a test
func (m TestManagementTests) Lookup(module, suite, test string) (TestManagementTestProperties, bool) {
	p, ok := m[module][suite][test]
	return p, ok
}

// add keeps the first entry for a test
func (m TestManagementTests) add(p TestManagementTestProperties) {
	suites, ok := m[p.Module]
	if !ok {
		suites = make(map[string]map[string]TestManagementTestProperties)
		m[p.Module] = suites
	}
	tests, ok := suites[p.Suite]
	if !ok {
		tests = make(map[string]TestManagementTestProperties)
		suites[p.Suite] = tests
	}
	if _, dup := tests[p.Test]; !dup {
		tests[p.Test] = p
	}
}
