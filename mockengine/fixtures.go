package mockengine

import "time"

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

type TestManagement struct {
	AttemptToFixRetries int32
	Enabled             bool
}

// Settings is the configuration served by topt_get_settings
type Settings struct {
	EarlyFlakeDetection     EarlyFlakeDetection
	TestManagement          TestManagement
	CodeCoverage            bool
	FlakyTestRetriesEnabled bool
	ITREnabled              bool
	RequireGit              bool
	TestsSkipping           bool
	KnownTestsEnabled       bool
}

type FlakyTestRetries struct {
	RetryCount      int32
	TotalRetryCount int32
}

type KnownTest struct {
	Module string
	Suite  string
	Test   string
}

type SkippableTest struct {
	Suite                    string
	Test                     string
	Parameters               string
	CustomConfigurationsJSON string
}

type ManagementTest struct {
	Module       string
	Suite        string
	Test         string
	Quarantined  bool
	Disabled     bool
	AttemptToFix bool
}

// Option configures an Engine
type Option func(*Engine)

func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

func WithFlakyTestRetries(f FlakyTestRetries) Option {
	return func(e *Engine) { e.flaky = f }
}

func WithKnownTests(tests ...KnownTest) Option {
	return func(e *Engine) { e.known = append(e.known, tests...) }
}

func WithSkippableTests(tests ...SkippableTest) Option {
	return func(e *Engine) { e.skippable = append(e.skippable, tests...) }
}

func WithManagementTests(tests ...ManagementTest) Option {
	return func(e *Engine) { e.management = append(e.management, tests...) }
}

// WithFailInitialize makes topt_initialize report failure
func WithFailInitialize() Option {
	return func(e *Engine) { e.failInit = true }
}

// WithoutExport removes an export, as an older engine would lack it
func WithoutExport(name string) Option {
	return func(e *Engine) { delete(e.exports, name) }
}

// WithClock sets the time source used when a call passes a null timestamp
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMemoryLimit caps engine memory in 64KB pages
func WithMemoryLimit(pages uint32) Option {
	return func(e *Engine) { e.mem = NewMemory(1, pages) }
}
