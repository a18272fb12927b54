package constants

const (
	// Origin is a tag used to indicate the origin of the data.
	Origin = "_dd.origin"

	// CIAppTestOrigin is the origin value of spans produced by test runs.
	CIAppTestOrigin = "ciapp-test"

	TestSessionIDTag = "test_session_id"
	TestModuleIDTag  = "test_module_id"
	TestSuiteIDTag   = "test_suite_id"
)

// Test entity tags
const (
	TestFramework        = "test.framework"
	TestFrameworkVersion = "test.framework_version"
	TestModule           = "test.module"
	TestSuite            = "test.suite"
	TestName             = "test.name"
	TestStatus           = "test.status"

	// TestSkipReason is only present when a non-empty reason was given.
	TestSkipReason = "test.skip_reason"

	// TestCommandExitCode is the session exit code as reported at close.
	TestCommandExitCode = "test.exit_code"

	TestSourceFile      = "test.source.file"
	TestSourceStartLine = "test.source.start"
	TestSourceEndLine   = "test.source.end"

	// BenchmarkPrefix prefixes benchmark tags as benchmark.<measure>.<key>.
	BenchmarkPrefix = "benchmark"
)

// Test status values
const (
	TestStatusPass = "pass"
	TestStatusFail = "fail"
	TestStatusSkip = "skip"
)

// Error tags
const (
	ErrorType    = "error.type"
	ErrorMessage = "error.message"
	ErrorStack   = "error.stack"
)

// Span tags
const (
	ServiceName  = "service.name"
	ResourceName = "resource.name"
	SpanType     = "span.type"
)

// Runtime tags
const (
	Language       = "language"
	RuntimeName    = "runtime.name"
	RuntimeVersion = "runtime.version"
	WorkingDir     = "ci.workspace_path"
)

// Coverage tags
const (
	// CodeCoverageEnabledTag marks whether code coverage was enabled.
	CodeCoverageEnabledTag = "test.code_coverage.enabled"

	// CodeCoverageFiles is the number of files reported for a test.
	CodeCoverageFiles = "test.code_coverage.files"
)

// Runner decision tags, set by runners from the session directives
const (
	TestIsNew         = "test.is_new"
	TestIsRetry       = "test.is_retry"
	TestIsQuarantined = "test.test_management.is_quarantined"
	TestIsDisabled    = "test.test_management.is_test_disabled"
	TestAttemptToFix  = "test.test_management.is_attempt_to_fix"
)
