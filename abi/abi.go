package abi

import "fmt"

// ID is an engine-assigned entity handle
type ID uint64

// Invalid is the reserved handle denoting an uninitialized or failed entity
const Invalid ID = 0

// Valid reports whether the handle is not the reserved sentinel
func (id ID) Valid() bool { return id != Invalid }

// Test status wire codes
const (
	StatusPass uint8 = 0
	StatusFail uint8 = 1
	StatusSkip uint8 = 2
)

// ExitFailure is the session exit code reported when the process is unwinding
const ExitFailure int32 = 1

// EncodeBool converts a Go bool to the wire byte
func EncodeBool(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// DecodeBool converts a wire byte to a Go bool; any non-zero value is true
func DecodeBool(v uint8) bool {
	return v != 0
}

// DecodeResult interprets the i32 returned by a Bool-returning export
func DecodeResult(ret uint64) bool {
	return DecodeBool(uint8(ret))
}

// Entity names the entity family of an export
type Entity string

const (
	EntitySession Entity = "session"
	EntityModule  Entity = "module"
	EntitySuite   Entity = "suite"
	EntityTest    Entity = "test"
	EntitySpan    Entity = "span"
)

// Per-entity operations
const (
	OpCreate       = "create"
	OpClose        = "close"
	OpSetStringTag = "set_string_tag"
	OpSetNumberTag = "set_number_tag"
	OpSetError     = "set_error"
	OpSetSource    = "set_source"
)

// Export returns the export name of an entity operation
func (e Entity) Export(op string) string {
	return fmt.Sprintf("topt_%s_%s", e, op)
}

// Fixed exports
const (
	FnInitialize = "topt_initialize"
	FnShutdown   = "topt_shutdown"

	FnGetSettings                 = "topt_get_settings"
	FnGetFlakyTestRetriesSettings = "topt_get_flaky_test_retries_settings"
	FnGetKnownTests               = "topt_get_known_tests"
	FnFreeKnownTests              = "topt_free_known_tests"
	FnGetSkippableTests           = "topt_get_skippable_tests"
	FnFreeSkippableTests          = "topt_free_skippable_tests"
	FnGetTestManagementTests      = "topt_get_test_management_tests"
	FnFreeTestManagementTests     = "topt_free_test_management_tests"

	FnSendCodeCoveragePayload = "topt_send_code_coverage_payload"

	FnTestSetBenchmarkStringData = "topt_test_set_benchmark_string_data"
	FnTestSetBenchmarkNumberData = "topt_test_set_benchmark_number_data"

	FnMockTracerReset         = "topt_debug_mock_tracer_reset"
	FnMockTracerFinishedSpans = "topt_debug_mock_tracer_get_finished_spans"
	FnMockTracerOpenSpans     = "topt_debug_mock_tracer_get_open_spans"
	FnMockTracerFreeSpanArray = "topt_debug_mock_tracer_free_mock_span_array"

	// FnBootstrap is the optional reactor entry point run once before any call
	FnBootstrap = "_initialize"
)

// Allocator exports, in lookup order
var (
	AllocExports = []string{"cabi_realloc", "canonical_abi_realloc", "malloc", "allocate", "alloc"}
	FreeExports  = []string{"cabi_free", "free", "deallocate", "dealloc"}
)
