package abi

import (
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/testopt/internal/layout"
)

var calc = layout.NewCalculator()

// Record is a fixed-layout boundary record
type Record struct {
	Def  *wit.TypeDef
	Name string
	info layout.Info
}

func newRecord(name string, fields ...wit.Field) *Record {
	n := name
	def := &wit.TypeDef{Name: &n, Kind: &wit.Record{Fields: fields}}
	return &Record{Name: name, Def: def, info: calc.Calculate(def)}
}

// Size returns the record size in bytes including trailing padding
func (r *Record) Size() uint32 { return r.info.Size }

// Align returns the record alignment
func (r *Record) Align() uint32 { return r.info.Align }

// Offset returns the byte offset of a possibly nested field.
// Unknown paths are programming errors and panic.
func (r *Record) Offset(path ...string) uint32 {
	off, ok := calc.Offset(r.Def, path...)
	if !ok {
		panic(fmt.Sprintf("abi: record %s has no field %s", r.Name, strings.Join(path, ".")))
	}
	return off
}

// Type returns the WIT type of a field, or nil when the path is unknown
func (r *Record) Type(path ...string) wit.Type {
	return calc.FieldType(r.Def, path...)
}

// Fields returns the top-level field names in declaration order
func (r *Record) Fields() []string {
	rec := r.Def.Kind.(*wit.Record)
	names := make([]string, len(rec.Fields))
	for i, f := range rec.Fields {
		names[i] = f.Name
	}
	return names
}

func field(name string, t wit.Type) wit.Field {
	return wit.Field{Name: name, Type: t}
}

// Field kinds. Pointers and sizes are u32 on the wasm32 target; C strings
// are pointers to NUL-terminated bytes.
var (
	ptr   = wit.U32{}
	usize = wit.U32{}
	cstr  = wit.String{}
	cint  = wit.S32{}
	cbool = wit.Bool{}
)

func reserved() []wit.Field {
	return []wit.Field{
		field("unused01", ptr),
		field("unused02", ptr),
		field("unused03", ptr),
		field("unused04", ptr),
		field("unused05", ptr),
	}
}

// Boundary records
var (
	Time = newRecord("unix-time",
		field("sec", wit.U64{}),
		field("nsec", wit.U64{}),
	)

	// EntityResult is the out-record of every create call
	EntityResult = newRecord("entity-result",
		field("id", wit.U64{}),
		field("valid", cbool),
	)

	// Array is the (data, len) header shared by every array type
	Array = newRecord("array",
		field("data", ptr),
		field("len", usize),
	)

	KeyValuePair = newRecord("key-value-pair",
		field("key", cstr),
		field("value", cstr),
	)

	KeyNumberPair = newRecord("key-number-pair",
		field("key", cstr),
		field("value", wit.F64{}),
	)

	InitOptions = newRecord("init-options", append([]wit.Field{
		field("language", cstr),
		field("runtime_name", cstr),
		field("runtime_version", cstr),
		field("working_directory", cstr),
		field("environment_variables", ptr),
		field("global_tags", ptr),
		field("use_mock_tracer", cbool),
	}, reserved()...)...)

	TestCloseOptions = newRecord("test-close-options", append([]wit.Field{
		field("status", wit.U8{}),
		field("finish_time", ptr),
		field("skip_reason", cstr),
	}, reserved()...)...)

	slowTestRetries = newRecord("slow-test-retries",
		field("ten_s", cint),
		field("thirty_s", cint),
		field("five_m", cint),
		field("five_s", cint),
	)

	earlyFlakeDetection = newRecord("early-flake-detection",
		field("enabled", cbool),
		field("slow_test_retries", slowTestRetries.Def),
		field("faulty_session_threshold", cint),
	)

	testManagementSettings = newRecord("test-management-settings",
		field("enabled", cbool),
		field("attempt_to_fix_retries", cint),
	)

	SettingsResponse = newRecord("settings-response", append([]wit.Field{
		field("code_coverage", cbool),
		field("early_flake_detection", earlyFlakeDetection.Def),
		field("flaky_test_retries_enabled", cbool),
		field("itr_enabled", cbool),
		field("require_git", cbool),
		field("tests_skipping", cbool),
		field("known_tests_enabled", cbool),
		field("test_management", testManagementSettings.Def),
	}, reserved()...)...)

	FlakyTestRetriesSettings = newRecord("flaky-test-retries-settings",
		field("retry_count", cint),
		field("total_retry_count", cint),
	)

	KnownTest = newRecord("known-test",
		field("module_name", cstr),
		field("suite_name", cstr),
		field("test_name", cstr),
	)

	SkippableTest = newRecord("skippable-test",
		field("suite_name", cstr),
		field("test_name", cstr),
		field("parameters", cstr),
		field("custom_configurations_json", cstr),
	)

	TestCoverageFile = newRecord("test-coverage-file",
		field("filename", cstr),
		field("bitmap", ptr),
		field("bitmap_len", usize),
	)

	TestCoverage = newRecord("test-coverage",
		field("session_id", wit.U64{}),
		field("suite_id", wit.U64{}),
		field("test_id", wit.U64{}),
		field("files", ptr),
		field("files_len", usize),
	)

	TestManagementTestProperties = newRecord("test-management-test-properties",
		field("module_name", cstr),
		field("suite_name", cstr),
		field("test_name", cstr),
		field("quarantined", cbool),
		field("disabled", cbool),
		field("attempt_to_fix", cbool),
	)

	SpanStartOptions = newRecord("span-start-options",
		field("operation_name", cstr),
		field("service_name", cstr),
		field("resource_name", cstr),
		field("span_type", cstr),
		field("start_time", ptr),
		field("string_tags", ptr),
		field("number_tags", ptr),
	)

	MockSpan = newRecord("mock-span",
		field("span_id", wit.U64{}),
		field("trace_id", wit.U64{}),
		field("parent_span_id", wit.U64{}),
		field("start_time", Time.Def),
		field("finish_time", Time.Def),
		field("operation_name", cstr),
		field("string_tags", Array.Def),
		field("number_tags", Array.Def),
	)
)
