package optimization_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/constants"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/mockengine"
	"github.com/wippyai/testopt/optimization"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func options(eng *mockengine.Engine) optimization.Options {
	o := optimization.DefaultOptions(eng)
	o.Framework = "go test"
	o.FrameworkVersion = "1.25"
	o.UseMockTracer = true
	o.Clock = func() time.Time { return base }
	return o
}

func openSession(t *testing.T, opts ...mockengine.Option) (*optimization.Session, *mockengine.Engine) {
	t.Helper()
	eng := mockengine.New(opts...)

	s, err := optimization.Init(context.Background(), options(eng))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !s.Enabled() {
		t.Fatal("session not enabled")
	}
	t.Cleanup(func() { s.Close(0) })
	return s, eng
}

func mustFind(t *testing.T, s *optimization.Session, key, value string) optimization.MockSpan {
	t.Helper()
	sp, ok := optimization.Find(s.MockTracer().FinishedSpans(), key, value)
	if !ok {
		t.Fatalf("no finished span with %s=%s", key, value)
	}
	return sp
}

func TestFullRunScenario(t *testing.T) {
	s, eng := openSession(t)

	module := s.CreateModule("m", "fw", "1.0")
	suite := module.CreateSuite("s")
	test := suite.CreateTest("t")

	seen := map[abi.ID]bool{}
	for _, id := range []abi.ID{s.ID(), module.ID(), suite.ID(), test.ID()} {
		if !id.Valid() {
			t.Fatal("invalid handle")
		}
		if seen[id] {
			t.Fatalf("handle %d reused", id)
		}
		seen[id] = true
	}

	if !test.Close(optimization.StatusPass) || !suite.Close() || !module.Close() || !s.Close(0) {
		t.Fatal("close failed")
	}

	spans := s.MockTracer().FinishedSpans()
	if len(spans) != 4 {
		t.Fatalf("got %d spans, want 4", len(spans))
	}

	byOp := map[string]optimization.MockSpan{}
	for _, sp := range spans {
		byOp[sp.OperationName] = sp
	}
	session := byOp[constants.SpanTypeTestSession]
	mod := byOp[constants.SpanTypeTestModule]
	sui := byOp[constants.SpanTypeTestSuite]
	tst := byOp[constants.SpanTypeTest]

	if session.ParentSpanID != abi.Invalid {
		t.Errorf("session parent = %d", session.ParentSpanID)
	}
	if mod.ParentSpanID != session.SpanID || sui.ParentSpanID != mod.SpanID || tst.ParentSpanID != sui.SpanID {
		t.Errorf("parents = %d/%d/%d", mod.ParentSpanID, sui.ParentSpanID, tst.ParentSpanID)
	}
	for _, sp := range spans {
		if sp.TraceID != session.SpanID {
			t.Errorf("%s trace = %d, want %d", sp.OperationName, sp.TraceID, session.SpanID)
		}
		if !sp.Start.Equal(base) {
			t.Errorf("%s start = %v", sp.OperationName, sp.Start)
		}
	}

	tags := map[string]string{
		constants.TestStatus: constants.TestStatusPass,
		constants.TestModule: "m",
		constants.TestSuite:  "s",
		constants.TestName:   "t",
	}
	for k, want := range tags {
		if got := tst.StringTags[k]; got != want {
			t.Errorf("test tag %s = %q, want %q", k, got, want)
		}
	}
	if code, ok := session.NumberTags[constants.TestCommandExitCode]; !ok || code != 0 {
		t.Errorf("exit code tag = %v, %v", code, ok)
	}
	if lang := session.StringTags[constants.Language]; lang != "go" {
		t.Errorf("language = %q", lang)
	}

	if eng.Initialized() {
		t.Error("engine not shut down")
	}
	if eng.Shutdowns() != 1 || eng.Bootstraps() != 1 {
		t.Errorf("shutdowns = %d, bootstraps = %d", eng.Shutdowns(), eng.Bootstraps())
	}
	if n := eng.CallsBeforeBootstrap(); n != 0 {
		t.Errorf("%d calls before bootstrap", n)
	}
	if st := eng.ClientStats(); !st.Balanced() {
		t.Errorf("client stats %+v", st)
	}
	if st := eng.EngineStats(); !st.Balanced() {
		t.Errorf("engine stats %+v", st)
	}
}

func TestMemoryWorkRunsInsideSections(t *testing.T) {
	s, eng := openSession(t)
	before := eng.Sections()

	test := s.CreateModule("m", "fw", "1").CreateSuite("s").CreateTest("t")
	test.SetStringTag("k", "v")
	test.SetCoverageData([]string{"a.go"})
	s.GetSettings()
	s.GetKnownTests()

	// module, suite, test, tag, coverage, settings, known tests
	if got := eng.Sections() - before; got != 7 {
		t.Errorf("ran %d sections, want 7", got)
	}
}

func TestCloseTwice(t *testing.T) {
	s, eng := openSession(t)
	module := s.CreateModule("m", "fw", "1")
	suite := module.CreateSuite("s")
	test := suite.CreateTest("t")
	span := test.StartSpan(optimization.SpanOptions{OperationName: "op"})

	steps := []struct {
		name  string
		close func() bool
	}{
		{"span", span.Close},
		{"test", func() bool { return test.Close(optimization.StatusFail) }},
		{"suite", suite.Close},
		{"module", module.Close},
		{"session", func() bool { return s.Close(0) }},
	}
	for _, st := range steps {
		if !st.close() {
			t.Errorf("first %s close failed", st.name)
		}
		if st.close() {
			t.Errorf("second %s close succeeded", st.name)
		}
	}

	if n := eng.Calls(abi.EntitySession.Export(abi.OpClose)); n != 1 {
		t.Errorf("session close calls = %d", n)
	}
	if n := eng.Shutdowns(); n != 1 {
		t.Errorf("shutdowns = %d", n)
	}

	// closing a child leaves the parent alone
	if st := mustFind(t, s, constants.TestName, "t").StringTags[constants.TestStatus]; st != constants.TestStatusFail {
		t.Errorf("status = %q", st)
	}
}

func TestTagsLastWriteWins(t *testing.T) {
	s, _ := openSession(t)
	module := s.CreateModule("m", "fw", "1")
	suite := module.CreateSuite("s")
	test := suite.CreateTest("t")
	span := suite.StartSpan(optimization.SpanOptions{OperationName: "op", ResourceName: "res"})

	type tagger interface {
		SetStringTag(key, value string) bool
		SetNumberTag(key string, value float64) bool
	}
	entities := []tagger{s, module, suite, test, span}
	for _, e := range entities {
		ok := e.SetStringTag("k", "first") &&
			e.SetStringTag("k", "second") &&
			e.SetNumberTag("k", 1) &&
			e.SetNumberTag("k", 2)
		if !ok {
			t.Fatalf("tagging %T failed", e)
		}
	}

	if !span.Close() || !test.Close(optimization.StatusPass) || !suite.Close() || !module.Close() || !s.Close(0) {
		t.Fatal("close failed")
	}

	spans := s.MockTracer().FinishedSpans()
	if len(spans) != len(entities) {
		t.Fatalf("got %d spans, want %d", len(spans), len(entities))
	}
	for _, sp := range spans {
		if sp.StringTags["k"] != "second" || sp.NumberTags["k"] != 2 {
			t.Errorf("span %s: k = %q, %v", sp.OperationName, sp.StringTags["k"], sp.NumberTags["k"])
		}
	}
}

func TestSkipReason(t *testing.T) {
	tests := []struct {
		name   string
		close  func(optimization.Test) bool
		reason string
		has    bool
	}{
		{"with reason", func(x optimization.Test) bool { return x.CloseWithSkipReason("not on windows") }, "not on windows", true},
		{"empty reason", func(x optimization.Test) bool { return x.CloseWithSkipReason("") }, "", false},
		{"plain skip", func(x optimization.Test) bool { return x.Close(optimization.StatusSkip) }, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := openSession(t)
			test := s.CreateModule("m", "fw", "1").CreateSuite("s").CreateTest("t")
			if !tt.close(test) {
				t.Fatal("close failed")
			}

			sp := mustFind(t, s, constants.TestName, "t")
			if st := sp.StringTags[constants.TestStatus]; st != constants.TestStatusSkip {
				t.Errorf("status = %q", st)
			}
			reason, has := sp.StringTags[constants.TestSkipReason]
			if has != tt.has || reason != tt.reason {
				t.Errorf("skip reason = %q, %v; want %q, %v", reason, has, tt.reason, tt.has)
			}
		})
	}
}

func TestInitFailureDisablesSession(t *testing.T) {
	eng := mockengine.New(mockengine.WithFailInitialize())
	s, err := optimization.Init(context.Background(), optimization.DefaultOptions(eng))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseInit, Kind: errors.KindRejected}) {
		t.Fatalf("Init error = %v", err)
	}
	if s == nil {
		t.Fatal("Init returned a nil session")
	}
	if s.Enabled() || s.ID() != abi.Invalid {
		t.Errorf("session enabled with handle %d", s.ID())
	}

	module := s.CreateModule("m", "fw", "1")
	suite := module.CreateSuite("s")
	test := suite.CreateTest("t")
	if module.ID() != abi.Invalid || test.ID() != abi.Invalid {
		t.Errorf("handles = %d, %d", module.ID(), test.ID())
	}

	if s.SetStringTag("k", "v") || test.SetError("E", "m", "st") || test.Close(optimization.StatusPass) ||
		suite.Close() || module.Close() {
		t.Error("operation on disabled session succeeded")
	}
	if s.StartSpan(optimization.SpanOptions{OperationName: "x"}).Valid() {
		t.Error("span on disabled session")
	}
	test.SetCoverageData([]string{"a.go"})
	if got := s.GetSettings(); got != (optimization.Settings{}) {
		t.Errorf("settings = %+v", got)
	}
	if len(s.GetKnownTests()) != 0 {
		t.Error("known tests on disabled session")
	}
	if spans := s.MockTracer().FinishedSpans(); spans != nil {
		t.Errorf("spans = %v", spans)
	}
	if s.Close(0) {
		t.Error("Close on disabled session succeeded")
	}

	if n := eng.Calls(abi.FnInitialize); n != 1 {
		t.Errorf("initialize calls = %d", n)
	}
	for _, fn := range []string{
		abi.EntitySession.Export(abi.OpCreate),
		abi.EntityModule.Export(abi.OpCreate),
		abi.FnSendCodeCoveragePayload,
		abi.FnShutdown,
	} {
		if n := eng.Calls(fn); n != 0 {
			t.Errorf("%s called %d times", fn, n)
		}
	}
	if !eng.ClientStats().Balanced() {
		t.Errorf("client stats %+v", eng.ClientStats())
	}

	// the failed attempt leaves the process free to try again
	s2, err := optimization.Init(context.Background(), optimization.DefaultOptions(mockengine.New()))
	if err != nil {
		t.Fatalf("Init after failure: %v", err)
	}
	if !s2.Close(0) {
		t.Error("Close failed")
	}
}

func TestInitWithoutLibrary(t *testing.T) {
	s, err := optimization.Init(context.Background(), optimization.Options{})
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseInit, Kind: errors.KindNotInitialized}) {
		t.Errorf("Init error = %v", err)
	}
	if s.Enabled() || s.Close(0) {
		t.Error("session without library is usable")
	}
}

func TestInitRejectsEmbeddedNUL(t *testing.T) {
	eng := mockengine.New()
	o := optimization.DefaultOptions(eng)
	o.GlobalTags = map[string]string{"team": "a\x00b"}

	s, err := optimization.Init(context.Background(), o)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindEmbeddedNUL}) {
		t.Errorf("Init error = %v", err)
	}
	if s.Enabled() {
		t.Error("session enabled")
	}
	if eng.Calls(abi.FnInitialize) != 0 || eng.Bootstraps() != 0 {
		t.Error("engine touched for invalid options")
	}
}

func TestSecondInitWhileReady(t *testing.T) {
	s, _ := openSession(t)

	other := mockengine.New()
	s2, err := optimization.Init(context.Background(), optimization.DefaultOptions(other))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseLifecycle, Kind: errors.KindAlreadyInitialized}) {
		t.Fatalf("Init error = %v", err)
	}
	if !strings.Contains(err.Error(), "ready") {
		t.Errorf("error %q does not name the state", err)
	}
	if s2.Enabled() {
		t.Error("second session enabled")
	}
	if n := other.Calls(abi.FnInitialize); n != 0 {
		t.Errorf("initialize calls = %d", n)
	}

	if !s.Close(0) {
		t.Fatal("Close failed")
	}

	s3, err := optimization.Init(context.Background(), optimization.DefaultOptions(other))
	if err != nil {
		t.Fatalf("Init after shutdown: %v", err)
	}
	if !s3.Enabled() || !s3.Close(0) {
		t.Error("third session unusable")
	}
}

func TestLifecycleTransitionsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	o := options(mockengine.New())
	o.Logger = zap.New(core)

	s, err := optimization.Init(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	s.Close(0)

	// earlier tests may have left the process shut down rather than
	// uninitialized, so only the target states are fixed
	var got []string
	for _, e := range logs.FilterMessage("lifecycle").All() {
		got = append(got, e.ContextMap()["to"].(string))
	}
	if strings.Join(got, ", ") != "ready, shut down" {
		t.Errorf("transitions to %v, want [ready shut down]", got)
	}
}

func TestCloseDuringPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	eng := mockengine.New()
	o := options(eng)
	o.Logger = zap.New(core)
	s, err := optimization.Init(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	tracer := s.MockTracer()

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recovered %v, want boom", r)
			}
		}()
		func() {
			defer s.Close(0)
			panic("boom")
		}()
	}()

	sp := mustFind(t, s, constants.TestFramework, "go test")
	if code := sp.NumberTags[constants.TestCommandExitCode]; code != float64(abi.ExitFailure) {
		t.Errorf("exit code = %v", code)
	}
	if st := sp.StringTags[constants.TestStatus]; st != constants.TestStatusFail {
		t.Errorf("status = %q", st)
	}
	if eng.Initialized() {
		t.Error("engine not shut down")
	}
	if n := len(tracer.FinishedSpans()); n != 1 {
		t.Errorf("finished spans = %d", n)
	}

	entries := logs.FilterMessage("session closed during panic").All()
	if len(entries) != 1 {
		t.Fatalf("got %d panic entries", len(entries))
	}
	stack, _ := entries[0].ContextMap()["stack"].(string)
	if !strings.Contains(stack, "TestCloseDuringPanic") {
		t.Errorf("stack does not reach the panicking frame:\n%s", stack)
	}
}

func TestSessionExitCode(t *testing.T) {
	s, _ := openSession(t)
	if !s.CloseAt(3, base.Add(time.Minute)) {
		t.Fatal("CloseAt failed")
	}

	sp := mustFind(t, s, constants.TestFramework, "go test")
	if code := sp.NumberTags[constants.TestCommandExitCode]; code != 3 {
		t.Errorf("exit code = %v", code)
	}
	if !sp.Finish.Equal(base.Add(time.Minute)) {
		t.Errorf("finish = %v", sp.Finish)
	}
}

func TestEmbeddedNULMakesNoCall(t *testing.T) {
	s, eng := openSession(t)
	test := s.CreateModule("m", "fw", "1").CreateSuite("s").CreateTest("t")

	if test.SetStringTag("bad\x00key", "v") ||
		test.SetError("E", "msg\x00", "") ||
		test.SetBenchmarkStringData("m", map[string]string{"k": "v\x00"}) {
		t.Error("call with embedded NUL succeeded")
	}
	if bad := test.Suite().CreateTest("x\x00y"); bad.Valid() {
		t.Error("test created with embedded NUL")
	}
	test.SetCoverageData([]string{"ok.go", "bad\x00.go"})

	for _, fn := range []string{
		abi.EntityTest.Export(abi.OpSetStringTag),
		abi.EntityTest.Export(abi.OpSetError),
		abi.FnTestSetBenchmarkStringData,
		abi.FnSendCodeCoveragePayload,
	} {
		if n := eng.Calls(fn); n != 0 {
			t.Errorf("%s called %d times", fn, n)
		}
	}
	if n := eng.Calls(abi.EntityTest.Export(abi.OpCreate)); n != 1 {
		t.Errorf("test create calls = %d", n)
	}
	if !eng.ClientStats().Balanced() {
		t.Errorf("client stats %+v", eng.ClientStats())
	}
}

func TestSource(t *testing.T) {
	s, _ := openSession(t)
	suite := s.CreateModule("m", "fw", "1").CreateSuite("s")
	test := suite.CreateTest("t")

	start, end := int32(10), int32(42)
	if !suite.SetSource("pkg/s_test.go", nil, nil) || !test.SetSource("pkg/s_test.go", &start, &end) {
		t.Fatal("SetSource failed")
	}
	if !test.Close(optimization.StatusPass) || !suite.Close() {
		t.Fatal("close failed")
	}

	ts := mustFind(t, s, constants.TestName, "t")
	if f := ts.StringTags[constants.TestSourceFile]; f != "pkg/s_test.go" {
		t.Errorf("test source file = %q", f)
	}
	if ts.NumberTags[constants.TestSourceStartLine] != 10 || ts.NumberTags[constants.TestSourceEndLine] != 42 {
		t.Errorf("test lines = %v", ts.NumberTags)
	}

	ss := mustFind(t, s, constants.ResourceName, "s")
	if f := ss.StringTags[constants.TestSourceFile]; f != "pkg/s_test.go" {
		t.Errorf("suite source file = %q", f)
	}
	if _, ok := ss.NumberTags[constants.TestSourceStartLine]; ok {
		t.Error("suite has a start line")
	}
}

func TestInitAfterShutdown(t *testing.T) {
	for i := 0; i < 3; i++ {
		eng := mockengine.New()
		s, err := optimization.Init(context.Background(), optimization.DefaultOptions(eng))
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if !s.Close(0) {
			t.Fatalf("round %d: Close failed", i)
		}
		if n := eng.Shutdowns(); n != 1 {
			t.Errorf("round %d: shutdowns = %d", i, n)
		}
	}
}

func TestUnknownStatusMakesNoCall(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	eng := mockengine.New()
	o := options(eng)
	o.Logger = zap.New(core)
	s, err := optimization.Init(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(0)
	test := s.CreateModule("m", "fw", "1").CreateSuite("s").CreateTest("t")

	if test.Close(optimization.Status(7)) {
		t.Error("close with unknown status succeeded")
	}
	if n := eng.Calls(abi.EntityTest.Export(abi.OpClose)); n != 0 {
		t.Errorf("test close calls = %d", n)
	}
	if logs.FilterMessage("invalid input").Len() != 1 {
		t.Errorf("unknown status not logged as invalid input: %v", logs.All())
	}
	if !test.Close(optimization.StatusPass) {
		t.Error("close after unknown status failed")
	}
}
