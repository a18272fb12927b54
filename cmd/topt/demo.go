package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/constants"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/mockengine"
	"github.com/wippyai/testopt/optimization"
)

const (
	version    = "0.1.0"
	moduleName = "github.com/wippyai/testopt/demo"
	suiteName  = "demo_test.go"
)

type report struct {
	settings optimization.Settings
	flaky    optimization.FlakyTestRetriesSettings
	spans    []optimization.MockSpan
	exitCode int32
}

// openLibrary loads the engine named by -engine, or a mock engine seeded
// with a small set of directives.
func openLibrary(ctx context.Context, cfg *config) (engine.Library, string, error) {
	if cfg.Engine != "" {
		lib, err := engine.Open(ctx, cfg.Engine, &engine.Config{
			Name:   "topt",
			Stderr: os.Stderr,
		})
		if err != nil {
			return nil, "", err
		}
		return lib, cfg.Engine, nil
	}

	lib := mockengine.New(
		mockengine.WithSettings(mockengine.Settings{
			CodeCoverage:            true,
			FlakyTestRetriesEnabled: true,
			KnownTestsEnabled:       true,
			TestManagement:          mockengine.TestManagement{Enabled: true, AttemptToFixRetries: 2},
		}),
		mockengine.WithFlakyTestRetries(mockengine.FlakyTestRetries{RetryCount: 3, TotalRetryCount: 10}),
		mockengine.WithKnownTests(mockengine.KnownTest{Module: moduleName, Suite: suiteName, Test: "TestCase1"}),
		mockengine.WithManagementTests(mockengine.ManagementTest{
			Module: moduleName, Suite: suiteName, Test: "TestCase2", Quarantined: true,
		}),
	)
	return lib, "mock", nil
}

func runScenario(ctx context.Context, cfg *config, lib engine.Library, log *zap.Logger) *report {
	opts := optimization.DefaultOptions(lib)
	opts.Logger = log
	opts.Framework = "topt"
	opts.FrameworkVersion = version
	opts.UseMockTracer = true

	// a failed Init leaves a disabled session; the run goes on without
	// telemetry
	s, err := optimization.Init(ctx, opts)
	if err != nil {
		log.Warn("continuing without telemetry", zap.Error(err))
	}

	rep := &report{
		settings: s.GetSettings(),
		flaky:    s.GetFlakyTestRetriesSettings(),
	}
	known := s.GetKnownTests()
	skippable := s.GetSkippableTests()
	management := s.GetTestManagementTests()

	module := s.CreateModule(moduleName, opts.Framework, opts.FrameworkVersion)
	suite := module.CreateSuite(suiteName)
	start, end := int32(1), int32(40)
	suite.SetSource(suiteName, &start, &end)

	for i := 0; i < cfg.Tests; i++ {
		name := fmt.Sprintf("TestCase%d", i+1)
		test := suite.CreateTest(name)

		if rep.settings.KnownTestsEnabled && !known.Contains(moduleName, suiteName, name) {
			test.SetStringTag(constants.TestIsNew, "true")
		}
		props, managed := management.Lookup(moduleName, suiteName, name)
		if managed && props.Quarantined {
			test.SetStringTag(constants.TestIsQuarantined, "true")
		}

		switch {
		case cfg.Skip && i == 0:
			test.CloseWithSkipReason("skipped with -skip")
		case managed && props.Disabled:
			test.CloseWithSkipReason("disabled by test management")
		case skippable.IsSkippable(suiteName, name):
			test.CloseWithSkipReason("skipped by test impact analysis")
		default:
			began := time.Now()
			span := test.StartSpan(optimization.SpanOptions{
				OperationName: "setup",
				ResourceName:  name,
				StringTags:    map[string]string{"fixture": "default"},
			})
			span.Close()
			if rep.settings.CodeCoverage {
				test.SetCoverageData([]string{suiteName, "demo.go"})
			}
			test.SetBenchmarkNumberData("duration", map[string]float64{
				"run": float64(time.Since(began).Nanoseconds()),
			})

			if cfg.Fail && i == cfg.Tests-1 {
				test.SetError("assertion", name+" failed", "")
				test.Close(optimization.StatusFail)
				// quarantined failures do not fail the session
				if !managed || !props.Quarantined {
					rep.exitCode = abi.ExitFailure
				}
				continue
			}
			test.Close(optimization.StatusPass)
		}
	}

	suite.Close()
	module.Close()
	tracer := s.MockTracer()
	s.Close(rep.exitCode)
	rep.spans = tracer.FinishedSpans()
	return rep
}

func printSettings(w io.Writer, rep *report) {
	st := rep.settings
	fmt.Fprintf(w, "Settings:\n")
	fmt.Fprintf(w, "  code coverage:        %v\n", st.CodeCoverage)
	fmt.Fprintf(w, "  tests skipping:       %v (itr %v)\n", st.TestsSkipping, st.ITREnabled)
	fmt.Fprintf(w, "  known tests:          %v\n", st.KnownTestsEnabled)
	fmt.Fprintf(w, "  early flake detect:   %v\n", st.EarlyFlakeDetection.Enabled)
	fmt.Fprintf(w, "  test management:      %v (attempt to fix retries %d)\n",
		st.TestManagement.Enabled, st.TestManagement.AttemptToFixRetries)
	fmt.Fprintf(w, "  flaky test retries:   %v (%d per test, %d total)\n",
		st.FlakyTestRetriesEnabled, rep.flaky.RetryCount, rep.flaky.TotalRetryCount)
}

// printTree writes finished spans indented under their parents
func printTree(w io.Writer, spans []optimization.MockSpan) {
	ids := make(map[abi.ID]bool, len(spans))
	for _, sp := range spans {
		ids[sp.SpanID] = true
	}
	children := make(map[abi.ID][]optimization.MockSpan)
	var roots []optimization.MockSpan
	for _, sp := range spans {
		if sp.ParentSpanID == 0 || !ids[sp.ParentSpanID] {
			roots = append(roots, sp)
			continue
		}
		children[sp.ParentSpanID] = append(children[sp.ParentSpanID], sp)
	}

	byID := func(s []optimization.MockSpan) {
		sort.Slice(s, func(i, j int) bool { return s[i].SpanID < s[j].SpanID })
	}
	byID(roots)

	var walk func(sp optimization.MockSpan, depth int)
	walk = func(sp optimization.MockSpan, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), spanLine(sp))
		kids := children[sp.SpanID]
		byID(kids)
		for _, k := range kids {
			walk(k, depth+1)
		}
	}

	fmt.Fprintf(w, "\nSpans (%d):\n", len(spans))
	for _, r := range roots {
		walk(r, 1)
	}
}

func spanLine(sp optimization.MockSpan) string {
	line := fmt.Sprintf("%s %s [%d]", sp.OperationName, spanName(sp), sp.SpanID)
	if status := sp.StringTags[constants.TestStatus]; status != "" {
		line += " " + status
	}
	return line + " " + sp.Finish.Sub(sp.Start).String()
}

func spanName(sp optimization.MockSpan) string {
	if name := sp.StringTags[constants.ResourceName]; name != "" {
		return name
	}
	return "-"
}
