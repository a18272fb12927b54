package mockengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/testopt"
	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/marshal"
)

type state uint8

const (
	stateUninitialized state = iota
	stateReady
	stateShutdown
)

// export is a boundary function with a fixed core signature
type export struct {
	fn     func(p []uint64) (uint64, error)
	params int
}

// InitOptions is what the client passed to topt_initialize
type InitOptions struct {
	Environment      map[string]string
	GlobalTags       map[string]string
	Language         string
	RuntimeName      string
	RuntimeVersion   string
	WorkingDirectory string
	UseMockTracer    bool
}

// CoverageFile is one file of a coverage record
type CoverageFile struct {
	Filename string
	Bitmap   []byte
}

// Coverage is one record of a coverage submission
type Coverage struct {
	Files     []CoverageFile
	SessionID abi.ID
	SuiteID   abi.ID
	TestID    abi.ID
}

// Engine is an in-process engine
type Engine struct {
	mem          *Memory
	clientAlloc  testopt.Allocator
	engineAlloc  testopt.Allocator
	exports      map[string]export
	table        *table
	tracer       *tracer
	now          func() time.Time
	bootErr      error
	arrays       map[uint32][]marshal.Allocation
	calls        map[string]int
	initOpts     InitOptions
	coverage     [][]Coverage
	known        []KnownTest
	skippable    []SkippableTest
	management   []ManagementTest
	settings     Settings
	flaky        FlakyTestRetries
	bootOnce     sync.Once
	mu           sync.Mutex
	doMu         sync.Mutex
	boots        int
	sections     int
	callsEarly   int
	arrayFrees   int
	invalidFrees int
	shutdowns    int
	state        state
	failInit     bool
	closed       bool
}

// New creates an engine. Without options every feature is disabled and
// every directive list is empty.
func New(opts ...Option) *Engine {
	e := &Engine{
		mem:    NewMemory(1, 0),
		table:  newTable(),
		tracer: newTracer(),
		now:    time.Now,
		arrays: make(map[uint32][]marshal.Allocation),
		calls:  make(map[string]int),
	}
	e.exports = e.exportTable()
	for _, opt := range opts {
		opt(e)
	}
	e.clientAlloc = e.mem.Allocator(OwnerClient)
	e.engineAlloc = e.mem.Allocator(OwnerEngine)
	return e
}

func (e *Engine) exportTable() map[string]export {
	m := map[string]export{
		abi.FnBootstrap:  {params: 0, fn: func([]uint64) (uint64, error) { e.boots++; return 0, nil }},
		abi.FnInitialize: {params: 1, fn: e.initialize},
		abi.FnShutdown:   {params: 0, fn: e.shutdown},

		abi.FnGetSettings:                 {params: 1, fn: e.getSettings},
		abi.FnGetFlakyTestRetriesSettings: {params: 1, fn: e.getFlakyTestRetries},
		abi.FnGetKnownTests:               {params: 1, fn: e.getKnownTests},
		abi.FnFreeKnownTests:              {params: 1, fn: e.freeArray},
		abi.FnGetSkippableTests:           {params: 1, fn: e.getSkippableTests},
		abi.FnFreeSkippableTests:          {params: 1, fn: e.freeArray},
		abi.FnGetTestManagementTests:      {params: 1, fn: e.getManagementTests},
		abi.FnFreeTestManagementTests:     {params: 1, fn: e.freeArray},
		abi.FnSendCodeCoveragePayload:     {params: 2, fn: e.sendCoverage},

		abi.EntitySession.Export(abi.OpCreate): {params: 4, fn: e.sessionCreate},
		abi.EntitySession.Export(abi.OpClose):  {params: 3, fn: e.sessionClose},
		abi.EntityModule.Export(abi.OpCreate):  {params: 6, fn: e.moduleCreate},
		abi.EntityModule.Export(abi.OpClose):   {params: 2, fn: e.closer(abi.EntityModule)},
		abi.EntitySuite.Export(abi.OpCreate):   {params: 4, fn: e.suiteCreate},
		abi.EntitySuite.Export(abi.OpClose):    {params: 2, fn: e.closer(abi.EntitySuite)},
		abi.EntityTest.Export(abi.OpCreate):    {params: 4, fn: e.testCreate},
		abi.EntityTest.Export(abi.OpClose):     {params: 2, fn: e.testClose},
		abi.EntitySpan.Export(abi.OpCreate):    {params: 3, fn: e.spanCreate},
		abi.EntitySpan.Export(abi.OpClose):     {params: 2, fn: e.closer(abi.EntitySpan)},

		abi.EntitySuite.Export(abi.OpSetSource): {params: 4, fn: e.setSource(abi.EntitySuite)},
		abi.EntityTest.Export(abi.OpSetSource):  {params: 4, fn: e.setSource(abi.EntityTest)},

		abi.FnTestSetBenchmarkStringData: {params: 3, fn: e.benchmarkStrings},
		abi.FnTestSetBenchmarkNumberData: {params: 3, fn: e.benchmarkNumbers},

		abi.FnMockTracerReset:         {params: 0, fn: e.mockReset},
		abi.FnMockTracerFinishedSpans: {params: 1, fn: e.mockSpans(true)},
		abi.FnMockTracerOpenSpans:     {params: 1, fn: e.mockSpans(false)},
		abi.FnMockTracerFreeSpanArray: {params: 1, fn: e.freeArray},
	}

	for _, kind := range []abi.Entity{abi.EntitySession, abi.EntityModule, abi.EntitySuite, abi.EntityTest, abi.EntitySpan} {
		m[kind.Export(abi.OpSetStringTag)] = export{params: 3, fn: e.setStringTag(kind)}
		m[kind.Export(abi.OpSetNumberTag)] = export{params: 3, fn: e.setNumberTag(kind)}
		m[kind.Export(abi.OpSetError)] = export{params: 4, fn: e.setError(kind)}
	}
	return m
}

// Bootstrap runs the engine's _initialize export once
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.bootOnce.Do(func() {
		if !e.Has(abi.FnBootstrap) {
			return
		}
		_, e.bootErr = e.Call(ctx, abi.FnBootstrap)
	})
	return e.bootErr
}

func (e *Engine) Memory() testopt.Memory {
	return e.mem
}

func (e *Engine) Allocator() testopt.Allocator {
	return e.clientAlloc
}

func (e *Engine) Has(fn string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.exports[fn]
	return ok
}

func (e *Engine) Call(ctx context.Context, fn string, params ...uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.CallFailed(fn, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, errors.New(errors.PhaseCall, errors.KindNotInitialized).
			Func(fn).
			Detail("engine closed").
			Build()
	}
	ex, ok := e.exports[fn]
	if !ok {
		return 0, errors.MissingExport(fn)
	}
	if len(params) != ex.params {
		return 0, errors.CallFailed(fn, fmt.Errorf("expected %d params, got %d", ex.params, len(params)))
	}
	if e.boots == 0 && fn != abi.FnBootstrap {
		e.callsEarly++
	}
	e.calls[fn]++

	ret, err := ex.fn(params)
	if err != nil {
		engine.Logger().Debug("mock engine trap", zap.String("fn", fn), zap.Error(err))
		return 0, errors.CallFailed(fn, err)
	}
	return ret, nil
}

// Do runs fn with no other Do in progress. Calls made through the Caller
// are counted and checked the same way as Call.
func (e *Engine) Do(ctx context.Context, fn func(call engine.Caller) error) error {
	e.doMu.Lock()
	defer e.doMu.Unlock()

	e.mu.Lock()
	e.sections++
	e.mu.Unlock()

	return fn(func(name string, params ...uint64) (uint64, error) {
		return e.Call(ctx, name, params...)
	})
}

// Close makes every later call fail. Recorded state stays readable.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Inspection

// Sections returns how many times Do ran
func (e *Engine) Sections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sections
}

// Calls returns how many times fn was called
func (e *Engine) Calls(fn string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[fn]
}

// Bootstraps returns how many times _initialize ran
func (e *Engine) Bootstraps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.boots
}

// CallsBeforeBootstrap counts calls made before _initialize ran
func (e *Engine) CallsBeforeBootstrap() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callsEarly
}

// Initialized reports whether topt_initialize succeeded and no shutdown
// followed
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// Shutdowns counts topt_shutdown calls
func (e *Engine) Shutdowns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdowns
}

// InitOptions returns the options received by topt_initialize
func (e *Engine) InitOptions() InitOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initOpts
}

// Span returns a copy of the entity or span with the given handle, open or
// closed
func (e *Engine) Span(id abi.ID) (Span, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.table.Entry(id)
	if !ok {
		return Span{}, false
	}
	return s.clone(), true
}

// LiveEntities returns the number of created but unclosed entities
func (e *Engine) LiveEntities() int {
	return e.table.Live()
}

// FinishedSpans returns the spans recorded by the mock tracer
func (e *Engine) FinishedSpans() []Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracer.snapshot(true)
}

// Coverage returns every coverage submission in arrival order
func (e *Engine) Coverage() [][]Coverage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]Coverage, len(e.coverage))
	copy(out, e.coverage)
	return out
}

// ClientStats returns allocator counters for client-owned blocks
func (e *Engine) ClientStats() AllocStats {
	return e.mem.Stats(OwnerClient)
}

// EngineStats returns allocator counters for engine-owned blocks
func (e *Engine) EngineStats() AllocStats {
	return e.mem.Stats(OwnerEngine)
}

// ArrayFrees returns (valid, invalid) counts of array release calls.
// An invalid release names an array that was never returned or was
// already released.
func (e *Engine) ArrayFrees() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arrayFrees, e.invalidFrees
}

// OutstandingArrays returns the number of returned arrays not yet released
func (e *Engine) OutstandingArrays() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.arrays)
}

// helpers shared by the export handlers

func (e *Engine) ready() bool {
	return e.state == stateReady
}

func (e *Engine) cstring(p uint64) (string, error) {
	return marshal.ReadCString(e.mem, api.DecodeU32(p))
}

// timestamp reads an optional UnixTime pointer, defaulting to now
func (e *Engine) timestamp(p uint64) (abi.UnixTime, error) {
	ptr := api.DecodeU32(p)
	if ptr == 0 {
		return abi.FromTime(e.now()), nil
	}
	v := marshal.At(e.mem, ptr, abi.Time)
	t := abi.UnixTime{Sec: v.U64("sec"), Nsec: v.U64("nsec")}
	return t, v.Err()
}

// writeResult fills an EntityResult out-record
func (e *Engine) writeResult(p uint64, id abi.ID) (uint64, error) {
	out := marshal.At(e.mem, api.DecodeU32(p), abi.EntityResult)
	out.SetU64("id", uint64(id)).SetBool("valid", id.Valid())
	return 0, out.Err()
}

func result(ok bool) uint64 {
	return uint64(abi.EncodeBool(ok))
}

var _ engine.Library = (*Engine)(nil)
