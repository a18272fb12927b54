package mockengine

import (
	"strconv"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/constants"
	"github.com/wippyai/testopt/marshal"
)

// newEntity registers a span for a new entity. The parent is already
// validated; trace ids follow the session.
func (e *Engine) newEntity(kind abi.Entity, op, name string, parent *Span, start abi.UnixTime) *Span {
	s := newSpan(kind, op)
	s.Name = name
	s.Start = start
	s.ID = e.table.Create(kind, s)
	s.TraceID = s.ID
	if parent != nil {
		s.ParentID = parent.ID
		s.TraceID = parent.TraceID
	}

	for k, v := range e.initOpts.GlobalTags {
		s.StringTags[k] = v
	}
	s.StringTags[constants.Origin] = constants.CIAppTestOrigin
	s.StringTags[constants.Language] = e.initOpts.Language
	s.StringTags[constants.RuntimeName] = e.initOpts.RuntimeName
	s.StringTags[constants.RuntimeVersion] = e.initOpts.RuntimeVersion
	if e.initOpts.WorkingDirectory != "" {
		s.StringTags[constants.WorkingDir] = e.initOpts.WorkingDirectory
	}
	if name != "" {
		s.StringTags[constants.ResourceName] = name
	}

	e.tracer.started(s)
	return s
}

func (e *Engine) finish(s *Span, t abi.UnixTime) {
	s.Finish = t
	s.Finished = true
	e.tracer.finish(s)
}

func idTag(id abi.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (e *Engine) sessionCreate(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.writeResult(p[3], abi.Invalid)
	}
	framework, err := e.cstring(p[0])
	if err != nil {
		return 0, err
	}
	version, err := e.cstring(p[1])
	if err != nil {
		return 0, err
	}
	start, err := e.timestamp(p[2])
	if err != nil {
		return 0, err
	}

	s := e.newEntity(abi.EntitySession, constants.SpanTypeTestSession, framework, nil, start)
	s.StringTags[constants.TestFramework] = framework
	s.StringTags[constants.TestFrameworkVersion] = version
	s.StringTags[constants.TestSessionIDTag] = idTag(s.ID)
	return e.writeResult(p[3], s.ID)
}

func (e *Engine) sessionClose(p []uint64) (uint64, error) {
	exit := api.DecodeI32(p[1])
	t, err := e.timestamp(p[2])
	if err != nil {
		return 0, err
	}
	if !e.ready() {
		return result(false), nil
	}
	s, ok := e.table.Drop(abi.ID(p[0]), abi.EntitySession)
	if !ok {
		return result(false), nil
	}
	s.NumberTags[constants.TestCommandExitCode] = float64(exit)
	s.StringTags[constants.TestStatus] = constants.TestStatusPass
	if exit != 0 {
		s.StringTags[constants.TestStatus] = constants.TestStatusFail
	}
	e.finish(s, t)
	return result(true), nil
}

func (e *Engine) moduleCreate(p []uint64) (uint64, error) {
	out := p[5]
	if !e.ready() {
		return e.writeResult(out, abi.Invalid)
	}
	var strs [3]string
	for i := range strs {
		v, err := e.cstring(p[i+1])
		if err != nil {
			return 0, err
		}
		strs[i] = v
	}
	start, err := e.timestamp(p[4])
	if err != nil {
		return 0, err
	}
	session, ok := e.table.Get(abi.ID(p[0]), abi.EntitySession)
	if !ok {
		return e.writeResult(out, abi.Invalid)
	}

	name := strs[0]
	s := e.newEntity(abi.EntityModule, constants.SpanTypeTestModule, name, session, start)
	s.StringTags[constants.TestModule] = name
	s.StringTags[constants.TestFramework] = strs[1]
	s.StringTags[constants.TestFrameworkVersion] = strs[2]
	s.StringTags[constants.TestSessionIDTag] = idTag(session.ID)
	s.StringTags[constants.TestModuleIDTag] = idTag(s.ID)
	return e.writeResult(out, s.ID)
}

func (e *Engine) suiteCreate(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.writeResult(p[3], abi.Invalid)
	}
	name, err := e.cstring(p[1])
	if err != nil {
		return 0, err
	}
	start, err := e.timestamp(p[2])
	if err != nil {
		return 0, err
	}
	module, ok := e.table.Get(abi.ID(p[0]), abi.EntityModule)
	if !ok {
		return e.writeResult(p[3], abi.Invalid)
	}

	s := e.newEntity(abi.EntitySuite, constants.SpanTypeTestSuite, name, module, start)
	s.StringTags[constants.TestModule] = module.Name
	s.StringTags[constants.TestSuite] = name
	s.StringTags[constants.TestSessionIDTag] = module.StringTags[constants.TestSessionIDTag]
	s.StringTags[constants.TestModuleIDTag] = idTag(module.ID)
	s.StringTags[constants.TestSuiteIDTag] = idTag(s.ID)
	return e.writeResult(p[3], s.ID)
}

func (e *Engine) testCreate(p []uint64) (uint64, error) {
	if !e.ready() {
		return e.writeResult(p[3], abi.Invalid)
	}
	name, err := e.cstring(p[1])
	if err != nil {
		return 0, err
	}
	start, err := e.timestamp(p[2])
	if err != nil {
		return 0, err
	}
	suite, ok := e.table.Get(abi.ID(p[0]), abi.EntitySuite)
	if !ok {
		return e.writeResult(p[3], abi.Invalid)
	}

	s := e.newEntity(abi.EntityTest, constants.SpanTypeTest, name, suite, start)
	for _, k := range []string{constants.TestModule, constants.TestSessionIDTag, constants.TestModuleIDTag} {
		s.StringTags[k] = suite.StringTags[k]
	}
	s.StringTags[constants.TestSuite] = suite.Name
	s.StringTags[constants.TestName] = name
	s.StringTags[constants.TestSuiteIDTag] = idTag(suite.ID)
	return e.writeResult(p[3], s.ID)
}

// closer handles the close export of entities whose close takes only a
// finish time
func (e *Engine) closer(kind abi.Entity) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		t, err := e.timestamp(p[1])
		if err != nil {
			return 0, err
		}
		if !e.ready() {
			return result(false), nil
		}
		s, ok := e.table.Drop(abi.ID(p[0]), kind)
		if !ok {
			return result(false), nil
		}
		e.finish(s, t)
		return result(true), nil
	}
}

func (e *Engine) testClose(p []uint64) (uint64, error) {
	v := marshal.At(e.mem, api.DecodeU32(p[1]), abi.TestCloseOptions)
	status := v.U8("status")
	finishPtr := v.U32("finish_time")
	reasonPtr := v.U32("skip_reason")
	if err := v.Err(); err != nil {
		return 0, err
	}
	t, err := e.timestamp(uint64(finishPtr))
	if err != nil {
		return 0, err
	}
	var reason string
	if reasonPtr != 0 {
		if reason, err = marshal.ReadCString(e.mem, reasonPtr); err != nil {
			return 0, err
		}
	}

	if !e.ready() || status > abi.StatusSkip {
		return result(false), nil
	}
	s, ok := e.table.Drop(abi.ID(p[0]), abi.EntityTest)
	if !ok {
		return result(false), nil
	}
	switch status {
	case abi.StatusPass:
		s.StringTags[constants.TestStatus] = constants.TestStatusPass
	case abi.StatusFail:
		s.StringTags[constants.TestStatus] = constants.TestStatusFail
	case abi.StatusSkip:
		s.StringTags[constants.TestStatus] = constants.TestStatusSkip
		if reasonPtr != 0 {
			s.StringTags[constants.TestSkipReason] = reason
		}
	}
	e.finish(s, t)
	return result(true), nil
}

func (e *Engine) spanCreate(p []uint64) (uint64, error) {
	out := p[2]
	if !e.ready() {
		return e.writeResult(out, abi.Invalid)
	}
	v := marshal.At(e.mem, api.DecodeU32(p[1]), abi.SpanStartOptions)
	op := v.CString("operation_name")
	service := v.CString("service_name")
	resource := v.CString("resource_name")
	spanType := v.CString("span_type")
	startPtr, strPtr, numPtr := v.U32("start_time"), v.U32("string_tags"), v.U32("number_tags")
	if err := v.Err(); err != nil {
		return 0, err
	}
	start, err := e.timestamp(uint64(startPtr))
	if err != nil {
		return 0, err
	}
	strTags, err := e.readMap(strPtr)
	if err != nil {
		return 0, err
	}
	var numTags []marshal.KeyNumber
	if numPtr != 0 {
		if numTags, err = marshal.ReadKeyNumbers(e.mem, numPtr); err != nil {
			return 0, err
		}
	}

	parent, ok := e.table.Any(abi.ID(p[0]))
	if !ok {
		return e.writeResult(out, abi.Invalid)
	}
	s := e.newEntity(abi.EntitySpan, op, resource, parent, start)
	if service != "" {
		s.StringTags[constants.ServiceName] = service
	}
	if spanType == "" {
		spanType = constants.SpanTypeSpan
	}
	s.StringTags[constants.SpanType] = spanType
	for k, val := range strTags {
		s.StringTags[k] = val
	}
	for _, kn := range numTags {
		s.NumberTags[kn.Key] = kn.Value
	}
	return e.writeResult(out, s.ID)
}

func (e *Engine) setStringTag(kind abi.Entity) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		key, err := e.cstring(p[1])
		if err != nil {
			return 0, err
		}
		value, err := e.cstring(p[2])
		if err != nil {
			return 0, err
		}
		s, ok := e.live(p[0], kind)
		if !ok {
			return result(false), nil
		}
		s.StringTags[key] = value
		return result(true), nil
	}
}

func (e *Engine) setNumberTag(kind abi.Entity) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		key, err := e.cstring(p[1])
		if err != nil {
			return 0, err
		}
		s, ok := e.live(p[0], kind)
		if !ok {
			return result(false), nil
		}
		s.NumberTags[key] = api.DecodeF64(p[2])
		return result(true), nil
	}
}

func (e *Engine) setError(kind abi.Entity) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		var strs [3]string
		for i := range strs {
			v, err := e.cstring(p[i+1])
			if err != nil {
				return 0, err
			}
			strs[i] = v
		}
		s, ok := e.live(p[0], kind)
		if !ok {
			return result(false), nil
		}
		s.StringTags[constants.ErrorType] = strs[0]
		s.StringTags[constants.ErrorMessage] = strs[1]
		s.StringTags[constants.ErrorStack] = strs[2]
		return result(true), nil
	}
}

func (e *Engine) setSource(kind abi.Entity) func([]uint64) (uint64, error) {
	return func(p []uint64) (uint64, error) {
		file, err := e.cstring(p[1])
		if err != nil {
			return 0, err
		}
		lines := map[string]uint32{
			constants.TestSourceStartLine: api.DecodeU32(p[2]),
			constants.TestSourceEndLine:   api.DecodeU32(p[3]),
		}
		values := make(map[string]float64, 2)
		for tag, ptr := range lines {
			if ptr == 0 {
				continue
			}
			line, err := e.mem.ReadU32(ptr)
			if err != nil {
				return 0, err
			}
			values[tag] = float64(int32(line))
		}

		s, ok := e.live(p[0], kind)
		if !ok {
			return result(false), nil
		}
		s.StringTags[constants.TestSourceFile] = file
		for tag, line := range values {
			s.NumberTags[tag] = line
		}
		return result(true), nil
	}
}

func benchmarkTag(measure, key string) string {
	return constants.BenchmarkPrefix + "." + measure + "." + key
}

func (e *Engine) benchmarkStrings(p []uint64) (uint64, error) {
	measure, err := e.cstring(p[1])
	if err != nil {
		return 0, err
	}
	kvs, err := marshal.ReadKeyValues(e.mem, api.DecodeU32(p[2]))
	if err != nil {
		return 0, err
	}
	s, ok := e.live(p[0], abi.EntityTest)
	if !ok {
		return result(false), nil
	}
	for _, kv := range kvs {
		s.StringTags[benchmarkTag(measure, kv.Key)] = kv.Value
	}
	return result(true), nil
}

func (e *Engine) benchmarkNumbers(p []uint64) (uint64, error) {
	measure, err := e.cstring(p[1])
	if err != nil {
		return 0, err
	}
	kns, err := marshal.ReadKeyNumbers(e.mem, api.DecodeU32(p[2]))
	if err != nil {
		return 0, err
	}
	s, ok := e.live(p[0], abi.EntityTest)
	if !ok {
		return result(false), nil
	}
	for _, kn := range kns {
		s.NumberTags[benchmarkTag(measure, kn.Key)] = kn.Value
	}
	return result(true), nil
}

// live returns an open entity of kind when the engine is ready
func (e *Engine) live(id uint64, kind abi.Entity) (*Span, bool) {
	if !e.ready() {
		return nil, false
	}
	return e.table.Get(abi.ID(id), kind)
}
