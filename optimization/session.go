package optimization

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/marshal"
)

// Session is the root entity of a test run
type Session struct {
	entity
	closed atomic.Bool
}

// Init bootstraps the engine, initializes it and opens the session.
//
// The returned session is never nil. On failure it is disabled, every
// operation on it reports false, and the error says why; callers should
// treat this as telemetry being off rather than as a failed run.
func Init(ctx context.Context, opts Options) (*Session, error) {
	log := opts.logger()
	c := &client{lib: opts.Library, log: log, now: opts.clock()}

	process.mu.Lock()
	defer process.mu.Unlock()

	fail := func(err error) (*Session, error) {
		log.Warn("test optimization disabled", zap.Error(err))
		return &Session{entity: entity{c: &client{log: log, now: c.now}, kind: abi.EntitySession}}, err
	}

	if process.state == stateReady {
		return fail(errors.New(errors.PhaseLifecycle, errors.KindAlreadyInitialized).
			Detail("library is %s with another session", process.state).
			Build())
	}
	if opts.Library == nil {
		return fail(errors.NotInitialized(errors.PhaseInit, "library"))
	}
	for field, value := range opts.strings() {
		if err := marshal.ValidateCString(field, value); err != nil {
			return fail(err)
		}
	}
	if err := validateTags("environment_variables", opts.Environment); err != nil {
		return fail(err)
	}
	if err := validateTags("global_tags", opts.GlobalTags); err != nil {
		return fail(err)
	}

	if err := opts.Library.Bootstrap(ctx); err != nil {
		return fail(errors.Wrap(errors.PhaseInit, errors.KindCallFailed, err, "engine bootstrap"))
	}
	if err := c.initialize(&opts); err != nil {
		return fail(err)
	}
	transitionLocked(log, opts.Library, stateReady)

	start := c.clock()
	id := c.create(abi.EntitySession.Export(abi.OpCreate), func(s *marshal.Scope) ([]uint64, error) {
		args, err := strs(s, "framework", opts.Framework, "framework_version", opts.FrameworkVersion)
		if err != nil {
			return nil, err
		}
		ts, err := stamp(s, start)
		return append(args, ts), err
	})
	if !id.Valid() {
		shutdownLocked(c)
		return fail(errors.New(errors.PhaseInit, errors.KindRejected).
			Func(abi.EntitySession.Export(abi.OpCreate)).
			Detail("engine did not create a session").
			Build())
	}

	log.Debug("session opened", zap.Uint64("handle", uint64(id)))
	return &Session{entity: entity{c: c, kind: abi.EntitySession, id: id}}, nil
}

func validateTags(field string, m map[string]string) error {
	for k, v := range m {
		if err := marshal.ValidateCString(field, k); err != nil {
			return err
		}
		if err := marshal.ValidateCString(field, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *client) initialize(opts *Options) error {
	var ret uint64
	err := c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		v, err := s.Record(abi.InitOptions)
		if err != nil {
			return err
		}
		fields := []struct{ name, value string }{
			{"language", opts.Language},
			{"runtime_name", opts.RuntimeName},
			{"runtime_version", opts.RuntimeVersion},
		}
		for _, f := range fields {
			ptr, err := s.CString(f.name, f.value)
			if err != nil {
				return err
			}
			v.SetU32(f.name, ptr)
		}
		wd, err := s.OptionalCString("working_directory", opts.WorkingDirectory)
		if err != nil {
			return err
		}
		v.SetU32("working_directory", wd)

		for field, m := range map[string]map[string]string{
			"environment_variables": opts.Environment,
			"global_tags":           opts.GlobalTags,
		} {
			if len(m) == 0 {
				continue
			}
			arr, err := s.KeyValueArray(field, marshal.KeyValues(m))
			if err != nil {
				return err
			}
			v.SetU32(field, arr)
		}
		v.SetBool("use_mock_tracer", opts.UseMockTracer)
		if err := v.Err(); err != nil {
			return err
		}

		if ret, err = call(abi.FnInitialize, api.EncodeU32(v.Ptr())); err != nil {
			return errors.New(errors.PhaseInit, errors.KindCallFailed).
				Func(abi.FnInitialize).
				Cause(err).
				Build()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !abi.DecodeResult(ret) {
		return errors.New(errors.PhaseInit, errors.KindRejected).
			Func(abi.FnInitialize).
			Detail("engine rejected initialization").
			Build()
	}
	return nil
}

// Enabled reports whether the session reached the engine
func (s *Session) Enabled() bool {
	return s.c.enabled() && s.id.Valid()
}

// CreateModule opens a module stamped with the session clock
func (s *Session) CreateModule(name, framework, frameworkVersion string) Module {
	return s.CreateModuleAt(name, framework, frameworkVersion, s.c.clock())
}

func (s *Session) CreateModuleAt(name, framework, frameworkVersion string, start time.Time) Module {
	id := s.c.child(abi.EntityModule.Export(abi.OpCreate), s.id, func(sc *marshal.Scope) ([]uint64, error) {
		args, err := strs(sc, "name", name, "framework", framework, "framework_version", frameworkVersion)
		if err != nil {
			return nil, err
		}
		ts, err := stamp(sc, start)
		return append(args, ts), err
	})
	return Module{session: s, entity: entity{c: s.c, kind: abi.EntityModule, id: id}}
}

// Close closes the session with exitCode and shuts the engine down.
//
// When deferred directly and the goroutine is panicking, the session is
// closed with exit code 1 and the panic continues. Re-panicking loses the
// original stack, so it is logged at error level first. A second Close
// reports false and does nothing.
func (s *Session) Close(exitCode int32) bool {
	if r := recover(); r != nil {
		s.closeOnPanic(r, s.c.clock())
	}
	return s.close(exitCode, s.c.clock())
}

// CloseAt is Close with an explicit finish time
func (s *Session) CloseAt(exitCode int32, finish time.Time) bool {
	if r := recover(); r != nil {
		s.closeOnPanic(r, finish)
	}
	return s.close(exitCode, finish)
}

func (s *Session) closeOnPanic(r any, finish time.Time) {
	s.c.log.Error("session closed during panic",
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()))
	s.close(abi.ExitFailure, finish)
	panic(r)
}

func (s *Session) close(exitCode int32, finish time.Time) bool {
	if !s.closed.CompareAndSwap(false, true) {
		s.c.log.Debug("session already closed", zap.Uint64("handle", uint64(s.id)))
		return false
	}
	if !s.Enabled() {
		return false
	}

	ok := s.c.invoke(abi.EntitySession.Export(abi.OpClose), s.id, func(sc *marshal.Scope) ([]uint64, error) {
		ts, err := stamp(sc, finish)
		return []uint64{api.EncodeI32(exitCode), ts}, err
	})

	process.mu.Lock()
	shutdownLocked(s.c)
	process.mu.Unlock()
	return ok
}

// MockTracer gives access to spans captured by the engine when the session
// was opened with UseMockTracer. It stays usable after Close.
func (s *Session) MockTracer() *MockTracer {
	return &MockTracer{c: s.c}
}
