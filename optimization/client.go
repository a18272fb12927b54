package optimization

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
	"github.com/wippyai/testopt/errors"
	"github.com/wippyai/testopt/marshal"
)

// client performs boundary calls for one session. It is immutable after
// Init and shared by every entity of the session.
type client struct {
	lib engine.Library
	log *zap.Logger
	now func() time.Time
}

// params builds the arguments of a call inside the call's scope
type params func(s *marshal.Scope) ([]uint64, error)

func (c *client) enabled() bool {
	return c != nil && c.lib != nil
}

func (c *client) clock() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

// exclusive runs fn with the engine locked. The scope passed to fn is
// released before the lock is dropped.
func (c *client) exclusive(fn func(s *marshal.Scope, call engine.Caller) error) error {
	return c.lib.Do(context.Background(), func(call engine.Caller) error {
		s := marshal.NewScope(c.lib.Memory(), c.lib.Allocator())
		defer s.Release()
		return fn(s, call)
	})
}

// call invokes an export that takes no client memory
func (c *client) call(fn string, args ...uint64) (uint64, error) {
	return c.lib.Call(context.Background(), fn, args...)
}

// inputError logs a value that could not be marshaled. No engine call was
// made for it.
func (c *client) inputError(fn string, err error) {
	c.log.Error("invalid input", zap.String("fn", fn), zap.Error(err))
}

// failed logs err from an exclusive section. Encoding errors mean the
// engine was never called and are reported as invalid input.
func (c *client) failed(fn string, id abi.ID, err error) {
	var e *errors.Error
	if errors.As(err, &e) && e.Phase == errors.PhaseEncode {
		c.inputError(fn, err)
		return
	}
	c.log.Debug("call failed", zap.String("fn", fn), zap.Uint64("handle", uint64(id)), zap.Error(err))
}

// invoke calls a Bool-returning export whose first parameter is a handle
func (c *client) invoke(fn string, id abi.ID, build params) bool {
	if !c.enabled() {
		return false
	}
	if !id.Valid() {
		c.log.Debug("call on invalid handle", zap.String("fn", fn), zap.Error(errors.InvalidHandle(fn)))
		return false
	}

	var ret uint64
	err := c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		args := []uint64{uint64(id)}
		if build != nil {
			rest, err := build(s)
			if err != nil {
				return err
			}
			args = append(args, rest...)
		}
		var err error
		ret, err = call(fn, args...)
		return err
	})
	if err != nil {
		c.failed(fn, id, err)
		return false
	}
	if !abi.DecodeResult(ret) {
		c.log.Debug("call rejected", zap.Uint64("handle", uint64(id)), zap.Error(errors.Rejected(fn, uint64(id))))
		return false
	}
	return true
}

// create calls a create export and reads its EntityResult out-record
func (c *client) create(fn string, build params) abi.ID {
	if !c.enabled() {
		return abi.Invalid
	}

	var (
		id    abi.ID
		valid bool
	)
	err := c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		args, err := build(s)
		if err != nil {
			return err
		}
		out, err := s.Record(abi.EntityResult)
		if err != nil {
			return err
		}
		if _, err := call(fn, append(args, api.EncodeU32(out.Ptr()))...); err != nil {
			return err
		}
		id, valid = abi.ID(out.U64("id")), out.Bool("valid")
		return out.Err()
	})
	if err != nil {
		c.failed(fn, abi.Invalid, err)
		return abi.Invalid
	}
	if !valid || !id.Valid() {
		c.log.Debug("create rejected", zap.String("fn", fn))
		return abi.Invalid
	}
	return id
}

// child creates an entity under parent. The parent handle is prepended to
// the built arguments; an invalid parent makes no call.
func (c *client) child(fn string, parent abi.ID, build params) abi.ID {
	if !c.enabled() {
		return abi.Invalid
	}
	if !parent.Valid() {
		c.log.Debug("create under invalid parent", zap.String("fn", fn), zap.Error(errors.InvalidHandle(fn)))
		return abi.Invalid
	}
	return c.create(fn, func(s *marshal.Scope) ([]uint64, error) {
		args, err := build(s)
		return append([]uint64{uint64(parent)}, args...), err
	})
}

// strs encodes C strings as call arguments
func strs(s *marshal.Scope, pairs ...string) ([]uint64, error) {
	out := make([]uint64, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		ptr, err := s.CString(pairs[i], pairs[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, api.EncodeU32(ptr))
	}
	return out, nil
}

// stamp encodes a timestamp argument
func stamp(s *marshal.Scope, t time.Time) (uint64, error) {
	ptr, err := s.Time(abi.FromTime(t))
	return api.EncodeU32(ptr), err
}

// fetch reads an engine-owned array into the client and releases it
// through free exactly once, whether or not decoding succeeds
func (c *client) fetch(get, free string, rec *abi.Record, each func(el *marshal.View) error) error {
	return c.exclusive(func(s *marshal.Scope, call engine.Caller) error {
		hdr, err := s.Record(abi.Array)
		if err != nil {
			return err
		}
		if _, err := call(get, api.EncodeU32(hdr.Ptr())); err != nil {
			return err
		}

		guard := marshal.NewGuard(func() error {
			_, err := call(free, api.EncodeU32(hdr.Ptr()))
			return err
		})
		defer func() {
			if err := guard.Release(); err != nil {
				c.log.Warn("release engine array", zap.String("fn", free), zap.Error(err))
			}
		}()

		return marshal.Each(s.Memory(), hdr.Ptr(), rec, func(_ int, el *marshal.View) error {
			return each(el)
		})
	})
}
