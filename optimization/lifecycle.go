package optimization

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/engine"
)

type lifecycleState uint8

const (
	stateUninitialized lifecycleState = iota
	stateReady
	stateShutdown
)

func (s lifecycleState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateShutdown:
		return "shut down"
	}
	return "uninitialized"
}

// process is the library state shared by the whole process. Only one
// session is ready at a time; Init after a shutdown starts a new one.
var process struct {
	lib   engine.Library
	state lifecycleState
	mu    sync.Mutex
}

// transitionLocked moves the process to state. process.mu must be held.
func transitionLocked(log *zap.Logger, lib engine.Library, state lifecycleState) {
	log.Debug("lifecycle", zap.Stringer("from", process.state), zap.Stringer("to", state))
	process.state = state
	process.lib = lib
}

// shutdownLocked shuts the engine down once per ready period.
// process.mu must be held.
func shutdownLocked(c *client) {
	if process.state != stateReady || process.lib != c.lib {
		return
	}
	transitionLocked(c.log, nil, stateShutdown)

	ret, err := c.call(abi.FnShutdown)
	if err != nil {
		c.log.Debug("shutdown failed", zap.Error(err))
		return
	}
	if !abi.DecodeResult(ret) {
		c.log.Debug("engine reported shutdown failure")
	}
}
