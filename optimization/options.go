package optimization

import (
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/testopt/engine"
)

// Options configures Init
type Options struct {
	// Library is the engine to talk to. Required.
	Library engine.Library

	// Logger receives client diagnostics. Defaults to engine.Logger().
	Logger *zap.Logger

	// Clock stamps create and close calls that do not pass a time.
	// Defaults to time.Now.
	Clock func() time.Time

	Environment map[string]string
	GlobalTags  map[string]string

	Language         string
	RuntimeName      string
	RuntimeVersion   string
	WorkingDirectory string

	// Framework and FrameworkVersion describe the session itself
	Framework        string
	FrameworkVersion string

	// UseMockTracer makes the engine capture spans in memory, see
	// Session.MockTracer
	UseMockTracer bool
}

// DefaultOptions describes the running Go process
func DefaultOptions(lib engine.Library) Options {
	wd, _ := os.Getwd()
	return Options{
		Library:          lib,
		Language:         "go",
		RuntimeName:      runtime.Compiler,
		RuntimeVersion:   runtime.Version(),
		WorkingDirectory: wd,
	}
}

func (o *Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return engine.Logger()
}

func (o *Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

// strings returns the string options by field name, for validation
func (o *Options) strings() map[string]string {
	return map[string]string{
		"language":          o.Language,
		"runtime_name":      o.RuntimeName,
		"runtime_version":   o.RuntimeVersion,
		"working_directory": o.WorkingDirectory,
		"framework":         o.Framework,
		"framework_version": o.FrameworkVersion,
	}
}
