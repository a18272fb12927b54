package main

import (
	"flag"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	Engine      string
	Capture     string
	LogLevel    string
	Tests       int
	Fail        bool
	Skip        bool
	Interactive bool
}

// parseConfig reads flags; each flag falls back to a TOPT_* variable.
func parseConfig(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("topt", flag.ContinueOnError)
	fs.StringVar(&cfg.Engine, "engine", getEnv("TOPT_ENGINE", ""), "Path to engine wasm file (default: in-process mock engine)")
	fs.StringVar(&cfg.Capture, "capture", getEnv("TOPT_CAPTURE", ""), "SQLite file to save finished spans into")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("TOPT_LOG_LEVEL", ""), "Log level (debug, info, warn, error); empty uses development logging")
	fs.IntVar(&cfg.Tests, "tests", getEnvInt("TOPT_TESTS", 3), "Number of tests to run")
	fs.BoolVar(&cfg.Fail, "fail", getEnvBool("TOPT_FAIL", false), "Fail the last test")
	fs.BoolVar(&cfg.Skip, "skip", getEnvBool("TOPT_SKIP", false), "Skip the first test")
	fs.BoolVar(&cfg.Interactive, "i", false, "Browse finished spans in a TUI")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Tests < 0 {
		cfg.Tests = 0
	}
	return cfg, nil
}

func (c *config) logger() (*zap.Logger, error) {
	if c.LogLevel == "" {
		return zap.NewDevelopment()
	}
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
