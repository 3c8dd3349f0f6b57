// Package testlog provides a logger for tests that exercise failure paths.
package testlog

import (
	"bytes"

	"github.com/retroenv/retrogolib/log"
)

// T is the part of testing.TB the logger needs.
type T interface {
	Logf(format string, args ...any)
	Helper()
}

type writer struct {
	t T
}

func (w writer) Write(p []byte) (int, error) {
	w.t.Logf("%s", bytes.TrimSuffix(p, []byte{'\n'}))
	return len(p), nil
}

// New returns a debug level logger writing to t. Unlike log.NewTestLogger
// it does not fail the test on error records, so expected failures can be
// logged.
func New(t T) *log.Logger {
	t.Helper()

	cfg := log.DefaultConfig()
	cfg.Level = log.DebugLevel
	cfg.Output = writer{t: t}
	cfg.TimeFormat = "-"
	return log.NewWithConfig(cfg)
}
