package spinor

import (
	"time"

	"github.com/retroenv/retrogolib/log"
)

// ProgressFunc is called after every area of a chunked transfer.
type ProgressFunc func(op string, done, total uint32)

type config struct {
	logger *log.Logger

	readChunk  int
	writeChunk int

	// pollTimeout bounds erase and program WIP polling. Zero polls forever.
	pollTimeout time.Duration

	ids      *IDCache
	restores *RestoreRegistry
	progress ProgressFunc
}

func defaultConfig() config {
	return config{
		readChunk:  64 * 1024,
		writeChunk: 256,
	}
}

// defaultLogger only reports errors so that library users are not flooded.
func defaultLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ErrorLevel
	return log.NewWithConfig(cfg)
}

type Option func(*config)

// WithLogger sets the logger used for diagnostics and warnings.
//
// Example:
//
//	chip, err := spinor.New(t, info, spinor.WithLogger(logger))
func WithLogger(logger *log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithChunkSizes sets the maximum payload of a single read and program
// command. Transports that implement Limits can lower these further.
func WithChunkSizes(read, write int) Option {
	return func(c *config) {
		if read > 0 {
			c.readChunk = read
		}
		if write > 0 {
			c.writeChunk = write
		}
	}
}

// WithPollTimeout bounds the WIP polling after erase and program commands.
// Without it a chip that never clears WIP blocks forever.
//
// Example:
//
//	chip, err := spinor.New(t, info, spinor.WithPollTimeout(200*time.Second))
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) {
		c.pollTimeout = d
	}
}

// WithIDCache shares identification results between several candidate chips
// probed on the same bus.
func WithIDCache(ids *IDCache) Option {
	return func(c *config) {
		c.ids = ids
	}
}

// WithRestoreRegistry makes the chip register its teardown actions in a
// registry owned by the caller. The caller then has to drain it; Close will not.
func WithRestoreRegistry(r *RestoreRegistry) Option {
	return func(c *config) {
		c.restores = r
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}
