package spinor

import (
	"errors"
	"sync"

	"github.com/retroenv/retrogolib/log"
)

type RestoreFunc func() error

type restoreEntry struct {
	owner    any
	snapshot StatusRegister
	fn       RestoreFunc
}

// RestoreRegistry collects actions that must run once when a session ends,
// for example putting back block protection. Registering the same owner and
// snapshot twice keeps only the first entry.
type RestoreRegistry struct {
	mu      sync.Mutex
	entries []restoreEntry
	drained bool
	log     *log.Logger
}

func NewRestoreRegistry(logger *log.Logger) *RestoreRegistry {
	if logger == nil {
		logger = defaultLogger()
	}
	return &RestoreRegistry{log: logger}
}

// Register adds a restore action. It returns false if an identical entry is
// already pending or the registry was drained.
func (r *RestoreRegistry) Register(owner any, snapshot StatusRegister, fn RestoreFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.drained {
		r.log.Warn("Restore registered after teardown, ignoring", log.Stringer("status", snapshot))
		return false
	}
	for _, e := range r.entries {
		if e.owner == owner && e.snapshot == snapshot {
			return false
		}
	}

	r.entries = append(r.entries, restoreEntry{owner: owner, snapshot: snapshot, fn: fn})
	return true
}

// Drained reports whether Drain was called. Later registrations are refused.
func (r *RestoreRegistry) Drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drained
}

func (r *RestoreRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Drain runs all pending actions, newest first, so the oldest snapshot of a
// register is the one left in place. A failing action does not stop the
// others. Calling Drain again does nothing.
func (r *RestoreRegistry) Drain() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.drained = true
	r.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].fn(); err != nil {
			r.log.Warn("Restore failed", log.Stringer("status", entries[i].snapshot), log.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
