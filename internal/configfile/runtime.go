package configfile

import "sync/atomic"

// Runtime provides lock-free atomic access to a parsed File, so a
// running watcher can swap in a newly reloaded config while in-flight
// reads of the old one finish undisturbed.
type Runtime struct {
	ptr atomic.Pointer[File]
}

// NewRuntime returns a Runtime seeded with initial.
func NewRuntime(initial *File) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the most recently stored File.
func (r *Runtime) Get() *File {
	return r.ptr.Load()
}

// Store atomically swaps in a new File.
func (r *Runtime) Store(f *File) {
	r.ptr.Store(f)
}
