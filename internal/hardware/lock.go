package hardware

import (
	"sync"

	"github.com/ChuLiYu/workhorse/internal/logging"
)

// typeLocks holds one mutex per capability type name. Two workers switching
// into the same capability must not load the shared resource concurrently.
var typeLocks sync.Map // map[string]*sync.Mutex

// LockType acquires the lock for capability name and returns its release.
func LockType(name string) (unlock func()) {
	v, _ := typeLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Load calls h.Load while holding the lock for h's type.
func Load(h Handler, log *logging.Logger) error {
	unlock := LockType(h.TypeName())
	defer unlock()
	return h.Load(log)
}

// Unload calls h.Unload while holding the lock for h's type.
func Unload(h Handler, log *logging.Logger) error {
	unlock := LockType(h.TypeName())
	defer unlock()
	return h.Unload(log)
}
