package client

import (
	"fmt"
	"sync"
)

// registry counts open connections per client class for the whole process.
var registry = struct {
	sync.Mutex
	open map[string]int
}{open: make(map[string]int)}

// reserve claims a slot for class, failing when limit slots are already taken.
func reserve(class string, limit int) error {
	registry.Lock()
	defer registry.Unlock()
	if limit > 0 && registry.open[class] >= limit {
		return fmt.Errorf("%w: %d open for %q", ErrTooManyConnections, registry.open[class], class)
	}
	registry.open[class]++
	return nil
}

func release(class string) {
	registry.Lock()
	defer registry.Unlock()
	if registry.open[class] > 0 {
		registry.open[class]--
	}
}

// OpenConnections returns the number of live connections for class.
func OpenConnections(class string) int {
	registry.Lock()
	defer registry.Unlock()
	return registry.open[class]
}

// ResetRegistry forgets every counted connection. Tests only.
func ResetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	clear(registry.open)
}
