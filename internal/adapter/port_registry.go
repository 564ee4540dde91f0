package adapter

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	defaultMinPort = 10000
	defaultMaxPort = 40000
)

// PortRegistry leases local TCP ports that no other instrumenter in this
// process has tried. A leased port may still be bound by another OS
// process; callers handle that by retrying with a new lease.
type PortRegistry interface {
	Lease() (int, error)
}

// LocalPortRegistry picks random ports from [min, max] and never hands out
// the same port twice.
type LocalPortRegistry struct {
	mu       sync.Mutex
	used     map[int]struct{}
	min, max int
	randIntN func(n int) int
}

// NewPortRegistry constructs a LocalPortRegistry over the default range.
func NewPortRegistry() *LocalPortRegistry {
	return NewPortRegistryInRange(defaultMinPort, defaultMaxPort)
}

// NewPortRegistryInRange constructs a LocalPortRegistry over [minPort, maxPort].
func NewPortRegistryInRange(minPort, maxPort int) *LocalPortRegistry {
	return &LocalPortRegistry{
		used:     make(map[int]struct{}),
		min:      minPort,
		max:      maxPort,
		randIntN: rand.IntN,
	}
}

// Lease returns a random port that has not been leased before.
func (r *LocalPortRegistry) Lease() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.max - r.min + 1
	if len(r.used) >= size {
		return 0, fmt.Errorf("%w: %d-%d", ErrNoFreePort, r.min, r.max)
	}

	for {
		port := r.min + r.randIntN(size)
		if _, taken := r.used[port]; taken {
			continue
		}

		r.used[port] = struct{}{}

		return port, nil
	}
}

// Leased reports whether port has been handed out.
func (r *LocalPortRegistry) Leased(port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.used[port]

	return ok
}
