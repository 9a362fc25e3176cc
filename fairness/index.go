package fairness

import (
	"context"
	"sync/atomic"
)

// Index is the rotating fairness counter. NextIndex atomically takes the
// next value of a monotonically growing counter and wraps it over n, so
// two concurrent callers can never observe the same position.
type Index interface {
	NextIndex(ctx context.Context, n int) (int, error)
	Reset(ctx context.Context) error
}

type memoryIndex struct {
	counter uint64
}

// NewMemoryIndex returns a process-local index, used when no shared cache
// is configured. Single-process deployments get full round-robin fairness
// from it; multi-process ones should use the Redis index instead.
func NewMemoryIndex() Index {
	return &memoryIndex{}
}

func (m *memoryIndex) NextIndex(_ context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v := atomic.AddUint64(&m.counter, 1) - 1
	return int(v % uint64(n)), nil
}

func (m *memoryIndex) Reset(_ context.Context) error {
	atomic.StoreUint64(&m.counter, 0)
	return nil
}
