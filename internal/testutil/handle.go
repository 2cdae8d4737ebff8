package testutil

import (
	"fmt"
	"sync"
)

// SequentialHandles generates unit-of-work handles "uow-1", "uow-2", ...
//
// This enables deterministic log output and golden snapshot comparison.
type SequentialHandles struct {
	mu sync.Mutex
	n  int
}

// Generate returns the next handle.
//
// Implements engine.HandleGenerator interface.
func (g *SequentialHandles) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("uow-%d", g.n)
}
