package testutil

import (
	"fmt"
	"sync"
	"time"

	"offsync-go/internal/offsync"
)

// RunStamp is the quarantine folder name of a run started by FixedClock.
const RunStamp = "20240115-103000"

// StubClock reports a settable time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ offsync.Clock = (*StubClock)(nil)

// FixedClock returns a StubClock stopped at BaseTime, so run timestamps and the
// modification times written by the tree builders coincide.
func FixedClock() *StubClock {
	return &StubClock{now: BaseTime}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, e.g. to start a later run.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StubIDGenerator hands out run IDs shaped like the UUIDs of real runs:
// 00000000-0000-4000-8000-000000000001, ...002 and so on.
type StubIDGenerator struct {
	mu   sync.Mutex
	runs int
}

var _ offsync.IDGenerator = (*StubIDGenerator)(nil)

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs++
	return RunID(g.runs)
}

// RunID returns the n-th ID handed out by a StubIDGenerator.
func RunID(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}
