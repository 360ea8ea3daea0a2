package joblog

import (
	"context"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/clock"
)

// MemoryCapture keeps events in memory only. End produces no artifact,
// so committed invocations carry an empty log URL.
type MemoryCapture struct {
	buffer
}

// NewMemoryCapture builds an in-memory capture teeing into base.
func NewMemoryCapture(base *zap.SugaredLogger, clk clock.Clock) *MemoryCapture {
	c := &MemoryCapture{}
	c.initLogger(base, clk)
	return c
}

func (c *MemoryCapture) Start(ctx context.Context) error {
	c.setStarted(true)
	return nil
}

func (c *MemoryCapture) End(ctx context.Context) (string, error) {
	c.setStarted(false)
	return "", nil
}

// Events returns a copy of everything captured so far.
func (c *MemoryCapture) Events() []Event {
	return c.snapshot()
}
