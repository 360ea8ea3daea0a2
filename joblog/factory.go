package joblog

import (
	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/blob"
	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/queue"
)

// Factory builds the capture for an invocation about to execute. With
// no object store configured every invocation gets a memory capture.
type Factory struct {
	Blobs blob.Store
	Base  *zap.SugaredLogger
	Clock clock.Clock
}

// NewCapture returns the capture for inv. Continuations hand their
// predecessor's id to the blob capture so the artifact chain appends.
func (f *Factory) NewCapture(inv *queue.Invocation) Capture {
	if f.Blobs == nil {
		return NewMemoryCapture(f.Base, f.Clock)
	}

	priorID := ""
	if inv.IsContinuation {
		priorID = inv.Source
	}
	return NewBlobCapture(f.Blobs, f.Base, f.Clock, inv.ID, priorID)
}
