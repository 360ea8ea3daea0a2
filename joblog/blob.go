package joblog

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/blob"
	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/errors"
)

const (
	artifactPrefix      = "invocations"
	artifactContentType = "application/json"
)

// ArtifactKey is the object-store key for an invocation's log artifact.
func ArtifactKey(invocationID string) string {
	return path.Join(artifactPrefix, invocationID+".json")
}

// BlobCapture persists captured events to an object store on End. A
// re-dequeued or resumed invocation appends to the artifact its chain
// already produced instead of starting over.
type BlobCapture struct {
	buffer
	store        blob.Store
	invocationID string
	priorID      string
}

// NewBlobCapture builds a persistent capture for one invocation.
// priorID is the invocation this one continues from, or "" for a fresh
// invocation.
func NewBlobCapture(store blob.Store, base *zap.SugaredLogger, clk clock.Clock, invocationID, priorID string) *BlobCapture {
	c := &BlobCapture{
		store:        store,
		invocationID: invocationID,
		priorID:      priorID,
	}
	c.initLogger(base, clk)
	return c
}

// Start loads any prior artifact and opens the capture. The invocation's
// own key wins over the chain's key: a re-dequeued lease has already
// written under its own id.
func (c *BlobCapture) Start(ctx context.Context) error {
	prior, err := c.loadPrior(ctx)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		c.prepend(prior)
	}
	c.setStarted(true)
	return nil
}

func (c *BlobCapture) loadPrior(ctx context.Context) ([]Event, error) {
	keys := []string{ArtifactKey(c.invocationID)}
	if c.priorID != "" {
		keys = append(keys, ArtifactKey(c.priorID))
	}

	for _, key := range keys {
		body, err := c.store.Get(ctx, key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load prior log artifact %s", key)
		}
		events, err := DecodeEvents(body)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode prior log artifact %s", key)
		}
		return events, nil
	}
	return nil, nil
}

// End closes the capture and uploads the artifact under the
// invocation's own key. An empty capture still uploads, so the chain's
// next leg finds its predecessor.
func (c *BlobCapture) End(ctx context.Context) (string, error) {
	c.setStarted(false)

	body, err := EncodeEvents(c.snapshot())
	if err != nil {
		return "", err
	}

	url, err := c.store.Put(ctx, ArtifactKey(c.invocationID), artifactContentType, body)
	if err != nil {
		return "", errors.Wrap(err, "failed to upload log artifact")
	}
	return url, nil
}
