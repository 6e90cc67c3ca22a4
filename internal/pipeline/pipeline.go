// Package pipeline contains the real-time color producers: a screen sampler
// and an audio-spectrum analyzer. Pipelines know nothing about devices; they
// emit rate-limited color samples through a callback and the ambient driver
// decides what to do with them.
package pipeline

import (
	"context"

	"lumisync/internal/protocol"
)

// SampleHandler receives each emitted color sample. Handlers must be fast;
// they run on the pipeline's worker.
type SampleHandler func(protocol.HSBK)

// Source is a periodic color producer. Run blocks until ctx is cancelled.
type Source interface {
	Name() string
	OnSample(SampleHandler)
	Run(ctx context.Context) error
}
