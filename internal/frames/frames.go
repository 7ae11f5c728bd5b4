package frames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/types"
)

// Captioner is the vision call consumed per frame.
type Captioner interface {
	CaptionImage(ctx context.Context, image []byte) (string, error)
}

// ImageEmbedder is the image-embedding call consumed per frame.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
}

// Processor captions and embeds extracted frames on a bounded worker pool,
// preserving strict input order in the output regardless of completion
// order. Downstream consumers assume the frame list is complete and densely
// indexed, so any single frame failure aborts the whole stage.
type Processor struct {
	captioner Captioner
	embedder  ImageEmbedder
	workers   int
	log       *logrus.Entry
}

func NewProcessor(captioner Captioner, embedder ImageEmbedder, workers int, log *logrus.Entry) *Processor {
	if workers <= 0 {
		workers = 6
	}
	return &Processor{
		captioner: captioner,
		embedder:  embedder,
		workers:   workers,
		log:       log.WithField("component", "frames"),
	}
}

// Process runs the pool. Workers claim the next unclaimed frame index from
// a shared counter and write results into a pre-sized slice at the frame's
// original index. report receives (completed, total) after each frame
// resolves.
func (p *Processor) Process(ctx context.Context, extracted []types.ExtractedFrame, report func(done, total int)) ([]types.Frame, error) {
	if len(extracted) == 0 {
		return []types.Frame{}, nil
	}
	if report == nil {
		report = func(int, int) {}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]types.Frame, len(extracted))
	total := len(extracted)

	var (
		next     atomic.Int64
		done     atomic.Int64
		errOnce  sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	workers := p.workers
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= total || ctx.Err() != nil {
					return
				}
				frame, err := p.processOne(ctx, i, extracted[i])
				report(int(done.Add(1)), total)
				if err != nil {
					fail(fmt.Errorf("frame %d (t=%.3fs): %w", i, extracted[i].TimestampSec, err))
					return
				}
				results[i] = frame
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// processOne runs caption then embed for a single frame. A caption failure
// does not short-circuit the embedding, but both must succeed.
func (p *Processor) processOne(ctx context.Context, index int, src types.ExtractedFrame) (types.Frame, error) {
	caption, captionErr := p.captioner.CaptionImage(ctx, src.Image)
	embedding, embedErr := p.embedder.EmbedImage(ctx, src.Image)
	if err := errors.Join(captionErr, embedErr); err != nil {
		return types.Frame{}, err
	}
	return types.Frame{
		FrameID:      types.FrameID(index + 1),
		TimestampSec: src.TimestampSec,
		Image:        src.Image,
		Caption:      caption,
		Embedding:    embedding,
	}, nil
}
