package segments

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/types"
)

// TextEmbedder is the batched text-embedding call the processor consumes.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([]types.TextEmbedding, error)
}

// Processor turns raw transcript segments into embedded, confidence-scored
// output segments. Any embedding failure aborts the whole batch: topics
// depend on a complete, consistently-ordered segment list.
type Processor struct {
	embedder  TextEmbedder
	batchSize int
	log       *logrus.Entry
}

func NewProcessor(embedder TextEmbedder, batchSize int, log *logrus.Entry) *Processor {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Processor{
		embedder:  embedder,
		batchSize: batchSize,
		log:       log.WithField("component", "segments"),
	}
}

// Process embeds all segment texts in order-preserving batches. Provider
// item indexes are mapped back onto segment ordinals to guard against
// reordering.
func (p *Processor) Process(ctx context.Context, transcript []types.TranscriptSegment) ([]types.Segment, error) {
	out := make([]types.Segment, len(transcript))
	for i, ts := range transcript {
		if ts.StartSec >= ts.EndSec {
			return nil, types.NewValidationError("embed_segments",
				"segment %d has start %.3f >= end %.3f", ts.Index, ts.StartSec, ts.EndSec)
		}
		out[i] = types.Segment{
			SegmentID:  types.SegmentID(i + 1),
			StartSec:   ts.StartSec,
			EndSec:     ts.EndSec,
			Text:       ts.Text,
			Confidence: LogProbToConfidence(ts.AvgLogProb),
		}
	}

	for offset := 0; offset < len(transcript); offset += p.batchSize {
		end := offset + p.batchSize
		if end > len(transcript) {
			end = len(transcript)
		}
		texts := make([]string, 0, end-offset)
		for _, ts := range transcript[offset:end] {
			texts = append(texts, ts.Text)
		}

		items, err := p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(items) != len(texts) {
			return nil, &types.MalformedResponseError{
				Service: "text-embedding",
				Message: fmt.Sprintf("batch at %d: expected %d items, got %d", offset, len(texts), len(items)),
			}
		}
		seen := make([]bool, len(texts))
		for _, item := range items {
			if item.Index < 0 || item.Index >= len(texts) {
				return nil, &types.MalformedResponseError{
					Service: "text-embedding",
					Message: fmt.Sprintf("batch at %d: item index %d out of range", offset, item.Index),
				}
			}
			if seen[item.Index] {
				return nil, &types.MalformedResponseError{
					Service: "text-embedding",
					Message: fmt.Sprintf("batch at %d: duplicate item index %d", offset, item.Index),
				}
			}
			seen[item.Index] = true
			out[offset+item.Index].Embedding = item.Vector
		}
	}

	p.log.WithField("segments", len(out)).Debug("segment batch embedded")
	return out, nil
}

// LogProbToConfidence converts an average log probability to a confidence
// in [0,1], rounded to two decimals. exp(0)=1, exp(-inf)=0.
func LogProbToConfidence(avgLogProb float64) float64 {
	c := math.Exp(avgLogProb)
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}
