package mediaextract

import (
	"context"

	"video-insights-go/internal/types"
)

// Extractor is the media-decoding boundary the pipeline consumes.
type Extractor interface {
	// Probe returns the technical metadata of the video bytes.
	Probe(ctx context.Context, video []byte) (types.VideoMetadata, error)
	// ExtractAudio returns the audio track as mono 16kHz PCM WAV.
	ExtractAudio(ctx context.Context, video []byte) ([]byte, error)
	// ExtractFrames returns JPEG stills at intervalSec, 2*intervalSec, ...
	// up to the duration or maxFrames. A video shorter than one interval
	// yields exactly one frame at its midpoint.
	ExtractFrames(ctx context.Context, video []byte, intervalSec float64, maxFrames int) ([]types.ExtractedFrame, error)
}
