package faces

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/frames"
	"video-insights-go/internal/types"
)

// Detector is the per-frame face detection call.
type Detector interface {
	DetectFaces(ctx context.Context, image []byte) ([]types.DetectedFace, error)
}

// Config holds the face pipeline tunables.
type Config struct {
	Workers        int
	ConfidenceMin  float64
	CropPadding    float64
	CropMaxHeight  int
	DedupWindowSec float64
	DedupIoU       float64
}

// DefaultConfig mirrors the production settings.
func DefaultConfig() Config {
	return Config{
		Workers:        5,
		ConfidenceMin:  0.80,
		CropPadding:    0.20,
		CropMaxHeight:  448,
		DedupWindowSec: 10,
		DedupIoU:       0.5,
	}
}

// Pipeline detects faces across frames with bounded concurrency, crops
// them, deduplicates near-identical detections across consecutive frames,
// and embeds the survivors sequentially.
type Pipeline struct {
	detector Detector
	embedder frames.ImageEmbedder
	cfg      Config
	log      *logrus.Entry
}

func New(detector Detector, embedder frames.ImageEmbedder, cfg Config, log *logrus.Entry) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	return &Pipeline{
		detector: detector,
		embedder: embedder,
		cfg:      cfg,
		log:      log.WithField("component", "faces"),
	}
}

// Process runs detection, dedup, then embedding. report receives a single
// 0-100 scale spanning both remote sub-phases, roughly half each.
func (p *Pipeline) Process(ctx context.Context, extracted []types.ExtractedFrame, meta types.VideoMetadata, report func(percent int)) ([]types.Face, error) {
	if report == nil {
		report = func(int) {}
	}
	if len(extracted) == 0 {
		report(100)
		return []types.Face{}, nil
	}

	detected, err := p.detectAll(ctx, extracted, meta, report)
	if err != nil {
		return nil, err
	}

	unique := Deduplicate(detected, p.cfg.DedupWindowSec, p.cfg.DedupIoU)
	p.log.WithFields(logrus.Fields{
		"detected": len(detected),
		"unique":   len(unique),
	}).Info("face dedup complete")

	// Sequential embedding: stricter than the frame pool on purpose, face
	// embedding quotas are tighter.
	out := make([]types.Face, 0, len(unique))
	for i, face := range unique {
		embedding, err := p.embedder.EmbedImage(ctx, face.EmbedCrop)
		if err != nil {
			return nil, fmt.Errorf("embed face %d (t=%.3fs): %w", i, face.TimestampSec, err)
		}
		out = append(out, types.Face{
			FaceID:       types.FaceID(i + 1),
			FrameID:      face.FrameID,
			TimestampSec: face.TimestampSec,
			Box:          face.Box,
			Image:        face.Crop,
			Embedding:    embedding,
		})
		report(50 + (i+1)*50/len(unique))
	}
	report(100)
	return out, nil
}

// detectAll runs the bounded detection pool. Detection is best-effort per
// frame: a failed frame contributes zero faces instead of aborting.
func (p *Pipeline) detectAll(ctx context.Context, extracted []types.ExtractedFrame, meta types.VideoMetadata, report func(percent int)) ([]types.ProcessedFace, error) {
	perFrame := make([][]types.ProcessedFace, len(extracted))
	total := len(extracted)

	var (
		next atomic.Int64
		done atomic.Int64
		wg   sync.WaitGroup
	)

	workers := p.cfg.Workers
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
				perFrame[i] = p.detectFrame(ctx, i, extracted[i], meta)
				report(int(done.Add(1)) * 50 / total)
			}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []types.ProcessedFace
	for _, faces := range perFrame {
		all = append(all, faces...)
	}
	return all, nil
}

func (p *Pipeline) detectFrame(ctx context.Context, index int, frame types.ExtractedFrame, meta types.VideoMetadata) []types.ProcessedFace {
	log := p.log.WithFields(logrus.Fields{"frame": index, "timestamp_sec": frame.TimestampSec})

	detections, err := p.detector.DetectFaces(ctx, frame.Image)
	if err != nil {
		// best-effort per frame, unlike the all-or-nothing frame captioning
		log.WithField("error", err.Error()).Warn("face detection failed, skipping frame")
		return nil
	}

	var out []types.ProcessedFace
	for _, d := range detections {
		if d.Confidence < p.cfg.ConfidenceMin {
			continue
		}
		box := PixelBox(d.Box, meta.Width, meta.Height)
		if box.Area() == 0 {
			continue
		}
		crop, embedCrop, err := CropFace(frame.Image, box, p.cfg.CropPadding, p.cfg.CropMaxHeight)
		if err != nil {
			log.WithField("error", err.Error()).Warn("face crop failed, skipping detection")
			continue
		}
		out = append(out, types.ProcessedFace{
			TimestampSec: frame.TimestampSec,
			Box:          box,
			FrameID:      types.FrameID(index + 1),
			Crop:         crop,
			EmbedCrop:    embedCrop,
		})
	}
	return out
}

// PixelBox converts a normalized box to pixel coordinates, clamped to the
// frame dimensions.
func PixelBox(n types.NormalizedBox, width, height int) types.BoundingBox {
	x := clampInt(int(n.X*float64(width)), 0, width)
	y := clampInt(int(n.Y*float64(height)), 0, height)
	w := clampInt(int(n.Width*float64(width)), 0, width-x)
	h := clampInt(int(n.Height*float64(height)), 0, height-y)
	return types.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

// Deduplicate sorts faces by timestamp and drops any face whose box overlaps
// a previously kept face (IoU >= threshold) within the time window. The
// later detection is treated as a duplicate of the same physical face.
func Deduplicate(all []types.ProcessedFace, windowSec, iouThreshold float64) []types.ProcessedFace {
	sorted := make([]types.ProcessedFace, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampSec < sorted[j].TimestampSec
	})

	kept := make([]types.ProcessedFace, 0, len(sorted))
	for _, face := range sorted {
		duplicate := false
		for _, prev := range kept {
			if face.TimestampSec-prev.TimestampSec > windowSec {
				continue
			}
			if IoU(face.Box, prev.Box) >= iouThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, face)
		}
	}
	return kept
}

// IoU computes intersection-over-union of two axis-aligned pixel boxes.
// Zero if the boxes don't overlap or either area is zero.
func IoU(a, b types.BoundingBox) float64 {
	areaA := a.Area()
	areaB := b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	left := maxInt(a.X, b.X)
	top := maxInt(a.Y, b.Y)
	right := minInt(a.X+a.Width, b.X+b.Width)
	bottom := minInt(a.Y+a.Height, b.Y+b.Height)
	if right <= left || bottom <= top {
		return 0
	}
	intersection := (right - left) * (bottom - top)
	return float64(intersection) / float64(areaA+areaB-intersection)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
