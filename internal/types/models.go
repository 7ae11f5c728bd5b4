package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewVideoID mints the run identifier: creation epoch plus a random suffix
// so re-runs of the same file are distinguishable.
func NewVideoID() string {
	return fmt.Sprintf("vid_%d_%s", time.Now().Unix(), uuid.New().String()[:8])
}

// VideoMetadata is the technical probe result for the source file.
type VideoMetadata struct {
	DurationSec       float64 `json:"duration_sec"`
	FPS               float64 `json:"fps"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	AudioSampleRateHz int     `json:"audio_sample_rate_hz"`
	AudioChannels     int     `json:"audio_channels"`
}

// TranscriptSegment is one raw transcription segment. Index values are
// contiguous and define output ordering; StartSec < EndSec.
type TranscriptSegment struct {
	Index      int     `json:"index"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

// Transcription is the full transcription service response.
type Transcription struct {
	Text        string              `json:"text"`
	Language    string              `json:"language"`
	DurationSec float64             `json:"duration_sec"`
	Segments    []TranscriptSegment `json:"segments"`
}

// TextEmbedding is one item of a batched text-embedding response, tagged
// with the caller's input index so reordering by the provider is harmless.
type TextEmbedding struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"vector"`
}

// Segment is an output transcript segment with its embedding and a
// confidence derived from the segment's average log probability.
type Segment struct {
	SegmentID  string    `json:"segment_id"`
	StartSec   float64   `json:"start_sec"`
	EndSec     float64   `json:"end_sec"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding"`
}

// SegmentID formats the 1-based segment ordinal.
func SegmentID(ordinal int) string {
	return fmt.Sprintf("seg_%03d", ordinal)
}

// ExtractedFrame is a still produced by the media extractor. Immutable once
// created; consumed by both the frame processor and the face pipeline.
type ExtractedFrame struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Image        []byte  `json:"image"`
}

// Frame is a captioned, embedded output frame. FrameID is derived from the
// frame's position in the extracted set, not from wall-clock time.
type Frame struct {
	FrameID      string    `json:"frame_id"`
	TimestampSec float64   `json:"timestamp_sec"`
	Image        []byte    `json:"image"`
	Caption      string    `json:"caption"`
	Embedding    []float32 `json:"embedding"`
}

// FrameID formats the 1-based frame ordinal.
func FrameID(ordinal int) string {
	return fmt.Sprintf("frame_%04d", ordinal)
}

// NormalizedBox is a detection bounding box in [0,1] image coordinates.
type NormalizedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingBox is an axis-aligned pixel-space box.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in square pixels, zero for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// DetectedFace is one raw detection on a single frame, pre-dedup.
type DetectedFace struct {
	Box        NormalizedBox `json:"box"`
	Confidence float64       `json:"confidence"`
}

// ProcessedFace is a cropped detection that survived the confidence filter.
// Crop is full resolution, EmbedCrop is the height-capped copy sent to the
// embedding service.
type ProcessedFace struct {
	TimestampSec float64
	Box          BoundingBox
	FrameID      string
	Crop         []byte
	EmbedCrop    []byte
}

// Face is an output face record. FaceID ordinals follow kept order
// (timestamp order after dedup), which is unrelated to frame ordinal order;
// FrameID is the only back-reference to the originating frame.
type Face struct {
	FaceID       string      `json:"face_id"`
	FrameID      string      `json:"frame_id"`
	TimestampSec float64     `json:"timestamp_sec"`
	Box          BoundingBox `json:"box"`
	Image        []byte      `json:"image"`
	Embedding    []float32   `json:"embedding"`
}

// FaceID formats the 1-based face ordinal.
func FaceID(ordinal int) string {
	return fmt.Sprintf("face_%03d", ordinal)
}

// Topic groups segments under one extracted theme. Ordering reflects first
// appearance order as returned by the extraction call.
type Topic struct {
	TopicID     string   `json:"topic_id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Summary     string   `json:"summary"`
	SegmentIDs  []string `json:"segment_ids"`
}

// TopicID formats the 1-based topic ordinal.
func TopicID(ordinal int) string {
	return fmt.Sprintf("topic_%03d", ordinal)
}

// ModelUsage is the per-model slice of the final usage snapshot.
type ModelUsage struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageStats is the immutable snapshot of the usage ledger. Token counts
// are estimates where the provider did not report exact figures.
type UsageStats struct {
	PerModel     []ModelUsage `json:"per_model"`
	TotalTokens  int          `json:"total_tokens"`
	TotalCostUSD float64      `json:"total_cost_usd"`
}

// ModelsUsed names the model behind each call site of a run.
type ModelsUsed struct {
	Transcription  string `json:"transcription"`
	Caption        string `json:"caption"`
	Topics         string `json:"topics"`
	Summary        string `json:"summary"`
	TextEmbedding  string `json:"text_embedding"`
	ImageEmbedding string `json:"image_embedding"`
	FaceDetection  string `json:"face_detection"`
}

// ResultStats summarizes a completed run.
type ResultStats struct {
	TotalSegments     int        `json:"total_segments"`
	TotalTopics       int        `json:"total_topics"`
	TotalFrames       int        `json:"total_frames"`
	TotalFaces        int        `json:"total_faces"`
	ProcessingTimeSec float64    `json:"processing_time_sec"`
	Usage             UsageStats `json:"usage"`
}

// PipelineResult is the root aggregate of a successful run. It is
// constructed exactly once, at finalize; no partial result ever escapes.
type PipelineResult struct {
	VideoID      string        `json:"video_id"`
	Filename     string        `json:"filename"`
	MimeType     string        `json:"mime_type"`
	SourceSHA256 string        `json:"source_sha256"`
	Metadata     VideoMetadata `json:"metadata"`
	Models       ModelsUsed    `json:"models"`
	Language     string        `json:"language"`
	Summary      string        `json:"summary"`
	Transcript   string        `json:"transcript"`
	Segments     []Segment     `json:"segments"`
	Topics       []Topic       `json:"topics"`
	Frames       []Frame       `json:"frames"`
	Faces        []Face        `json:"faces"`
	Stats        ResultStats   `json:"stats"`
}
