package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/config"
	"video-insights-go/internal/faces"
	"video-insights-go/internal/frames"
	"video-insights-go/internal/mediaextract"
	"video-insights-go/internal/progress"
	"video-insights-go/internal/segments"
	"video-insights-go/internal/topics"
	"video-insights-go/internal/types"
	"video-insights-go/internal/usage"
)

// Transcriber is the transcription call the sequencer consumes.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*types.Transcription, error)
}

// Request describes one pipeline run.
type Request struct {
	Video            []byte
	Filename         string
	MimeType         string
	FaceDetection    bool
	FrameIntervalSec float64
	MaxFrames        int
}

// Runner sequences the pipeline stages. It produces either a fully
// populated PipelineResult or a single propagated failure; never both,
// never a partial result.
type Runner struct {
	media       mediaextract.Extractor
	transcriber Transcriber
	segments    *segments.Processor
	topics      *topics.Extractor
	frames      *frames.Processor
	faces       *faces.Pipeline
	usage       *usage.Tracker
	models      config.ModelsConfig
	cfg         config.PipelineConfig
	log         *logrus.Entry
}

func NewRunner(
	media mediaextract.Extractor,
	transcriber Transcriber,
	segmentProc *segments.Processor,
	topicExt *topics.Extractor,
	frameProc *frames.Processor,
	facePipe *faces.Pipeline,
	tracker *usage.Tracker,
	models config.ModelsConfig,
	cfg config.PipelineConfig,
	log *logrus.Entry,
) *Runner {
	return &Runner{
		media:       media,
		transcriber: transcriber,
		segments:    segmentProc,
		topics:      topicExt,
		frames:      frameProc,
		faces:       facePipe,
		usage:       tracker,
		models:      models,
		cfg:         cfg,
		log:         log.WithField("component", "pipeline"),
	}
}

// Run executes the fixed stage order against one video. Any stage failure
// aborts the run; progress already emitted is not retracted.
func (r *Runner) Run(ctx context.Context, req Request, sink progress.Reporter) (*types.PipelineResult, error) {
	if r.cfg.RunTimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.RunTimeoutSec)*time.Second)
		defer cancel()
	}
	report := progress.NewMonotonic(sink)
	start := time.Now()

	// 1) initialize
	report.Report(progress.StageInitialize, 0)
	if len(req.Video) == 0 {
		return nil, types.NewValidationError(progress.StageInitialize, "empty video buffer")
	}
	interval := req.FrameIntervalSec
	if interval == 0 {
		interval = r.cfg.FrameIntervalSec
	}
	maxFrames := req.MaxFrames
	if maxFrames == 0 {
		maxFrames = r.cfg.MaxFrames
	}
	if interval <= 0 {
		return nil, types.NewValidationError(progress.StageInitialize, "frame interval must be positive")
	}
	if maxFrames <= 0 {
		return nil, types.NewValidationError(progress.StageInitialize, "max frames must be positive")
	}
	videoID := types.NewVideoID()
	hash := sha256.Sum256(req.Video)
	log := r.log.WithField("video_id", videoID)
	log.WithFields(logrus.Fields{
		"filename": req.Filename,
		"bytes":    len(req.Video),
		"faces":    req.FaceDetection,
	}).Info("pipeline run starting")
	report.Report(progress.StageInitialize, 100)

	// 2) probe technical metadata
	report.Report(progress.StageProbe, 0)
	meta, err := r.media.Probe(ctx, req.Video)
	if err != nil {
		return nil, stageErr(progress.StageProbe, err)
	}
	report.Report(progress.StageProbe, 100)

	// 3) extract audio track
	report.Report(progress.StageExtractAudio, 0)
	audio, err := r.media.ExtractAudio(ctx, req.Video)
	if err != nil {
		return nil, stageErr(progress.StageExtractAudio, err)
	}
	report.Report(progress.StageExtractAudio, 100)

	// 4) transcribe
	report.Report(progress.StageTranscribe, 0)
	transcription, err := r.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, stageErr(progress.StageTranscribe, err)
	}
	log.WithFields(logrus.Fields{
		"segments": len(transcription.Segments),
		"language": transcription.Language,
	}).Info("transcription complete")
	report.Report(progress.StageTranscribe, 100)

	// 5) embed segments
	report.Report(progress.StageEmbedSegments, 0)
	segs, err := r.segments.Process(ctx, transcription.Segments)
	if err != nil {
		return nil, stageErr(progress.StageEmbedSegments, err)
	}
	report.Report(progress.StageEmbedSegments, 100)

	// 6) topics plus overall summary
	report.Report(progress.StageExtractTopics, 0)
	topicList, err := r.topics.Extract(ctx, segs)
	if err != nil {
		return nil, stageErr(progress.StageExtractTopics, err)
	}
	report.Report(progress.StageExtractTopics, 50)
	summary := ""
	if transcription.Text != "" {
		summary, err = r.topics.Summarize(ctx, transcription.Text)
		if err != nil {
			return nil, stageErr(progress.StageExtractTopics, err)
		}
	}
	report.Report(progress.StageExtractTopics, 100)

	// 7) extract frames
	report.Report(progress.StageExtractFrames, 0)
	extracted, err := r.media.ExtractFrames(ctx, req.Video, interval, maxFrames)
	if err != nil {
		return nil, stageErr(progress.StageExtractFrames, err)
	}
	for i := 1; i < len(extracted); i++ {
		if extracted[i].TimestampSec <= extracted[i-1].TimestampSec {
			return nil, types.NewValidationError(progress.StageExtractFrames,
				"frame timestamps not strictly increasing at index %d", i)
		}
	}
	report.Report(progress.StageExtractFrames, 100)

	// 8 + 9) frame captioning and face pipeline run concurrently over the
	// same immutable frame slice; both must finish before finalize.
	frameList, faceList, err := r.runVisual(ctx, req.FaceDetection, extracted, meta, report)
	if err != nil {
		return nil, err
	}

	// 10) finalize
	report.Report(progress.StageFinalize, 0)
	stats := r.usage.Snapshot()
	result := &types.PipelineResult{
		VideoID:      videoID,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		SourceSHA256: hex.EncodeToString(hash[:]),
		Metadata:     meta,
		Models:       r.modelsUsed(req.FaceDetection),
		Language:     transcription.Language,
		Summary:      summary,
		Transcript:   transcription.Text,
		Segments:     segs,
		Topics:       topicList,
		Frames:       frameList,
		Faces:        faceList,
		Stats: types.ResultStats{
			TotalSegments:     len(segs),
			TotalTopics:       len(topicList),
			TotalFrames:       len(frameList),
			TotalFaces:        len(faceList),
			ProcessingTimeSec: time.Since(start).Seconds(),
			Usage:             stats,
		},
	}
	report.Report(progress.StageFinalize, 100)
	log.WithFields(logrus.Fields{
		"frames":         len(frameList),
		"faces":          len(faceList),
		"topics":         len(topicList),
		"duration_ms":    time.Since(start).Milliseconds(),
		"total_cost_usd": stats.TotalCostUSD,
	}).Info("pipeline run complete")
	return result, nil
}

// runVisual joins the two independent visual stages. The first failure
// cancels the sibling; face processing is skipped entirely when disabled
// and yields an empty collection without affecting frame IDs.
func (r *Runner) runVisual(ctx context.Context, detectFaces bool, extracted []types.ExtractedFrame, meta types.VideoMetadata, report progress.Reporter) ([]types.Frame, []types.Face, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type frameResult struct {
		frames []types.Frame
		err    error
	}
	type faceResult struct {
		faces []types.Face
		err   error
	}
	frameCh := make(chan frameResult, 1)
	faceCh := make(chan faceResult, 1)

	go func() {
		report.Report(progress.StageProcessFrames, 0)
		out, err := r.frames.Process(ctx, extracted, func(done, total int) {
			report.Report(progress.StageProcessFrames, done*100/total)
		})
		if err == nil {
			report.Report(progress.StageProcessFrames, 100)
		}
		frameCh <- frameResult{out, err}
	}()

	go func() {
		if !detectFaces {
			faceCh <- faceResult{faces: []types.Face{}}
			return
		}
		report.Report(progress.StageProcessFaces, 0)
		out, err := r.faces.Process(ctx, extracted, meta, func(percent int) {
			report.Report(progress.StageProcessFaces, percent)
		})
		if err == nil {
			report.Report(progress.StageProcessFaces, 100)
		}
		faceCh <- faceResult{out, err}
	}()

	// whichever side fails first cancels the sibling; the first failure is
	// the one reported, not the sibling's cancellation fallout
	var fr frameResult
	var fa faceResult
	select {
	case fr = <-frameCh:
		if fr.err != nil {
			cancel()
		}
		fa = <-faceCh
		if fr.err != nil {
			return nil, nil, stageErr(progress.StageProcessFrames, fr.err)
		}
	case fa = <-faceCh:
		if fa.err != nil {
			cancel()
		}
		fr = <-frameCh
		if fa.err != nil {
			return nil, nil, stageErr(progress.StageProcessFaces, fa.err)
		}
	}

	if fr.err != nil {
		return nil, nil, stageErr(progress.StageProcessFrames, fr.err)
	}
	if fa.err != nil {
		return nil, nil, stageErr(progress.StageProcessFaces, fa.err)
	}
	return fr.frames, fa.faces, nil
}

func (r *Runner) modelsUsed(detectFaces bool) types.ModelsUsed {
	m := types.ModelsUsed{
		Transcription:  r.models.Transcription,
		Caption:        r.models.Caption,
		Topics:         r.models.Topics,
		Summary:        r.models.Summary,
		TextEmbedding:  r.models.TextEmbedding,
		ImageEmbedding: r.models.ImageEmbedding,
	}
	if detectFaces {
		m.FaceDetection = r.models.FaceDetection
	}
	return m
}

func stageErr(stage string, err error) error {
	return fmt.Errorf("stage %s: %w", stage, err)
}
