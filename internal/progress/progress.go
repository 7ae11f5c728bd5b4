package progress

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Stage names are stable identifiers; sinks key on them.
const (
	StageInitialize    = "initialize"
	StageProbe         = "probe"
	StageExtractAudio  = "extract_audio"
	StageTranscribe    = "transcribe"
	StageEmbedSegments = "embed_segments"
	StageExtractTopics = "extract_topics"
	StageExtractFrames = "extract_frames"
	StageProcessFrames = "process_frames"
	StageProcessFaces  = "process_faces"
	StageFinalize      = "finalize"
)

// Reporter receives (stage, percent) events in emission order. Percent is
// 0-100 and monotonically non-decreasing within a stage.
type Reporter interface {
	Report(stage string, percent int)
}

// Func adapts a plain function to Reporter.
type Func func(stage string, percent int)

func (f Func) Report(stage string, percent int) { f(stage, percent) }

// Discard drops all events.
var Discard Reporter = Func(func(string, int) {})

// NewLogReporter emits progress to the log at debug level, stage
// boundaries at info.
func NewLogReporter(log *logrus.Entry) Reporter {
	return Func(func(stage string, percent int) {
		entry := log.WithFields(logrus.Fields{"stage": stage, "percent": percent})
		if percent == 0 || percent == 100 {
			entry.Info("stage progress")
			return
		}
		entry.Debug("stage progress")
	})
}

// Monotonic wraps a Reporter, clamping percent to 0-100 and suppressing
// regressions within each stage so pool workers can report out of order.
// Watermarks are kept per stage because independent stages may interleave.
type Monotonic struct {
	mu   sync.Mutex
	sink Reporter
	last map[string]int
}

func NewMonotonic(sink Reporter) *Monotonic {
	if sink == nil {
		sink = Discard
	}
	return &Monotonic{sink: sink, last: map[string]int{}}
}

func (m *Monotonic) Report(stage string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	// the lock is held across the sink call so emissions leave in
	// watermark order
	m.mu.Lock()
	defer m.mu.Unlock()
	last, seen := m.last[stage]
	if seen && percent <= last {
		return
	}
	m.last[stage] = percent
	m.sink.Report(stage, percent)
}
