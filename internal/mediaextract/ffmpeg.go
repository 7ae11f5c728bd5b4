package mediaextract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/types"
)

// FFmpeg runs ffmpeg/ffprobe binaries against temp files.
type FFmpeg struct {
	log *logrus.Entry
}

func NewFFmpeg(log *logrus.Entry) *FFmpeg {
	return &FFmpeg{log: log.WithField("component", "mediaextract")}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Channels     int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, video []byte) (types.VideoMetadata, error) {
	var meta types.VideoMetadata
	path, cleanup, err := writeTemp(video, "probe-*.bin")
	if err != nil {
		return meta, err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return meta, fmt.Errorf("ffprobe: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return meta, fmt.Errorf("parse ffprobe output: %w", err)
	}

	meta.DurationSec, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			meta.Width = s.Width
			meta.Height = s.Height
			meta.FPS = parseFrameRate(s.AvgFrameRate)
		case "audio":
			meta.AudioSampleRateHz, _ = strconv.Atoi(s.SampleRate)
			meta.AudioChannels = s.Channels
		}
	}
	if meta.DurationSec <= 0 {
		return meta, fmt.Errorf("ffprobe reported no duration")
	}
	return meta, nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, video []byte) ([]byte, error) {
	path, cleanup, err := writeTemp(video, "audio-src-*.bin")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outPath := path + ".wav"
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg audio extract: %w, output: %s", err, tail(out))
	}
	return os.ReadFile(outPath)
}

func (f *FFmpeg) ExtractFrames(ctx context.Context, video []byte, intervalSec float64, maxFrames int) ([]types.ExtractedFrame, error) {
	if intervalSec <= 0 {
		return nil, fmt.Errorf("frame interval must be positive")
	}
	meta, err := f.Probe(ctx, video)
	if err != nil {
		return nil, err
	}

	path, cleanup, err := writeTemp(video, "frames-src-*.bin")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	timestamps := FrameTimestamps(meta.DurationSec, intervalSec, maxFrames)
	frames := make([]types.ExtractedFrame, 0, len(timestamps))
	for _, ts := range timestamps {
		img, err := f.frameAt(ctx, path, ts)
		if err != nil {
			return nil, err
		}
		frames = append(frames, types.ExtractedFrame{TimestampSec: ts, Image: img})
	}
	f.log.WithFields(logrus.Fields{
		"count":        len(frames),
		"interval_sec": intervalSec,
	}).Info("frames extracted")
	return frames, nil
}

func (f *FFmpeg) frameAt(ctx context.Context, videoPath string, ts float64) ([]byte, error) {
	outPath := fmt.Sprintf("%s-%.3f.jpg", videoPath, ts)
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame at %.3fs: %w, output: %s", ts, err, tail(out))
	}
	return os.ReadFile(outPath)
}

// FrameTimestamps computes the extraction points: interval, 2*interval, ...
// strictly below the duration, capped at maxFrames. A video of one interval
// or shorter gets a single midpoint frame.
func FrameTimestamps(durationSec, intervalSec float64, maxFrames int) []float64 {
	if durationSec <= intervalSec {
		return []float64{durationSec / 2}
	}
	var out []float64
	for i := 1; maxFrames <= 0 || len(out) < maxFrames; i++ {
		ts := float64(i) * intervalSec
		if ts >= durationSec {
			break
		}
		out = append(out, ts)
	}
	return out
}

func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, _ := strconv.ParseFloat(num, 64)
	d, _ := strconv.ParseFloat(den, 64)
	if d == 0 {
		return 0
	}
	return n / d
}

func writeTemp(data []byte, pattern string) (string, func(), error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()
	return path, func() { os.Remove(path) }, nil
}

func tail(out []byte) string {
	const limit = 400
	if len(out) <= limit {
		return string(out)
	}
	return "..." + string(out[len(out)-limit:])
}
