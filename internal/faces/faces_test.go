package faces

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insights-go/internal/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// testJPEG renders a solid-color frame of the given size.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestIoUIdenticalBoxes(t *testing.T) {
	b := types.BoundingBox{X: 10, Y: 10, Width: 100, Height: 100}
	assert.InDelta(t, 1.0, IoU(b, b), 1e-9)
}

func TestIoUDisjointBoxes(t *testing.T) {
	a := types.BoundingBox{X: 0, Y: 0, Width: 50, Height: 50}
	b := types.BoundingBox{X: 200, Y: 200, Width: 50, Height: 50}
	assert.Zero(t, IoU(a, b))
}

func TestIoUZeroAreaBox(t *testing.T) {
	a := types.BoundingBox{X: 0, Y: 0, Width: 0, Height: 50}
	b := types.BoundingBox{X: 0, Y: 0, Width: 50, Height: 50}
	assert.Zero(t, IoU(a, b))
}

func TestIoUPartialOverlap(t *testing.T) {
	a := types.BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}
	b := types.BoundingBox{X: 50, Y: 0, Width: 100, Height: 100}
	// intersection 50*100=5000, union 10000+10000-5000=15000
	assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-9)
}

func TestDeduplicateCollapsesSameFaceWithinWindow(t *testing.T) {
	box := types.BoundingBox{X: 10, Y: 10, Width: 80, Height: 80}
	all := []types.ProcessedFace{
		{TimestampSec: 5, Box: box, FrameID: "frame_0001"},
		{TimestampSec: 10, Box: box, FrameID: "frame_0002"},
	}
	kept := Deduplicate(all, 10, 0.5)
	require.Len(t, kept, 1)
	// the earlier detection survives
	assert.Equal(t, 5.0, kept[0].TimestampSec)
}

func TestDeduplicateKeepsDisjointFacesRegardlessOfTime(t *testing.T) {
	all := []types.ProcessedFace{
		{TimestampSec: 5, Box: types.BoundingBox{X: 0, Y: 0, Width: 50, Height: 50}},
		{TimestampSec: 5, Box: types.BoundingBox{X: 500, Y: 500, Width: 50, Height: 50}},
	}
	kept := Deduplicate(all, 10, 0.5)
	assert.Len(t, kept, 2)
}

func TestDeduplicateRespectsTimeWindow(t *testing.T) {
	box := types.BoundingBox{X: 10, Y: 10, Width: 80, Height: 80}
	all := []types.ProcessedFace{
		{TimestampSec: 5, Box: box},
		{TimestampSec: 30, Box: box}, // same spot, but far outside the window
	}
	kept := Deduplicate(all, 10, 0.5)
	assert.Len(t, kept, 2)
}

func TestDeduplicateSortsByTimestamp(t *testing.T) {
	box := types.BoundingBox{X: 10, Y: 10, Width: 80, Height: 80}
	all := []types.ProcessedFace{
		{TimestampSec: 10, Box: box},
		{TimestampSec: 5, Box: box},
	}
	kept := Deduplicate(all, 10, 0.5)
	require.Len(t, kept, 1)
	assert.Equal(t, 5.0, kept[0].TimestampSec)
}

func TestPixelBoxConversionAndClamping(t *testing.T) {
	box := PixelBox(types.NormalizedBox{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.25}, 640, 480)
	assert.Equal(t, types.BoundingBox{X: 160, Y: 240, Width: 320, Height: 120}, box)

	// overflowing boxes clamp to the frame
	clamped := PixelBox(types.NormalizedBox{X: 0.9, Y: 0.9, Width: 0.5, Height: 0.5}, 640, 480)
	assert.LessOrEqual(t, clamped.X+clamped.Width, 640)
	assert.LessOrEqual(t, clamped.Y+clamped.Height, 480)
}

func TestCropFacePaddingAndCap(t *testing.T) {
	frame := testJPEG(t, 1920, 1080)
	box := types.BoundingBox{X: 800, Y: 200, Width: 400, Height: 600}

	full, capped, err := CropFace(frame, box, 0.2, 448)
	require.NoError(t, err)

	fullImg, _, err := image.Decode(bytes.NewReader(full))
	require.NoError(t, err)
	// 20% padding on each side: 400*1.4 x 600*1.4
	assert.Equal(t, 560, fullImg.Bounds().Dx())
	assert.Equal(t, 840, fullImg.Bounds().Dy())

	cappedImg, _, err := image.Decode(bytes.NewReader(capped))
	require.NoError(t, err)
	assert.Equal(t, 448, cappedImg.Bounds().Dy())
	assert.Less(t, cappedImg.Bounds().Dx(), fullImg.Bounds().Dx())
}

func TestCropFaceNoUpscaling(t *testing.T) {
	frame := testJPEG(t, 640, 480)
	box := types.BoundingBox{X: 100, Y: 100, Width: 100, Height: 100}

	full, capped, err := CropFace(frame, box, 0.2, 448)
	require.NoError(t, err)
	// already under the cap: both variants share the same bytes
	assert.Equal(t, full, capped)

	img, _, err := image.Decode(bytes.NewReader(capped))
	require.NoError(t, err)
	assert.Equal(t, 140, img.Bounds().Dy())
}

func TestCropFaceClampsToImageBounds(t *testing.T) {
	frame := testJPEG(t, 320, 240)
	box := types.BoundingBox{X: 0, Y: 0, Width: 100, Height: 100}

	full, _, err := CropFace(frame, box, 0.2, 448)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(full))
	require.NoError(t, err)
	// padding clamps at the top-left corner
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 120, img.Bounds().Dy())
}

type mockFaceServices struct {
	mu         sync.Mutex
	detections map[float64][]types.DetectedFace
	detectErr  map[float64]error
	embedCalls int
	embedErr   error
}

func (m *mockFaceServices) DetectFaces(ctx context.Context, img []byte) ([]types.DetectedFace, error) {
	ts := float64(len(img) % 1000)
	if err := m.detectErr[ts]; err != nil {
		return nil, err
	}
	return m.detections[ts], nil
}

func (m *mockFaceServices) EmbedImage(ctx context.Context, img []byte) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	m.embedCalls++
	return []float32{1, 2, 3}, nil
}

// paddedJPEG pads a frame's JPEG bytes so the mock can key detections on
// payload length modulo 1000.
func paddedJPEG(t *testing.T, base []byte, key int) []byte {
	t.Helper()
	pad := (1000 - len(base)%1000 + key) % 1000
	return append(append([]byte{}, base...), bytes.Repeat([]byte{0xff}, pad)...)
}

func TestPipelineProcessEndToEnd(t *testing.T) {
	base := testJPEG(t, 640, 480)
	meta := types.VideoMetadata{Width: 640, Height: 480}
	frames := []types.ExtractedFrame{
		{TimestampSec: 5, Image: paddedJPEG(t, base, 1)},
		{TimestampSec: 10, Image: paddedJPEG(t, base, 2)},
		{TimestampSec: 25, Image: paddedJPEG(t, base, 3)},
	}
	sameBox := types.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}
	services := &mockFaceServices{
		detections: map[float64][]types.DetectedFace{
			1: {{Box: sameBox, Confidence: 0.95}},
			2: {
				{Box: sameBox, Confidence: 0.92},                                                   // dup of frame 1's face
				{Box: types.NormalizedBox{X: 0.6, Y: 0.6, Width: 0.2, Height: 0.2}, Confidence: 0.9}, // distinct
				{Box: types.NormalizedBox{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2}, Confidence: 0.5}, // below threshold
			},
			3: {{Box: sameBox, Confidence: 0.99}}, // same spot, outside the 10s window
		},
	}

	p := New(services, services, DefaultConfig(), testLog())
	out, err := p.Process(context.Background(), frames, meta, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)

	// kept order is timestamp order post-dedup
	assert.Equal(t, "face_001", out[0].FaceID)
	assert.Equal(t, 5.0, out[0].TimestampSec)
	assert.Equal(t, "frame_0001", out[0].FrameID)
	assert.Equal(t, 10.0, out[1].TimestampSec)
	assert.Equal(t, 25.0, out[2].TimestampSec)
	for _, f := range out {
		assert.Equal(t, []float32{1, 2, 3}, f.Embedding)
		assert.NotEmpty(t, f.Image)
	}
}

func TestPipelineSwallowsPerFrameDetectionFailures(t *testing.T) {
	base := testJPEG(t, 640, 480)
	meta := types.VideoMetadata{Width: 640, Height: 480}
	frames := []types.ExtractedFrame{
		{TimestampSec: 5, Image: paddedJPEG(t, base, 1)},
		{TimestampSec: 10, Image: paddedJPEG(t, base, 2)},
	}
	services := &mockFaceServices{
		detectErr: map[float64]error{1: &types.ServiceError{Service: "face-detection", Status: 500, Message: "boom"}},
		detections: map[float64][]types.DetectedFace{
			2: {{Box: types.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.9}},
		},
	}

	p := New(services, services, DefaultConfig(), testLog())
	out, err := p.Process(context.Background(), frames, meta, nil)
	require.NoError(t, err)
	// the failed frame contributes zero faces, the rest proceed
	require.Len(t, out, 1)
	assert.Equal(t, "frame_0002", out[0].FrameID)
}

func TestPipelineEmbeddingFailureAborts(t *testing.T) {
	base := testJPEG(t, 640, 480)
	meta := types.VideoMetadata{Width: 640, Height: 480}
	frames := []types.ExtractedFrame{{TimestampSec: 5, Image: paddedJPEG(t, base, 1)}}
	services := &mockFaceServices{
		detections: map[float64][]types.DetectedFace{
			1: {{Box: types.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.9}},
		},
		embedErr: &types.ServiceError{Service: "image-embedding", Status: 503, Message: "down"},
	}

	p := New(services, services, DefaultConfig(), testLog())
	out, err := p.Process(context.Background(), frames, meta, nil)
	require.Error(t, err)
	assert.Nil(t, out)
}

func TestPipelineProgressSpansBothPhases(t *testing.T) {
	base := testJPEG(t, 640, 480)
	meta := types.VideoMetadata{Width: 640, Height: 480}
	frames := []types.ExtractedFrame{
		{TimestampSec: 5, Image: paddedJPEG(t, base, 1)},
		{TimestampSec: 30, Image: paddedJPEG(t, base, 2)},
	}
	services := &mockFaceServices{
		detections: map[float64][]types.DetectedFace{
			1: {{Box: types.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.9}},
			2: {{Box: types.NormalizedBox{X: 0.2, Y: 0.2, Width: 0.3, Height: 0.3}, Confidence: 0.9}},
		},
	}

	var mu sync.Mutex
	var percents []int
	p := New(services, services, DefaultConfig(), testLog())
	_, err := p.Process(context.Background(), frames, meta, func(percent int) {
		mu.Lock()
		percents = append(percents, percent)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	// detection reports stay in the lower half
	assert.Contains(t, percents, 25)
}

func TestPipelineNoFrames(t *testing.T) {
	p := New(&mockFaceServices{}, &mockFaceServices{}, DefaultConfig(), testLog())
	out, err := p.Process(context.Background(), nil, types.VideoMetadata{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
