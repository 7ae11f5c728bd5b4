package faces

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"video-insights-go/internal/types"
)

const cropJPEGQuality = 85

// CropFace cuts the padded face region out of a frame at full resolution
// and also returns a height-capped copy for embedding. Padding is symmetric
// (a fraction of the box width/height on each side) and clamped to the
// image bounds; the capped copy is never upscaled.
func CropFace(frame []byte, box types.BoundingBox, padding float64, maxHeight int) (full []byte, capped []byte, err error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, nil, fmt.Errorf("decode frame: %w", err)
	}
	bounds := src.Bounds()

	padX := int(float64(box.Width) * padding)
	padY := int(float64(box.Height) * padding)
	rect := image.Rect(
		clampInt(box.X-padX, bounds.Min.X, bounds.Max.X),
		clampInt(box.Y-padY, bounds.Min.Y, bounds.Max.Y),
		clampInt(box.X+box.Width+padX, bounds.Min.X, bounds.Max.X),
		clampInt(box.Y+box.Height+padY, bounds.Min.Y, bounds.Max.Y),
	)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return nil, nil, fmt.Errorf("empty crop region %v", rect)
	}

	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Draw(cropped, cropped.Bounds(), src, rect.Min, xdraw.Src)

	full, err = encodeJPEG(cropped)
	if err != nil {
		return nil, nil, err
	}

	if maxHeight <= 0 || cropped.Bounds().Dy() <= maxHeight {
		// already under the cap, reuse the full-resolution bytes
		return full, full, nil
	}

	scale := float64(maxHeight) / float64(cropped.Bounds().Dy())
	scaledW := int(float64(cropped.Bounds().Dx()) * scale)
	if scaledW < 1 {
		scaledW = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, maxHeight))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), cropped, cropped.Bounds(), xdraw.Over, nil)

	capped, err = encodeJPEG(scaled)
	if err != nil {
		return nil, nil, err
	}
	return full, capped, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cropJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
