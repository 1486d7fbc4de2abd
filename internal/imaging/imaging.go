// Package imaging decodes uploaded images and computes the pixel statistics
// the liveness heuristic needs. Decoding goes through the standard codecs;
// face detection itself is delegated to the face service.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"faceattend/internal/common"
)

// Frame is a decoded image together with the raw bytes it came from, so
// downstream callers (remote face service, profile photo upload) can reuse
// the original encoding.
type Frame struct {
	Image image.Image
	Raw   []byte
}

// Decode parses uploaded bytes into a Frame. Unparseable input maps to
// common.ErrInvalidImage.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", common.ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", common.ErrInvalidImage, err)
	}
	return Frame{Image: img, Raw: data}, nil
}

// DecodeDataURL accepts either a "data:image/...;base64," URL or bare base64.
func DecodeDataURL(data string) (Frame, error) {
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: bad base64: %v", common.ErrInvalidImage, err)
	}
	return Decode(raw)
}

// DataURL re-encodes raw image bytes as a base64 data URL.
func DataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// MeanBrightness returns the average grayscale intensity (0..255) over the
// whole image.
func MeanBrightness(img image.Image) float64 {
	mean, _ := grayStats(img, img.Bounds())
	return mean
}

// RegionContrast returns the grayscale standard deviation within the given
// region, clipped to the image bounds. A flat photograph of a photograph
// tends to score low here.
func RegionContrast(img image.Image, region image.Rectangle) float64 {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return 0
	}
	_, std := grayStats(img, region)
	return std
}

func grayStats(img image.Image, r image.Rectangle) (mean, std float64) {
	var sum, sumSq float64
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := luminance(img.At(x, y).RGBA())
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// luminance converts 16-bit premultiplied RGBA to an 8-bit gray value using
// the ITU-R BT.601 weights.
func luminance(r, g, b, _ uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
}
