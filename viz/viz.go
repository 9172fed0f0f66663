// Package viz derives the bridge's optional visualization images from
// raw frame planes.
package viz

import (
	"image"
	"image/color"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColorizeDepth maps a 16-bit radial distance plane onto a hue ramp,
// blue at zero through red at the largest value observed in this frame.
// An all-zero plane renders black.
func ColorizeDepth(depth []uint16, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var max uint16
	for _, d := range depth {
		if d > max {
			max = d
		}
	}
	if max == 0 {
		return img
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ratio := float64(depth[y*width+x]) / float64(max)
			r, g, b := colorful.Hsv(240*(1-ratio), 1, 1).RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// GoodBadPixels renders the confidence plane's low bit scaled to full
// intensity: bad pixels white, good pixels black.
func GoodBadPixels(confidence []uint8, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, c := range confidence {
		img.Pix[i] = (c & 0x1) * 255
	}
	return img
}

// Histogram image dimensions: one column per bin.
const (
	HistBins   = 256
	HistHeight = 128
)

// AmplitudeHistogram bins a 16-bit amplitude plane into HistBins buckets
// over the full range and draws them as a bar chart scaled by the
// tallest bin. Bars take the same hue ramp as ColorizeDepth so the two
// images read together.
func AmplitudeHistogram(amp []uint16) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, HistBins, HistHeight))
	if len(amp) == 0 {
		return img
	}

	samples := make([]float64, len(amp))
	for i, a := range amp {
		samples[i] = float64(a)
	}
	sort.Float64s(samples)
	dividers := make([]float64, HistBins+1)
	floats.Span(dividers, 0, 65536)
	counts := stat.Histogram(nil, dividers, samples, nil)

	maxCount := floats.Max(counts)
	if maxCount == 0 {
		return img
	}
	for bin := 0; bin < HistBins; bin++ {
		barHeight := int(counts[bin] / maxCount * (HistHeight - 1))
		if barHeight == 0 {
			continue
		}
		ratio := float64(bin) / float64(HistBins-1)
		r, g, b := colorful.Hsv(240*(1-ratio), 1, 1).RGB255()
		c := color.RGBA{R: r, G: g, B: b, A: 255}
		for dy := 0; dy < barHeight; dy++ {
			img.SetRGBA(bin, HistHeight-1-dy, c)
		}
	}
	return img
}
