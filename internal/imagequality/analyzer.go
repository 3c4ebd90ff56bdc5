// Package imagequality scores how sharp an ID photo is.
//
// The score is the population variance of a 4-neighbour Laplacian applied to
// the photo's luma. Blurry or flat images produce a low variance. The score
// is deterministic for a given pixel grid.
package imagequality

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
)

const (
	// DefaultThreshold is the minimum variance for an acceptable photo.
	DefaultThreshold = 100.0
	// DefaultMaxPixels caps the decoded size of a photo (40 MP).
	DefaultMaxPixels = 40_000_000
)

var (
	// ErrInvalidImage is returned when the bytes cannot be decoded as an image.
	ErrInvalidImage = errors.New("invalid image")
	// ErrTooLarge is returned when the header declares more pixels than allowed.
	ErrTooLarge = errors.New("image too large")
)

// Report is the outcome of analyzing one photo.
type Report struct {
	Format     string
	Width      int
	Height     int
	Score      float64
	Acceptable bool
}

type Analyzer struct {
	threshold float64
	maxPixels int
}

type Option func(*Analyzer)

// WithThreshold overrides DefaultThreshold. Negative values are ignored.
func WithThreshold(t float64) Option {
	return func(a *Analyzer) {
		if t >= 0 {
			a.threshold = t
		}
	}
}

// WithMaxPixels overrides DefaultMaxPixels. Non-positive values are ignored.
func WithMaxPixels(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxPixels = n
		}
	}
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{threshold: DefaultThreshold, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) Threshold() float64 { return a.threshold }
func (a *Analyzer) MaxPixels() int { return a.maxPixels }

// IsAcceptable reports whether img is sharp enough.
func (a *Analyzer) IsAcceptable(img image.Image) bool {
	return Score(img) >= a.threshold
}

// Decode decodes data within the analyzer's pixel limit.
func (a *Analyzer) Decode(data []byte) (image.Image, string, error) {
	return DecodeWithin(data, a.maxPixels)
}

// Analyze decodes data and scores it.
func (a *Analyzer) Analyze(data []byte) (Report, error) {
	img, format, err := a.Decode(data)
	if err != nil {
		return Report{}, err
	}
	score := Score(img)
	b := img.Bounds()
	return Report{
		Format:     format,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Score:      score,
		Acceptable: score >= a.threshold,
	}, nil
}

// Decode decodes a JPEG or PNG of at most DefaultMaxPixels.
func Decode(data []byte) (image.Image, string, error) {
	return DecodeWithin(data, DefaultMaxPixels)
}

// DecodeWithin decodes a JPEG or PNG. The header is read first and images
// declaring more than maxPixels fail with ErrTooLarge before any pixel data
// is allocated. Every other failure wraps ErrInvalidImage.
func DecodeWithin(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: no pixels", ErrInvalidImage)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, "", fmt.Errorf("%w: no pixels", ErrInvalidImage)
	}
	return img, format, nil
}

// Score returns the Laplacian variance of img.
func Score(img image.Image) float64 {
	gray, w, h := Luma(img)
	return LaplacianVariance(gray, w, h)
}

// Luma converts img to row-major gray levels. Each level is the integer
// average of the pixel's 8-bit red, green and blue channels.
func Luma(img image.Image) ([]int, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = int((r>>8 + g>>8 + bl>>8) / 3)
		}
	}
	return out, w, h
}

// LaplacianVariance convolves the interior of a w×h gray grid with
//
//	0  1  0
//	1 -4  1
//	0  1  0
//
// and returns the population variance of the responses. The one-pixel
// border is excluded, so grids narrower or shorter than 3 score 0.
func LaplacianVariance(gray []int, w, h int) float64 {
	if w < 3 || h < 3 || len(gray) < w*h {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		row := y * w
		for x := 1; x < w-1; x++ {
			i := row + x
			v := float64(gray[i-w] + gray[i+w] + gray[i-1] + gray[i+1] - 4*gray[i])
			sum += v
			sumSq += v * v
			n++
		}
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		return 0
	}
	return variance
}
