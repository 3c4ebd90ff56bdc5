package imagequality

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/suite"

	"agegate/pkg/testutil"
)

type AnalyzerSuite struct {
	suite.Suite
	analyzer *Analyzer
}

func TestAnalyzerSuite(t *testing.T) {
	suite.Run(t, new(AnalyzerSuite))
}

func (s *AnalyzerSuite) SetupTest() {
	s.analyzer = NewAnalyzer()
}

func (s *AnalyzerSuite) TestLaplacianVariance() {
	s.Run("all-zero grid scores zero", func() {
		s.Equal(0.0, LaplacianVariance(make([]int, 100), 10, 10))
	})

	s.Run("constant grid scores zero", func() {
		gray := make([]int, 64)
		for i := range gray {
			gray[i] = 200
		}
		s.Equal(0.0, LaplacianVariance(gray, 8, 8))
	})

	s.Run("grids without interior score zero", func() {
		s.Equal(0.0, LaplacianVariance([]int{0, 255, 0, 255}, 2, 2))
		s.Equal(0.0, LaplacianVariance([]int{0, 255, 0, 255, 0, 255}, 3, 2))
	})

	s.Run("hand-computed two-pixel interior", func() {
		gray := []int{
			0, 0, 0, 0,
			0, 255, 0, 0,
			0, 0, 0, 0,
		}
		// Responses -1020 and 255.
		s.InDelta(406406.25, LaplacianVariance(gray, 4, 3), 1e-6)
	})

	s.Run("border pixels are excluded", func() {
		gray := []int{
			255, 255, 255,
			255, 0, 255,
			255, 255, 255,
		}
		// Single interior response, variance of one value.
		s.Equal(0.0, LaplacianVariance(gray, 3, 3))
	})
}

func (s *AnalyzerSuite) TestLuma() {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 30, G: 60, B: 91, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	gray, w, h := Luma(img)
	s.Equal(2, w)
	s.Equal(1, h)
	s.Equal([]int{60, 255}, gray)
}

func (s *AnalyzerSuite) TestLumaHonoursBoundsOffset() {
	img := image.NewGray(image.Rect(5, 5, 8, 8))
	img.SetGray(6, 6, color.Gray{Y: 90})
	gray, w, h := Luma(img)
	s.Equal(3, w)
	s.Equal(3, h)
	s.Equal(90, gray[4])
}

func (s *AnalyzerSuite) TestIsAcceptable() {
	s.Run("pixel checkerboard is sharp", func() {
		s.InDelta(1040400.0, Score(testutil.Checkerboard(32, 32, 1)), 1e-6)
		s.True(s.analyzer.IsAcceptable(testutil.Checkerboard(32, 32, 1)))
	})

	s.Run("uniform image is rejected", func() {
		s.False(s.analyzer.IsAcceptable(testutil.Uniform(32, 32, color.Gray{Y: 128})))
	})

	s.Run("threshold is inclusive", func() {
		score := Score(testutil.Checkerboard(16, 16, 4))
		s.Greater(score, 0.0)
		s.True(NewAnalyzer(WithThreshold(score)).IsAcceptable(testutil.Checkerboard(16, 16, 4)))
		s.False(NewAnalyzer(WithThreshold(score + 1)).IsAcceptable(testutil.Checkerboard(16, 16, 4)))
	})

	s.Run("negative threshold keeps default", func() {
		s.Equal(DefaultThreshold, NewAnalyzer(WithThreshold(-1)).Threshold())
	})
}

func (s *AnalyzerSuite) TestAnalyze() {
	s.Run("png", func() {
		report, err := s.analyzer.Analyze(testutil.SharpPNG(s.T()))
		s.Require().NoError(err)
		s.Equal("png", report.Format)
		s.Equal(32, report.Width)
		s.True(report.Acceptable)
	})

	s.Run("jpeg of a flat image", func() {
		report, err := s.analyzer.Analyze(testutil.EncodeJPEG(s.T(), testutil.Uniform(24, 24, color.Gray{Y: 40})))
		s.Require().NoError(err)
		s.Equal("jpeg", report.Format)
		s.False(report.Acceptable)
	})

	s.Run("garbage is invalid", func() {
		_, err := s.analyzer.Analyze([]byte("definitely not an image"))
		s.Require().Error(err)
		s.True(errors.Is(err, ErrInvalidImage))
	})

	s.Run("empty is invalid", func() {
		_, err := s.analyzer.Analyze(nil)
		s.True(errors.Is(err, ErrInvalidImage))
	})

	s.Run("truncated png is invalid", func() {
		data := testutil.SharpPNG(s.T())
		_, err := s.analyzer.Analyze(data[:len(data)/2])
		s.True(errors.Is(err, ErrInvalidImage))
	})
}

func (s *AnalyzerSuite) TestDecodePixelLimit() {
	s.Run("oversized header is refused before decoding", func() {
		_, _, err := s.analyzer.Decode(testutil.PNGHeader(12000, 12000))
		s.Require().Error(err)
		s.True(errors.Is(err, ErrTooLarge))
		s.False(errors.Is(err, ErrInvalidImage))
	})

	s.Run("package decode applies the default limit", func() {
		_, _, err := Decode(testutil.PNGHeader(12000, 12000))
		s.True(errors.Is(err, ErrTooLarge))
	})

	s.Run("configured limit", func() {
		small := NewAnalyzer(WithMaxPixels(32 * 31))
		_, err := small.Analyze(testutil.SharpPNG(s.T()))
		s.True(errors.Is(err, ErrTooLarge))

		_, err = NewAnalyzer(WithMaxPixels(32 * 32)).Analyze(testutil.SharpPNG(s.T()))
		s.NoError(err)
	})

	s.Run("header within the limit but without pixels is invalid", func() {
		_, _, err := s.analyzer.Decode(testutil.PNGHeader(64, 64))
		s.True(errors.Is(err, ErrInvalidImage))
	})

	s.Run("non-positive limit keeps default", func() {
		s.Equal(DefaultMaxPixels, NewAnalyzer(WithMaxPixels(0)).MaxPixels())
	})
}

func FuzzLaplacianVariance(f *testing.F) {
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0}, 3)
	f.Add([]byte{255, 0, 255, 0, 255, 0, 255, 0, 255, 0, 255, 0}, 4)
	f.Fuzz(func(t *testing.T, data []byte, w int) {
		if w <= 0 || w > 64 {
			return
		}
		h := len(data) / w
		gray := make([]int, w*h)
		for i := range gray {
			gray[i] = int(data[i])
		}
		if v := LaplacianVariance(gray, w, h); v < 0 {
			t.Fatalf("negative variance %v", v)
		}
	})
}
