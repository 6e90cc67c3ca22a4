package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"lumisync/internal/protocol"
)

// thumbWidth bounds the image the average runs over; captures are scaled
// down first so a 4K region costs the same as a small one.
const thumbWidth = 64

type ScreenOptions struct {
	// Display indexes the monitor to sample.
	Display int
	// Region is the capture rectangle in display coordinates. Zero means
	// the whole display.
	Region image.Rectangle
	// Interval is the sampling period.
	Interval time.Duration
}

// Screen periodically captures a screen region and emits its spatial average
// color.
type Screen struct {
	opts    ScreenOptions
	handler SampleHandler
	log     zerolog.Logger
}

func NewScreen(opts ScreenOptions, log zerolog.Logger) *Screen {
	if opts.Interval == 0 {
		opts.Interval = 500 * time.Millisecond
	}
	return &Screen{opts: opts, log: log}
}

func (s *Screen) Name() string { return "screen" }

func (s *Screen) OnSample(h SampleHandler) {
	s.handler = h
}

func (s *Screen) Run(ctx context.Context) error {
	if screenshot.NumActiveDisplays() <= s.opts.Display {
		s.log.Warn().Int("display", s.opts.Display).Msg("display not available")
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.opts.Interval).Msg("screen pipeline started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("screen pipeline stopped")
			return nil
		case <-ticker.C:
			sample, err := s.capture()
			if err != nil {
				// A failed capture is absorbed; the next tick retries.
				s.log.Debug().Err(err).Msg("capture failed")
				continue
			}
			if s.handler != nil {
				s.handler(sample)
			}
		}
	}
}

func (s *Screen) capture() (protocol.HSBK, error) {
	region := s.opts.Region
	bounds := screenshot.GetDisplayBounds(s.opts.Display)
	if region.Empty() {
		region = bounds
	} else {
		region = region.Add(bounds.Min).Intersect(bounds)
	}

	img, err := screenshot.CaptureRect(region)
	if err != nil {
		return protocol.HSBK{}, err
	}

	r, g, b := averageRGB(downscale(img))
	return protocol.HSBKFromRGB(r, g, b), nil
}

// downscale shrinks the capture to thumbnail size before averaging.
func downscale(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	if bounds.Dx() <= thumbWidth {
		return img
	}
	h := bounds.Dy() * thumbWidth / bounds.Dx()
	if h < 1 {
		h = 1
	}
	thumb := image.NewRGBA(image.Rect(0, 0, thumbWidth, h))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, bounds, draw.Src, nil)
	return thumb
}

// averageRGB computes the arithmetic mean of each channel over all pixels.
func averageRGB(img *image.RGBA) (r, g, b uint8) {
	bounds := img.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels == 0 {
		return 0, 0, 0
	}

	var sumR, sumG, sumB uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		i := img.PixOffset(bounds.Min.X, y)
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sumR += uint64(img.Pix[i])
			sumG += uint64(img.Pix[i+1])
			sumB += uint64(img.Pix[i+2])
			i += 4
		}
	}
	n := uint64(pixels)
	return uint8(sumR / n), uint8(sumG / n), uint8(sumB / n)
}
