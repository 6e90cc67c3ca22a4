package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"

	"lumisync/internal/protocol"
)

// Spectrum band boundaries in Hz and the hue each band pulls toward. The
// mapping is an energy-weighted blend: pure bass lands on red, pure treble
// on blue, mixes in between.
const (
	bassCutoff   = 250.0
	trebleCutoff = 2000.0

	bassHue   = 0.0
	midHue    = 120.0
	trebleHue = 240.0

	// brightnessRef is the RMS amplitude mapped to full brightness.
	brightnessRef = 0.25

	audioSaturation = 0.85
)

type AudioOptions struct {
	// SampleRate of the capture stream.
	SampleRate uint32
	// WindowSize is the number of samples per analysis window.
	WindowSize int
	// Interval is the analysis period.
	Interval time.Duration
}

// Audio captures live audio, transforms the latest window into the frequency
// domain and emits a color derived from the band energies.
type Audio struct {
	opts    AudioOptions
	handler SampleHandler
	log     zerolog.Logger

	mu      sync.Mutex
	samples []float64
}

func NewAudio(opts AudioOptions, log zerolog.Logger) *Audio {
	if opts.SampleRate == 0 {
		opts.SampleRate = 48000
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = 4096
	}
	if opts.Interval == 0 {
		opts.Interval = 500 * time.Millisecond
	}
	return &Audio{opts: opts, log: log}
}

func (a *Audio) Name() string { return "audio" }

func (a *Audio) OnSample(h SampleHandler) {
	a.handler = h
}

func (a *Audio) Run(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		a.log.Debug().Str("malgo", msg).Msg("audio backend")
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = a.opts.SampleRate
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			a.push(input, frameCount)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	a.log.Info().Uint32("rate", a.opts.SampleRate).Dur("interval", a.opts.Interval).
		Msg("audio pipeline started")
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("audio pipeline stopped")
			return nil
		case <-ticker.C:
			window := a.window()
			if window == nil {
				continue
			}
			sample := analyze(window, float64(a.opts.SampleRate))
			if a.handler != nil {
				a.handler(sample)
			}
		}
	}
}

// push appends captured f32 frames, keeping only the newest window.
func (a *Audio) push(input []byte, frameCount uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := uint32(0); i < frameCount; i++ {
		bits := binary.LittleEndian.Uint32(input[i*4 : i*4+4])
		a.samples = append(a.samples, float64(math.Float32frombits(bits)))
	}
	if excess := len(a.samples) - a.opts.WindowSize; excess > 0 {
		a.samples = a.samples[excess:]
	}
}

// window copies the current analysis window, or nil when not enough audio
// has been captured yet.
func (a *Audio) window() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) < a.opts.WindowSize {
		return nil
	}
	return append([]float64(nil), a.samples...)
}

// analyze maps one Hann-windowed sample window to a color: band energies
// weight the hue, total energy drives the brightness.
func analyze(samples []float64, sampleRate float64) protocol.HSBK {
	n := len(samples)
	windowed := make([]float64, n)
	var rms float64
	for i, v := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = v * w
		rms += v * v
	}
	rms = math.Sqrt(rms / float64(n))

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, windowed)

	var bass, mid, treble float64
	for i, c := range coeffs {
		if i == 0 {
			continue // DC offset
		}
		freq := fft.Freq(i) * sampleRate
		energy := real(c)*real(c) + imag(c)*imag(c)
		switch {
		case freq < bassCutoff:
			bass += energy
		case freq < trebleCutoff:
			mid += energy
		default:
			treble += energy
		}
	}

	total := bass + mid + treble
	hue := bassHue
	if total > 0 {
		hue = (bass*bassHue + mid*midHue + treble*trebleHue) / total
	}

	brightness := math.Min(1, rms/brightnessRef)
	saturation := audioSaturation
	if brightness == 0 {
		saturation = 0
	}

	return protocol.HSBK{
		Hue:        uint16(hue / 360 * math.MaxUint16),
		Saturation: uint16(saturation * math.MaxUint16),
		Brightness: uint16(brightness * math.MaxUint16),
		Kelvin:     protocol.DefaultKelvin,
	}
}
