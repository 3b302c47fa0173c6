package av

import (
	"context"
	"math"
	"time"

	"github.com/opd-ai/toxecho/transport"
)

// ToneSource is a synthetic AudioSource producing a sine wave, paced in real
// time. It stands in for a microphone in demos and tests.
type ToneSource struct {
	SamplingRate uint32
	Channels     uint8
	Frequency    float64
	FrameLength  time.Duration

	phase float64
	next  time.Time
}

// NewToneSource returns a 440 Hz mono tone at 48 kHz in 20 ms frames.
func NewToneSource() *ToneSource {
	return &ToneSource{
		SamplingRate: 48000,
		Channels:     1,
		Frequency:    440,
		FrameLength:  20 * time.Millisecond,
	}
}

// ReadAudio waits for the next frame slot and returns one frame.
func (s *ToneSource) ReadAudio(ctx context.Context) (transport.AudioFrame, error) {
	if err := pace(ctx, &s.next, s.FrameLength); err != nil {
		return transport.AudioFrame{}, err
	}

	samples := int(uint64(s.SamplingRate) * uint64(s.FrameLength) / uint64(time.Second))
	channels := int(s.Channels)
	if channels == 0 {
		channels = 1
	}

	pcm := make([]int16, samples*channels)
	step := 2 * math.Pi * s.Frequency / float64(s.SamplingRate)
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(s.phase) * math.MaxInt16 / 4)
		for ch := 0; ch < channels; ch++ {
			pcm[i*channels+ch] = v
		}
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}

	return transport.AudioFrame{
		PCM:          pcm,
		SampleCount:  samples,
		Channels:     uint8(channels),
		SamplingRate: s.SamplingRate,
	}, nil
}

// PatternSource is a synthetic VideoSource producing flat frames whose luma
// cycles each frame.
type PatternSource struct {
	Width, Height uint16
	FrameInterval time.Duration

	luma byte
	next time.Time
}

// NewPatternSource returns a 320x240 source at 10 frames per second.
func NewPatternSource() *PatternSource {
	return &PatternSource{
		Width:         320,
		Height:        240,
		FrameInterval: 100 * time.Millisecond,
	}
}

// ReadVideo waits for the next frame slot and returns one frame.
func (s *PatternSource) ReadVideo(ctx context.Context) (transport.VideoFrame, error) {
	if err := pace(ctx, &s.next, s.FrameInterval); err != nil {
		return transport.VideoFrame{}, err
	}

	w, h := int(s.Width), int(s.Height)
	cw, ch := (w+1)/2, (h+1)/2

	frame := transport.VideoFrame{
		Width:   s.Width,
		Height:  s.Height,
		Y:       fill(w*h, s.luma),
		U:       fill(cw*ch, 128),
		V:       fill(cw*ch, 128),
		YStride: w,
		UStride: cw,
		VStride: cw,
	}
	s.luma += 8
	return frame, nil
}

func fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// pace blocks until *next, then schedules the following slot. A source that
// fell behind by more than one interval resynchronises instead of bursting.
func pace(ctx context.Context, next *time.Time, interval time.Duration) error {
	now := time.Now()
	if next.IsZero() || now.Sub(*next) > interval {
		*next = now
	}

	if wait := next.Sub(now); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	*next = next.Add(interval)
	return nil
}
