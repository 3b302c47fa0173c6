package av

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AudioSource produces PCM frames, blocking until one is ready or ctx ends.
type AudioSource interface {
	ReadAudio(ctx context.Context) (transport.AudioFrame, error)
}

// VideoSource produces YUV420 frames, blocking until one is ready or ctx ends.
type VideoSource interface {
	ReadVideo(ctx context.Context) (transport.VideoFrame, error)
}

// Sessions is the view of call sessions a media worker needs.
type Sessions interface {
	Friends() []uint32
	IsAudioEnabled(friendNumber uint32) bool
	IsVideoEnabled(friendNumber uint32) bool
}

// DefaultRetryDelay is how long a worker waits after a source error.
const DefaultRetryDelay = 10 * time.Millisecond

// Capture runs one goroutine per configured source, fanning every frame out
// to the sessions that accept that media. It implements Worker.
type Capture struct {
	transport transport.Transport
	sessions  Sessions
	audio     AudioSource
	video     VideoSource
	metrics   *metrics.Metrics

	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewCapture creates stopped workers. Either source may be nil.
func NewCapture(t transport.Transport, sessions Sessions, audio AudioSource, video VideoSource, m *metrics.Metrics) *Capture {
	return &Capture{
		transport:  t,
		sessions:   sessions,
		audio:      audio,
		video:      video,
		metrics:    metrics.Or(m),
		retryDelay: DefaultRetryDelay,
	}
}

// Running reports whether the workers are started.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group != nil
}

// Start launches the workers.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group != nil {
		return ErrCaptureRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	if c.audio != nil {
		group.Go(func() error { return c.runAudio(ctx) })
	}
	if c.video != nil {
		group.Go(func() error { return c.runVideo(ctx) })
	}

	c.cancel = cancel
	c.group = group

	logrus.WithFields(logrus.Fields{
		"function": "Capture.Start",
		"audio":    c.audio != nil,
		"video":    c.video != nil,
	}).Info("Media workers started")
	return nil
}

// Stop cancels the workers and waits for them. Stopping stopped workers is a
// no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	cancel, group := c.cancel, c.group
	c.cancel, c.group = nil, nil
	c.mu.Unlock()

	if group == nil {
		return nil
	}

	cancel()
	err := group.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Capture.Stop",
	}).Info("Media workers stopped")
	return err
}

func (c *Capture) runAudio(ctx context.Context) error {
	for {
		frame, err := c.audio.ReadAudio(ctx)
		if done, werr := c.sourceDone(ctx, "audio", err); done {
			return werr
		} else if err != nil {
			continue
		}

		for _, friendNumber := range c.sessions.Friends() {
			if !c.sessions.IsAudioEnabled(friendNumber) {
				continue
			}
			c.count("audio", friendNumber, c.transport.AudioSendFrame(friendNumber, frame))
		}
	}
}

func (c *Capture) runVideo(ctx context.Context) error {
	for {
		frame, err := c.video.ReadVideo(ctx)
		if done, werr := c.sourceDone(ctx, "video", err); done {
			return werr
		} else if err != nil {
			continue
		}

		for _, friendNumber := range c.sessions.Friends() {
			if !c.sessions.IsVideoEnabled(friendNumber) {
				continue
			}
			c.count("video", friendNumber, c.transport.VideoSendFrame(friendNumber, frame))
		}
	}
}

// sourceDone decides what a source error means. Cancellation and a closed
// source end the worker cleanly; anything else is logged and retried after
// retryDelay.
func (c *Capture) sourceDone(ctx context.Context, media string, err error) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrSourceClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "Capture",
			"media":    media,
		}).Info("Media source closed")
		return true, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Capture",
		"media":    media,
		"error":    err.Error(),
	}).Warn("Media source read failed")

	select {
	case <-ctx.Done():
		return true, nil
	case <-time.After(c.retryDelay):
		return false, nil
	}
}

func (c *Capture) count(media string, friendNumber uint32, err error) {
	result := frameResult(err)
	c.metrics.MediaFrames.WithLabelValues(media, result).Inc()
	if result == "failed" {
		logrus.WithFields(logrus.Fields{
			"function":      "Capture",
			"media":         media,
			"friend_number": friendNumber,
			"error":         err.Error(),
		}).Debug("Frame send failed")
	}
}
