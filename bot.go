package toxecho

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/toxecho/av"
	"github.com/opd-ai/toxecho/config"
	"github.com/opd-ai/toxecho/connection"
	"github.com/opd-ai/toxecho/driver"
	"github.com/opd-ai/toxecho/file"
	"github.com/opd-ai/toxecho/limits"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/savedata"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Option customizes a Bot at construction.
type Option func(*Bot)

// WithMetrics exports the bot's collectors through m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithClock replaces the wall clock used by the supervisor and driver.
func WithClock(clk clock.Clock) Option {
	return func(b *Bot) { b.clock = clk }
}

// WithMediaSources attaches capture sources. Frames they produce are sent to
// every call that accepts that direction. Either source may be nil.
func WithMediaSources(audio av.AudioSource, video av.VideoSource) Option {
	return func(b *Bot) {
		b.audio = audio
		b.video = video
	}
}

// Bot is the echo bot. It receives every transport event and routes it to
// the connection supervisor, the file transfer manager or the call manager.
type Bot struct {
	options   *config.Options
	transport transport.Transport
	store     *savedata.Store
	metrics   *metrics.Metrics
	clock     clock.Clock

	audio av.AudioSource
	video av.VideoSource

	supervisor *connection.Supervisor
	files      *file.Manager
	calls      *av.Manager
	capture    *av.Capture
	driver     *driver.Driver
}

// New creates a bot driving tr and installs it as the transport's handler.
func New(opts *config.Options, tr transport.Transport, options ...Option) (*Bot, error) {
	if opts == nil {
		opts = config.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if tr == nil {
		return nil, errors.New("transport cannot be nil")
	}

	b := &Bot{
		options:   opts,
		transport: tr,
	}
	for _, o := range options {
		o(b)
	}
	b.metrics = metrics.Or(b.metrics)
	if b.clock == nil {
		b.clock = clock.New()
	}

	b.store = savedata.NewStore(opts.SaveFile, opts.SaveTmpFile, opts.Passphrase, b.metrics)
	b.supervisor = connection.NewSupervisor(b.clock, b.metrics)
	b.files = file.NewManager(tr, file.PolicyFromOptions(opts), b.metrics)
	b.calls = av.NewManager(tr, av.ConfigFromOptions(opts), b.metrics)

	if b.audio != nil || b.video != nil {
		b.capture = av.NewCapture(tr, b.calls, b.audio, b.video, b.metrics)
		b.calls.SetWorker(b.capture)
	}

	b.driver = driver.New(driver.Config{
		Transport:    tr,
		Supervisor:   b.supervisor,
		Nodes:        opts.Bootstrap,
		SaveInterval: opts.SaveInterval,
		Persist:      b.Save,
		Clock:        b.clock,
		Metrics:      b.metrics,
	})

	b.supervisor.OnPeerLost(b.peerLost)
	b.supervisor.OnPeerGained(b.pushAvatar)
	if opts.EchoFiles {
		b.files.OnReceived(b.echoFile)
	}

	tr.SetHandler(b)
	b.applyProfile()

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"name":      opts.Name,
		"save_file": opts.SaveFile,
		"nodes":     len(opts.Bootstrap),
		"capture":   b.capture != nil,
	}).Info("Echo bot created")

	return b, nil
}

// Supervisor returns the connection supervisor.
func (b *Bot) Supervisor() *connection.Supervisor {
	return b.supervisor
}

// Files returns the file transfer manager.
func (b *Bot) Files() *file.Manager {
	return b.files
}

// Calls returns the call manager.
func (b *Bot) Calls() *av.Manager {
	return b.calls
}

// Save persists the transport's session blob now.
func (b *Bot) Save() error {
	return b.store.Save(b.transport.SaveData())
}

// Run drives the transport until ctx is cancelled, then shuts down: media
// workers stop first, the driver finishes its tick, every transfer is closed,
// the session is saved one last time and the transport is released.
func (b *Bot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.driver.Run(gctx)
	})

	<-gctx.Done()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("Shutting down echo bot")

	errs := b.calls.Close()
	errs = multierr.Append(errs, g.Wait())
	errs = multierr.Append(errs, b.files.Close())
	errs = multierr.Append(errs, b.Save())
	b.transport.Kill()

	if errs != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"error":    errs.Error(),
		}).Error("Echo bot stopped with errors")
	}
	return errs
}

// applyProfile publishes the configured name and status message. A refusal
// is logged and the bot keeps its previous profile.
func (b *Bot) applyProfile() {
	fields := logrus.Fields{
		"function":       "applyProfile",
		"name":           b.options.Name,
		"status_message": b.options.StatusMessage,
	}
	if err := b.transport.SetSelfName(b.options.Name); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to set name")
	}
	if err := b.transport.SetSelfStatusMessage(b.options.StatusMessage); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to set status message")
	}
}

// friendName is the friend's display name for log lines, empty when unknown.
func (b *Bot) friendName(friendID uint32) string {
	name, err := b.transport.FriendName(friendID)
	if err != nil {
		return ""
	}
	return name
}

func (b *Bot) peerLost(friendID uint32) {
	if err := b.files.PeerLost(friendID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "peerLost",
			"friend_id":   friendID,
			"friend_name": b.friendName(friendID),
			"error":       err.Error(),
		}).Warn("Failed to close transfers of offline friend")
	}
	b.calls.PeerLost(friendID)
}

// pushAvatar offers the configured avatar to a friend that just came online.
func (b *Bot) pushAvatar(friendID uint32) {
	path := b.options.Avatar
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pushAvatar",
			"path":     path,
		}).Debug("No avatar to push")
		return
	}

	if _, err := b.files.SendAvatar(friendID, path); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "pushAvatar",
			"friend_id":   friendID,
			"friend_name": b.friendName(friendID),
			"error":       err.Error(),
		}).Warn("Failed to push avatar")
	}
}

// echoFile offers a completed file back to its sender and, when broadcasting,
// to every other online friend.
func (b *Bot) echoFile(t file.Transfer) {
	targets := []uint32{t.FriendID}
	if b.options.EchoToAll {
		for _, id := range b.supervisor.OnlinePeers() {
			if id != t.FriendID {
				targets = append(targets, id)
			}
		}
	}

	for _, id := range targets {
		number, err := b.files.SendFile(id, t.Path, t.FileName)
		fields := logrus.Fields{
			"function":    "echoFile",
			"friend_id":   id,
			"friend_name": b.friendName(id),
			"source":      t.FriendID,
			"file_name":   t.FileName,
		}
		if err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Failed to echo file")
			continue
		}
		fields["file_id"] = number
		logrus.WithFields(fields).Info("Echoing file")
	}
}

func (b *Bot) logHandlerError(function string, friendID uint32, err error) {
	if err == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":    function,
		"friend_id":   friendID,
		"friend_name": b.friendName(friendID),
		"error":       err.Error(),
	}).Error("Event handling failed")
}

// OnSelfConnectionStatus implements transport.Handler.
func (b *Bot) OnSelfConnectionStatus(status transport.ConnectionStatus) {
	if err := b.supervisor.OnSelfStatus(status); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnSelfConnectionStatus",
			"error":    err.Error(),
		}).Error("Event handling failed")
	}
}

// OnFriendConnectionStatus implements transport.Handler.
func (b *Bot) OnFriendConnectionStatus(friendID uint32, status transport.ConnectionStatus) {
	b.logHandlerError("OnFriendConnectionStatus", friendID, b.supervisor.OnPeerStatus(friendID, status))
}

// OnFriendRequest implements transport.Handler.
func (b *Bot) OnFriendRequest(publicKey, message string) {
	fields := logrus.Fields{
		"function":   "OnFriendRequest",
		"public_key": publicKey,
		"message":    message,
	}
	if !b.options.AutoAcceptFriends {
		logrus.WithFields(fields).Info("Friend request ignored")
		return
	}

	friendID, err := b.transport.FriendAddNoRequest(publicKey)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to accept friend request")
		return
	}
	fields["friend_id"] = friendID
	logrus.WithFields(fields).Info("Friend request accepted")
}

// OnFriendMessage implements transport.Handler.
func (b *Bot) OnFriendMessage(friendID uint32, messageType transport.MessageType, message string) {
	if !b.options.EchoMessages {
		return
	}
	if err := limits.ValidateMessage(message); err != nil {
		b.logHandlerError("OnFriendMessage", friendID, err)
		return
	}

	fields := logrus.Fields{
		"function":    "OnFriendMessage",
		"friend_id":   friendID,
		"friend_name": b.friendName(friendID),
	}
	if _, err := b.transport.FriendSendMessage(friendID, messageType, message); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to echo message")
		return
	}
	logrus.WithFields(fields).Debug("Message echoed")
}

// OnFileRecv implements transport.Handler.
func (b *Bot) OnFileRecv(friendID, fileID uint32, kind transport.FileKind, fileSize uint64, fileName string) {
	b.logHandlerError("OnFileRecv", friendID, b.files.HandleFileRecv(friendID, fileID, kind, fileSize, fileName))
}

// OnFileRecvControl implements transport.Handler.
func (b *Bot) OnFileRecvControl(friendID, fileID uint32, control transport.FileControl) {
	b.logHandlerError("OnFileRecvControl", friendID, b.files.HandleControl(friendID, fileID, control))
}

// OnFileRecvChunk implements transport.Handler.
func (b *Bot) OnFileRecvChunk(friendID, fileID uint32, position uint64, data []byte) {
	b.logHandlerError("OnFileRecvChunk", friendID, b.files.HandleChunk(friendID, fileID, position, data))
}

// OnFileChunkRequest implements transport.Handler.
func (b *Bot) OnFileChunkRequest(friendID, fileID uint32, position uint64, length int) {
	_, err := b.files.HandleChunkRequest(friendID, fileID, position, length)
	b.logHandlerError("OnFileChunkRequest", friendID, err)
}

// OnCall implements transport.Handler.
func (b *Bot) OnCall(friendID uint32, audioEnabled, videoEnabled bool) {
	b.logHandlerError("OnCall", friendID, b.calls.HandleCall(friendID, audioEnabled, videoEnabled))
}

// OnCallState implements transport.Handler.
func (b *Bot) OnCallState(friendID uint32, state transport.CallState) {
	b.logHandlerError("OnCallState", friendID, b.calls.HandleCallState(friendID, state))
}

// OnBitRateStatus implements transport.Handler.
func (b *Bot) OnBitRateStatus(friendID, audioBitRate, videoBitRate uint32) {
	b.calls.HandleBitRate(friendID, audioBitRate, videoBitRate)
}

// OnAudioReceiveFrame implements transport.Handler.
func (b *Bot) OnAudioReceiveFrame(friendID uint32, frame transport.AudioFrame) {
	b.calls.HandleAudioFrame(friendID, frame)
}

// OnVideoReceiveFrame implements transport.Handler.
func (b *Bot) OnVideoReceiveFrame(friendID uint32, frame transport.VideoFrame) {
	b.calls.HandleVideoFrame(friendID, frame)
}

var _ transport.Handler = (*Bot)(nil)
