// Package metrics exports the echo bot's runtime counters to Prometheus.
//
// A single Metrics value is shared by the connection supervisor, the file
// transfer manager, the call manager and the driver. Components given a nil
// *Metrics fall back to Discard, whose collectors are never registered.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "toxecho"

// Transfer outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomePeerLost  = "peer_lost"
	OutcomeShutdown  = "shutdown"
)

// Call outcomes.
const (
	CallAnswered     = "answered"
	CallAnswerFailed = "answer_failed"
	CallFinished     = "finished"
	CallError        = "error"
)

// Metrics groups every collector the bot updates.
type Metrics struct {
	PeersOnline prometheus.Gauge
	Reconnects  prometheus.Counter

	TransfersActive   *prometheus.GaugeVec
	TransferBytes     *prometheus.CounterVec
	TransfersFinished *prometheus.CounterVec
	Admissions        *prometheus.CounterVec

	CallsActive  prometheus.Gauge
	Calls        *prometheus.CounterVec
	AudioBitRate *prometheus.GaugeVec
	VideoBitRate *prometheus.GaugeVec
	MediaFrames  *prometheus.CounterVec

	Saves *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_online",
			Help:      "Number of friends currently connected.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Number of times the bot re-bootstrapped after losing the DHT.",
		}),
		TransfersActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "transfers_active",
			Help:      "File transfers currently open.",
		}, []string{"direction", "kind"}),
		TransferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "bytes_total",
			Help:      "Bytes moved by file transfers.",
		}, []string{"direction"}),
		TransfersFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "transfers_finished_total",
			Help:      "File transfers removed, by outcome.",
		}, []string{"direction", "outcome"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "admissions_total",
			Help:      "Incoming file offers, by decision and reason.",
		}, []string{"decision", "reason"}),
		CallsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "calls_active",
			Help:      "Call sessions currently tracked.",
		}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "calls_total",
			Help:      "Call lifecycle events, by outcome.",
		}, []string{"outcome"}),
		AudioBitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "audio_bit_rate_kbps",
			Help:      "Last audio bit rate advised by the transport.",
		}, []string{"friend"}),
		VideoBitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "video_bit_rate_kbps",
			Help:      "Last video bit rate advised by the transport.",
		}, []string{"friend"}),
		MediaFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "frames_total",
			Help:      "Outgoing media frames, by media and result.",
		}, []string{"media", "result"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Save data writes, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PeersOnline,
			m.Reconnects,
			m.TransfersActive,
			m.TransferBytes,
			m.TransfersFinished,
			m.Admissions,
			m.CallsActive,
			m.Calls,
			m.AudioBitRate,
			m.VideoBitRate,
			m.MediaFrames,
			m.Saves,
		)
	}

	return m
}

// Discard returns unregistered collectors for components that were not
// given a Metrics value.
func Discard() *Metrics {
	return New(nil)
}

// Or returns m, or Discard when m is nil.
func Or(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

// FriendLabel formats a friend number as a label value.
func FriendLabel(friendID uint32) string {
	return strconv.FormatUint(uint64(friendID), 10)
}
