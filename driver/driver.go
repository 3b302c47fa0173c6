// Package driver runs the loop that pumps the transport.
//
// Each tick re-bootstraps when the supervisor reports a lost DHT, pumps the
// transport once, polls the DHT status into the supervisor, sleeps for the interval the transport advises and adds that
// interval to a save accumulator. Once the accumulator passes the save
// interval the persist callback runs and the accumulator resets.
package driver

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/toxecho/config"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// MinInterval bounds the sleep between ticks when a transport advises zero.
const MinInterval = time.Millisecond

// Supervisor is the reconnect decision the driver consults.
type Supervisor interface {
	NeedsReconnect() bool
	MarkBootstrapped()
	SelfStatus() transport.ConnectionStatus
	OnSelfStatus(status transport.ConnectionStatus) error
}

// Config wires a Driver.
type Config struct {
	Transport    transport.Transport
	Supervisor   Supervisor
	Nodes        []config.BootstrapNode
	SaveInterval time.Duration
	// Persist is called when the save interval elapses. Errors are logged.
	Persist func() error
	// Clock defaults to the wall clock.
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Driver owns the pump loop. It is not safe for concurrent use; Run is
// meant to be the only caller of the other methods once started.
type Driver struct {
	transport    transport.Transport
	supervisor   Supervisor
	nodes        []config.BootstrapNode
	saveInterval time.Duration
	persist      func() error
	clock        clock.Clock
	metrics      *metrics.Metrics

	elapsed time.Duration
}

// New creates a driver from cfg.
func New(cfg Config) *Driver {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Driver{
		transport:    cfg.Transport,
		supervisor:   cfg.Supervisor,
		nodes:        cfg.Nodes,
		saveInterval: cfg.SaveInterval,
		persist:      cfg.Persist,
		clock:        clk,
		metrics:      metrics.Or(cfg.Metrics),
	}
}

// Bootstrap adds every configured node. It fails only when no node could be
// added.
func (d *Driver) Bootstrap() error {
	var errs error
	added := 0

	for _, node := range d.nodes {
		err := d.transport.Bootstrap(node.Host, node.Port, node.PublicKey)
		fields := logrus.Fields{
			"function": "Bootstrap",
			"host":     node.Host,
			"port":     node.Port,
		}
		if err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Bootstrap node refused")
			errs = multierr.Append(errs, err)
			continue
		}
		added++
		logrus.WithFields(fields).Debug("Bootstrap node added")
	}

	if added == 0 && errs != nil {
		return errs
	}
	return nil
}

// Tick runs the reconnect check, one transport iteration and a DHT status
// poll, returning the interval to sleep before the next tick.
func (d *Driver) Tick() time.Duration {
	if d.supervisor != nil && d.supervisor.NeedsReconnect() {
		logrus.WithFields(logrus.Fields{
			"function": "Tick",
			"nodes":    len(d.nodes),
		}).Info("DHT connection lost, bootstrapping again")

		d.metrics.Reconnects.Inc()
		if err := d.Bootstrap(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Tick",
				"error":    err.Error(),
			}).Error("Re-bootstrap failed")
		}
		d.supervisor.MarkBootstrapped()
	}

	interval := d.transport.Iterate()
	d.pollSelfStatus()
	if interval < MinInterval {
		interval = MinInterval
	}
	return interval
}

// pollSelfStatus feeds the transport's DHT status to the supervisor when it
// differs from the last status event, so a missed event cannot stall
// reconnects.
func (d *Driver) pollSelfStatus() {
	if d.supervisor == nil {
		return
	}
	status := d.transport.SelfConnectionStatus()
	if status == d.supervisor.SelfStatus() {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "pollSelfStatus",
		"status":   status.String(),
	}).Debug("DHT status changed without an event")

	if err := d.supervisor.OnSelfStatus(status); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "pollSelfStatus",
			"error":    err.Error(),
		}).Warn("Polled DHT status rejected")
	}
}

// Accumulate adds a slept interval to the save accumulator and persists
// once it passes the save interval. It reports whether a save ran.
func (d *Driver) Accumulate(interval time.Duration) bool {
	d.elapsed += interval
	if d.saveInterval <= 0 || d.elapsed <= d.saveInterval {
		return false
	}
	d.elapsed = 0

	if d.persist == nil {
		return false
	}
	if err := d.persist(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Accumulate",
			"error":    err.Error(),
		}).Error("Periodic save failed")
	}
	return true
}

// Run bootstraps and then ticks until ctx is cancelled. The tick in progress
// completes before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Bootstrap(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"error":    err.Error(),
		}).Error("Initial bootstrap failed")
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Run",
		"save_interval": d.saveInterval.String(),
	}).Info("Driver loop started")

	for ctx.Err() == nil {
		interval := d.Tick()
		if !d.sleep(ctx, interval) {
			break
		}
		d.Accumulate(interval)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Run",
	}).Info("Driver loop stopped")
	return nil
}

// sleep waits for interval on the driver clock. It returns false when ctx
// ended first.
func (d *Driver) sleep(ctx context.Context, interval time.Duration) bool {
	timer := d.clock.Timer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
