package connection

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
)

// Peer is the live link state of one friend.
type Peer struct {
	ID     uint32
	Status transport.ConnectionStatus
	// Since is when the friend last came online.
	Since time.Time
}

// Online reports whether the peer currently has a usable link.
func (p Peer) Online() bool {
	return p.Status.Connected()
}

// PeerFunc is called with the number of a friend that went offline or came
// online.
type PeerFunc func(friendID uint32)

// Supervisor tracks the node's DHT status and the link status of every
// friend. Events are expected from the driver goroutine; lookups may come
// from anywhere.
type Supervisor struct {
	mu    sync.RWMutex
	self  transport.ConnectionStatus
	armed bool
	peers map[uint32]*Peer

	lost   []PeerFunc
	gained []PeerFunc

	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewSupervisor creates a supervisor with no known peers. A nil clock uses
// the wall clock and nil metrics are discarded.
func NewSupervisor(clk clock.Clock, m *metrics.Metrics) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}

	return &Supervisor{
		peers:   make(map[uint32]*Peer),
		clock:   clk,
		metrics: metrics.Or(m),
	}
}

// OnPeerLost registers fn to run when a friend drops to ConnectionNone.
func (s *Supervisor) OnPeerLost(fn PeerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = append(s.lost, fn)
}

// OnPeerGained registers fn to run when a friend comes online.
func (s *Supervisor) OnPeerGained(fn PeerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gained = append(s.gained, fn)
}

// OnSelfStatus records the node's DHT status.
func (s *Supervisor) OnSelfStatus(status transport.ConnectionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: self status %d", ErrUnknownStatus, uint8(status))
	}

	s.mu.Lock()
	prev := s.self
	s.self = status
	if status.Connected() {
		s.armed = true
	}
	s.mu.Unlock()

	if prev == status {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "OnSelfStatus",
		"previous": prev.String(),
		"status":   status.String(),
	}).Info("DHT connection status changed")

	return nil
}

// SelfStatus returns the last recorded DHT status.
func (s *Supervisor) SelfStatus() transport.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// NeedsReconnect reports whether the node was connected at some point and
// has since lost the DHT.
func (s *Supervisor) NeedsReconnect() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed && s.self == transport.ConnectionNone
}

// MarkBootstrapped disarms the reconnect check until the node connects again.
func (s *Supervisor) MarkBootstrapped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
}

// OnPeerStatus records a friend's link status and fires the lost or gained
// callbacks on transitions to or from ConnectionNone.
func (s *Supervisor) OnPeerStatus(friendID uint32, status transport.ConnectionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: friend %d status %d", ErrUnknownStatus, friendID, uint8(status))
	}

	s.mu.Lock()
	peer, known := s.peers[friendID]
	wasOnline := known && peer.Online()

	var callbacks []PeerFunc
	switch {
	case status == transport.ConnectionNone:
		if known {
			delete(s.peers, friendID)
			callbacks = s.lost
		}
	case !wasOnline:
		s.peers[friendID] = &Peer{ID: friendID, Status: status, Since: s.clock.Now()}
		callbacks = s.gained
	default:
		peer.Status = status
	}
	online := len(s.peers)
	s.mu.Unlock()

	s.metrics.PeersOnline.Set(float64(online))

	logrus.WithFields(logrus.Fields{
		"function":  "OnPeerStatus",
		"friend_id": friendID,
		"status":    status.String(),
		"known":     known,
	}).Info("Friend connection status changed")

	for _, fn := range callbacks {
		fn(friendID)
	}

	return nil
}

// Peer returns a copy of the friend's link state.
func (s *Supervisor) Peer(friendID uint32) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peer, ok := s.peers[friendID]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// OnlinePeers returns the numbers of every online friend in ascending order.
func (s *Supervisor) OnlinePeers() []uint32 {
	s.mu.RLock()
	ids := make([]uint32, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
