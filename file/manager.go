package file

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/opd-ai/toxecho/limits"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ReceivedFunc is called with a completed incoming data transfer. The handle
// is already closed; Path names the stored file.
type ReceivedFunc func(t Transfer)

// Manager owns every open transfer, keyed by friend and transfer number.
type Manager struct {
	transport transport.Transport
	policy    Policy
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	transfers map[transferKey]*Transfer
	received  []ReceivedFunc
}

// NewManager creates a file transfer manager issuing commands through t.
func NewManager(t transport.Transport, policy Policy, m *metrics.Metrics) *Manager {
	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"accept_files":   policy.AcceptFiles,
		"accept_avatars": policy.AcceptAvatars,
		"per_peer_cap":   policy.cap(),
	}).Info("Creating file transfer manager")

	return &Manager{
		transport: t,
		policy:    policy,
		metrics:   metrics.Or(m),
		transfers: make(map[transferKey]*Transfer),
	}
}

// OnReceived registers fn to run after an incoming data transfer completes.
func (m *Manager) OnReceived(fn ReceivedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, fn)
}

// Count returns the number of open transfers with a friend, both directions.
func (m *Manager) Count(friendID uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(friendID)
}

func (m *Manager) countLocked(friendID uint32) int {
	n := 0
	for key := range m.transfers {
		if key.friendID == friendID {
			n++
		}
	}
	return n
}

// Transfer returns a copy of an open transfer.
func (m *Manager) Transfer(friendID, fileID uint32) (Transfer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[transferKey{friendID: friendID, fileID: fileID}]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// RequestAccept runs the admission policy for an incoming offer.
func (m *Manager) RequestAccept(friendID, fileID uint32, kind transport.FileKind, fileSize uint64, fileName string) (Decision, error) {
	decision, _, err := m.requestAccept(friendID, fileID, kind, fileSize, fileName)
	return decision, err
}

func (m *Manager) requestAccept(friendID, fileID uint32, kind transport.FileKind, fileSize uint64, fileName string) (Decision, string, error) {
	active := m.Count(friendID)

	decision, reason, err := m.policy.evaluate(kind, fileSize, active)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "RequestAccept",
			"friend_id": friendID,
			"file_id":   fileID,
			"kind":      kind.String(),
		}).Error("File offer with unknown kind")
		return Reject, "", fmt.Errorf("friend %d file %d: %w", friendID, fileID, err)
	}

	m.metrics.Admissions.WithLabelValues(decision.String(), reason).Inc()

	logrus.WithFields(logrus.Fields{
		"function":  "RequestAccept",
		"friend_id": friendID,
		"file_id":   fileID,
		"kind":      kind.String(),
		"file_size": fileSize,
		"file_name": fileName,
		"active":    active,
		"decision":  decision.String(),
		"reason":    reason,
	}).Debug("File offer evaluated")

	return decision, reason, nil
}

// HandleFileRecv answers an incoming offer. Accepted files are stored as
// <directory>/<hex file id> and resumed; everything else is cancelled.
func (m *Manager) HandleFileRecv(friendID, fileID uint32, kind transport.FileKind, fileSize uint64, fileName string) error {
	decision, _, err := m.requestAccept(friendID, fileID, kind, fileSize, fileName)
	if err != nil {
		return err
	}
	if decision == Reject {
		m.control(friendID, fileID, transport.FileControlCancel)
		return nil
	}

	id, err := m.transport.FileGetFileID(friendID, fileID)
	if err != nil {
		m.control(friendID, fileID, transport.FileControlCancel)
		return fmt.Errorf("%w: file id for friend %d file %d: %w", transport.ErrTransport, friendID, fileID, err)
	}

	hexID := hex.EncodeToString(id)
	path := filepath.Join(m.policy.directory(kind), hexID)

	handle, err := os.Create(path)
	if err != nil {
		m.control(friendID, fileID, transport.FileControlCancel)
		return fmt.Errorf("%w: create %s: %w", ErrResource, path, err)
	}

	name, err := limits.SanitizeFileName(fileName)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "HandleFileRecv",
			"friend_id": friendID,
			"file_id":   fileID,
			"error":     err.Error(),
		}).Warn("Unusable file name, falling back to file id")
		name = hexID
	}

	m.register(&Transfer{
		FriendID:  friendID,
		FileID:    fileID,
		Direction: TransferDirectionIncoming,
		Kind:      kind,
		FileSize:  fileSize,
		ID:        id,
		FileName:  name,
		Path:      path,
		StartTime: time.Now(),
		handle:    handle,
	})

	m.control(friendID, fileID, transport.FileControlResume)
	return nil
}

// HandleChunk stores an incoming chunk. An empty chunk, or a cursor past the
// announced size, completes the transfer.
func (m *Manager) HandleChunk(friendID, fileID uint32, position uint64, data []byte) error {
	key := transferKey{friendID: friendID, fileID: fileID}

	m.mu.Lock()
	t, ok := m.transfers[key]
	if !ok || t.Direction != TransferDirectionIncoming {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":  "HandleChunk",
			"friend_id": friendID,
			"file_id":   fileID,
		}).Debug("Chunk for unknown incoming transfer ignored")
		return nil
	}

	if len(data) > 0 {
		if err := writeChunk(t, position, data); err != nil {
			m.removeLocked(key, metrics.OutcomeFailed)
			m.mu.Unlock()
			m.control(friendID, fileID, transport.FileControlCancel)
			return fmt.Errorf("friend %d file %d: %w", friendID, fileID, err)
		}
		m.metrics.TransferBytes.WithLabelValues(t.Direction.String()).Add(float64(len(data)))
	}

	if len(data) > 0 && !t.finished() {
		m.mu.Unlock()
		return nil
	}

	err := m.removeLocked(key, metrics.OutcomeCompleted)
	callbacks := m.received
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "HandleChunk",
		"friend_id": friendID,
		"file_id":   fileID,
		"kind":      t.Kind.String(),
		"path":      t.Path,
		"received":  t.Position,
		"file_size": t.FileSize,
	}).Info("Incoming transfer completed")

	if err != nil {
		return fmt.Errorf("friend %d file %d: %w", friendID, fileID, err)
	}

	if t.Kind == transport.FileKindData {
		for _, fn := range callbacks {
			fn(*t)
		}
	}
	return nil
}

// writeChunk checks the chunk size before writing it at position.
func writeChunk(t *Transfer, position uint64, data []byte) error {
	if err := limits.ValidateChunk(len(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrOversizedChunk, err)
	}
	return t.writeAt(position, data)
}

// HandleChunkRequest reads the chunk a friend asked for and sends it. A zero
// length request completes the transfer.
func (m *Manager) HandleChunkRequest(friendID, fileID uint32, position uint64, length int) ([]byte, error) {
	key := transferKey{friendID: friendID, fileID: fileID}

	m.mu.Lock()
	t, ok := m.transfers[key]
	if !ok || t.Direction != TransferDirectionOutgoing {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":  "HandleChunkRequest",
			"friend_id": friendID,
			"file_id":   fileID,
		}).Debug("Chunk request for unknown outgoing transfer ignored")
		return nil, nil
	}

	if length <= 0 {
		err := m.removeLocked(key, metrics.OutcomeCompleted)
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":  "HandleChunkRequest",
			"friend_id": friendID,
			"file_id":   fileID,
			"sent":      t.Position,
		}).Info("Outgoing transfer completed")

		if err != nil {
			return nil, fmt.Errorf("friend %d file %d: %w", friendID, fileID, err)
		}
		return nil, nil
	}

	data, err := t.readAt(position, length)
	if err != nil {
		m.removeLocked(key, metrics.OutcomeFailed)
		m.mu.Unlock()
		m.control(friendID, fileID, transport.FileControlCancel)
		return nil, fmt.Errorf("friend %d file %d: %w", friendID, fileID, err)
	}
	m.metrics.TransferBytes.WithLabelValues(t.Direction.String()).Add(float64(len(data)))
	m.mu.Unlock()

	if err := m.transport.FileSendChunk(friendID, fileID, position, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "HandleChunkRequest",
			"friend_id": friendID,
			"file_id":   fileID,
			"position":  position,
			"error":     err.Error(),
		}).Warn("Transport rejected chunk, dropping")
	}

	return data, nil
}

// HandleControl applies a control command from a friend. Only cancel has a
// local effect.
func (m *Manager) HandleControl(friendID, fileID uint32, control transport.FileControl) error {
	fields := logrus.Fields{
		"function":  "HandleControl",
		"friend_id": friendID,
		"file_id":   fileID,
		"control":   control.String(),
	}

	switch control {
	case transport.FileControlResume, transport.FileControlPause:
		logrus.WithFields(fields).Info("Transfer control received")
		return nil
	case transport.FileControlCancel:
	default:
		return fmt.Errorf("friend %d file %d control %d: %w", friendID, fileID, uint8(control), ErrUnknownControl)
	}

	key := transferKey{friendID: friendID, fileID: fileID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transfers[key]; !ok {
		logrus.WithFields(fields).Debug("Cancel for unknown transfer ignored")
		return nil
	}

	logrus.WithFields(fields).Info("Transfer cancelled by friend")
	return m.removeLocked(key, metrics.OutcomeCancelled)
}

// SendFile offers the file at path to a friend. An empty name uses the base
// name of path.
func (m *Manager) SendFile(friendID uint32, path, name string) (uint32, error) {
	if name == "" {
		name = filepath.Base(path)
	}

	handle, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrResource, path, err)
	}
	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return 0, fmt.Errorf("%w: stat %s: %w", ErrResource, path, err)
	}
	if !info.Mode().IsRegular() {
		handle.Close()
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrResource, path)
	}

	return m.offer(friendID, transport.FileKindData, handle, uint64(info.Size()), nil, name, path)
}

// SendAvatar offers the avatar at path. Its SHA-256 digest is used as both
// the file id and the file name so friends can skip avatars they already hold.
func (m *Manager) SendAvatar(friendID uint32, path string) (uint32, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: read avatar %s: %w", ErrResource, path, err)
	}
	sum := sha256.Sum256(content)

	handle, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open avatar %s: %w", ErrResource, path, err)
	}

	return m.offer(friendID, transport.FileKindAvatar, handle, uint64(len(content)), sum[:], hex.EncodeToString(sum[:]), path)
}

func (m *Manager) offer(friendID uint32, kind transport.FileKind, handle *os.File, size uint64, id []byte, name, path string) (uint32, error) {
	fileID, err := m.transport.FileSend(friendID, kind, size, id, name)
	if err != nil {
		handle.Close()
		return 0, fmt.Errorf("%w: offer %s to friend %d: %w", transport.ErrTransport, name, friendID, err)
	}

	if id == nil {
		id, err = m.transport.FileGetFileID(friendID, fileID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "SendFile",
				"friend_id": friendID,
				"file_id":   fileID,
				"error":     err.Error(),
			}).Warn("Could not read back file id")
		}
	}

	m.register(&Transfer{
		FriendID:  friendID,
		FileID:    fileID,
		Direction: TransferDirectionOutgoing,
		Kind:      kind,
		FileSize:  size,
		ID:        id,
		FileName:  name,
		Path:      path,
		StartTime: time.Now(),
		handle:    handle,
	})

	logrus.WithFields(logrus.Fields{
		"function":  "SendFile",
		"friend_id": friendID,
		"file_id":   fileID,
		"kind":      kind.String(),
		"file_name": name,
		"file_size": size,
	}).Info("Outgoing transfer offered")

	return fileID, nil
}

// PeerLost closes every transfer with a friend.
func (m *Manager) PeerLost(friendID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, key := range m.keysLocked(func(k transferKey) bool { return k.friendID == friendID }) {
		err = multierr.Append(err, m.removeLocked(key, metrics.OutcomePeerLost))
	}
	return err
}

// Close closes every transfer.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for _, key := range m.keysLocked(func(transferKey) bool { return true }) {
		err = multierr.Append(err, m.removeLocked(key, metrics.OutcomeShutdown))
	}
	return err
}

// keysLocked returns the matching keys in a stable order.
func (m *Manager) keysLocked(match func(transferKey) bool) []transferKey {
	keys := make([]transferKey, 0, len(m.transfers))
	for key := range m.transfers {
		if match(key) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].friendID != keys[j].friendID {
			return keys[i].friendID < keys[j].friendID
		}
		return keys[i].fileID < keys[j].fileID
	})
	return keys
}

// register stores t, closing any stale transfer that still holds its number.
func (m *Manager) register(t *Transfer) {
	key := transferKey{friendID: t.FriendID, fileID: t.FileID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transfers[key]; exists {
		logrus.WithFields(logrus.Fields{
			"function":  "register",
			"friend_id": t.FriendID,
			"file_id":   t.FileID,
		}).Warn("Transfer number reused, closing stale transfer")
		if err := m.removeLocked(key, metrics.OutcomeFailed); err != nil {
			logrus.WithError(err).Warn("Closing stale transfer failed")
		}
	}

	m.transfers[key] = t
	m.metrics.TransfersActive.WithLabelValues(t.Direction.String(), t.Kind.String()).Inc()
}

// removeLocked closes the handle and drops the entry. The entry is dropped
// even when closing fails.
func (m *Manager) removeLocked(key transferKey, outcome string) error {
	t, ok := m.transfers[key]
	if !ok {
		return nil
	}
	delete(m.transfers, key)

	m.metrics.TransfersActive.WithLabelValues(t.Direction.String(), t.Kind.String()).Dec()
	m.metrics.TransfersFinished.WithLabelValues(t.Direction.String(), outcome).Inc()

	logrus.WithFields(logrus.Fields{
		"function":  "removeLocked",
		"friend_id": key.friendID,
		"file_id":   key.fileID,
		"outcome":   outcome,
	}).Debug("Transfer removed")

	return t.close()
}

// control sends a control command. Refusals are logged and dropped.
func (m *Manager) control(friendID, fileID uint32, control transport.FileControl) {
	if err := m.transport.FileControl(friendID, fileID, control); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "control",
			"friend_id": friendID,
			"file_id":   fileID,
			"control":   control.String(),
			"error":     err.Error(),
		}).Warn("Transport rejected file control")
	}
}
