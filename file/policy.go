package file

import (
	"os"

	"github.com/opd-ai/toxecho/config"
	"github.com/opd-ai/toxecho/limits"
	"github.com/opd-ai/toxecho/transport"
)

// Decision is the outcome of an admission check.
type Decision uint8

const (
	// Reject declines the offer. It is a normal outcome, not an error.
	Reject Decision = iota
	// Accept takes the offer.
	Accept
)

// String returns the label used in logs and metrics.
func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Rejection reasons reported to metrics.
const (
	reasonOK          = "ok"
	reasonStream      = "stream"
	reasonCap         = "per_peer_cap"
	reasonDisabled    = "disabled"
	reasonTooLarge    = "too_large"
	reasonNoDirectory = "no_directory"
)

// Policy decides which incoming file offers are taken.
type Policy struct {
	AcceptFiles bool
	// MaxFileSize of zero means unlimited.
	MaxFileSize uint64
	FilesPath   string

	AcceptAvatars bool
	MaxAvatarSize uint64
	AvatarsPath   string

	MaxTransfersPerPeer int
}

// PolicyFromOptions builds the admission policy from bot options.
func PolicyFromOptions(o *config.Options) Policy {
	return Policy{
		AcceptFiles:         o.AcceptFiles,
		MaxFileSize:         o.MaxFileSize,
		FilesPath:           o.FilesPath,
		AcceptAvatars:       o.AcceptAvatars,
		MaxAvatarSize:       o.MaxAvatarSize,
		AvatarsPath:         o.AvatarsPath,
		MaxTransfersPerPeer: o.MaxTransfersPerPeer,
	}
}

func (p Policy) cap() int {
	if p.MaxTransfersPerPeer <= 0 {
		return limits.DefaultMaxTransfersPerPeer
	}
	return p.MaxTransfersPerPeer
}

// directory returns the target directory for kind.
func (p Policy) directory(kind transport.FileKind) string {
	if kind == transport.FileKindAvatar {
		return p.AvatarsPath
	}
	return p.FilesPath
}

// evaluate applies the rules in order: streams, the per-peer cap, then the
// kind-specific gate. active is the friend's current transfer count.
func (p Policy) evaluate(kind transport.FileKind, size uint64, active int) (Decision, string, error) {
	var (
		enabled bool
		ceiling uint64
	)
	switch kind {
	case transport.FileKindData:
		enabled, ceiling = p.AcceptFiles, p.MaxFileSize
	case transport.FileKindAvatar:
		enabled, ceiling = p.AcceptAvatars, p.MaxAvatarSize
	default:
		return Reject, "", ErrUnknownKind
	}

	if size == 0 || size == transport.FileSizeUnknown {
		return Reject, reasonStream, nil
	}
	if active >= p.cap() {
		return Reject, reasonCap, nil
	}
	if !enabled {
		return Reject, reasonDisabled, nil
	}
	if ceiling != 0 && size > ceiling {
		return Reject, reasonTooLarge, nil
	}
	if !isDir(p.directory(kind)) {
		return Reject, reasonNoDirectory, nil
	}
	return Accept, reasonOK, nil
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
