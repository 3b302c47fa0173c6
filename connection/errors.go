package connection

import (
	"fmt"

	"github.com/opd-ai/toxecho/transport"
)

// ErrUnknownStatus indicates a status value outside none, tcp and udp.
var ErrUnknownStatus = fmt.Errorf("unknown connection status: %w", transport.ErrProtocolViolation)
