package rnat

import (
	"errors"
	"fmt"
)

// ErrDropPacket is matched (via errors.Is) by every error meaning the
// packet must not be forwarded.
var ErrDropPacket = errors.New("drop packet")

var (
	ErrNoRoute                = fmt.Errorf("%w: no route to destination", ErrDropPacket)
	ErrDirectionIndeterminate = fmt.Errorf("%w: interface pair is neither inbound nor outbound", ErrDropPacket)
	ErrNoMapping              = fmt.Errorf("%w: no mapping for external identifier", ErrDropPacket)
	ErrUnsolicited            = fmt.Errorf("%w: unsolicited inbound segment queued", ErrDropPacket)
)

// ErrCounterExhausted is returned when every external identifier of a kind
// is held by a live mapping.
var ErrCounterExhausted = errors.New("external identifier space exhausted")
