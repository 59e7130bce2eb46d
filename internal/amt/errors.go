package amt

import (
	"errors"
	"fmt"

	"github.com/daemonp/amt2mqtt/internal/protocol"
)

var (
	// ErrNotConnected is returned immediately when no socket or peer is
	// attached.
	ErrNotConnected = errors.New("not connected to panel")
	ErrTimeout      = errors.New("timed out")
	// ErrPanelBusy means the panel refused the request for now. The socket
	// stays usable.
	ErrPanelBusy = errors.New("panel busy")
)

// ConnectionError covers dial failures, timeouts and closed sockets.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError means the session is out of sync with the panel: a bad
// checksum, a truncated frame or an unexpected response.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NackError is an explicit rejection by the panel.
type NackError struct {
	Code    byte
	Message string
}

func (e *NackError) Error() string {
	return fmt.Sprintf("panel rejected command: %s (0x%02X)", e.Message, e.Code)
}

// AuthenticationError is returned when the panel refuses the credential. A
// wrong password is not retried automatically; the other results are.
type AuthenticationError struct {
	Code   byte
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// Permanent reports whether retrying the same credential cannot succeed.
func (e *AuthenticationError) Permanent() bool {
	return e.Code == protocol.AuthWrongPassword
}

// IsAuthRejected reports whether err is a permanent authentication failure.
func IsAuthRejected(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr) && authErr.Permanent()
}

// IsTransient reports whether err is worth retrying after the next
// successful poll.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	var protoErr *ProtocolError
	var authErr *AuthenticationError
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrPanelBusy) ||
		errors.As(err, &connErr) ||
		errors.As(err, &protoErr) ||
		(errors.As(err, &authErr) && !authErr.Permanent())
}
