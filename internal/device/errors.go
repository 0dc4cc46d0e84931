package device

import "errors"

var (
	// ErrNotConnected is returned by every I/O operation while no transport is open.
	ErrNotConnected = errors.New("not connected to device")

	// Open failures. Transports wrap their native errors with one of these so
	// callers can tell a missing board from a busy one.
	ErrDeviceNotFound   = errors.New("device not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrPortBusy         = errors.New("port is held by another process")
	ErrNotReady         = errors.New("device not ready")

	// ErrProtocol wraps raw REPL handshake and execution failures.
	ErrProtocol = errors.New("raw repl protocol error")
)
