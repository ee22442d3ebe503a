package cyton

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks a failed read or write on the serial transport.
	// Transport failures are fatal; nothing is retried.
	ErrTransport = errors.New("transport failure")
	// ErrHandshake marks a setup response that lacked the expected text.
	ErrHandshake = errors.New("setup handshake failed")
	// ErrFrameLength is returned when decoding a frame that is not FrameSize bytes.
	ErrFrameLength = errors.New("frame must be 32 bytes")
	// ErrAlreadyStarted is returned by Setup or Start once the loop owns the transport.
	ErrAlreadyStarted = errors.New("acquisition already started")
	// ErrSetupInProgress is returned by Setup or Start while a handshake runs.
	ErrSetupInProgress = errors.New("device setup in progress")
	// ErrSetupFailed is returned by Start after an unsuccessful Setup.
	ErrSetupFailed = errors.New("device setup failed; acquisition not started")
)

// HandshakeError describes which setup step did not receive the expected
// response.
type HandshakeError struct {
	Step     string
	Expected string
	Received string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: expected %q in response, got %q", e.Step, e.Expected, e.Received)
}

// Unwrap lets errors.Is match ErrHandshake.
func (e *HandshakeError) Unwrap() error {
	return ErrHandshake
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
