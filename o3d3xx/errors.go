package o3d3xx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Driver error codes. Faults raised by the device arrive with its own
// positive codes and pass through untouched; failures detected by the
// driver itself use the negative codes below so the two spaces never
// collide.
const (
	CodeXMLRPCFailure = -9000
	CodeXMLRPCTimeout = -9001
	CodePCICFormat    = -9002
	CodeFrameTimeout  = -9003
	CodeValueError    = -9004
)

// Error is a device or protocol failure carrying the numeric code that
// admin operations report as their status.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("o3d3xx: code=%d %s", e.Code, e.Msg)
}

func newError(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// ErrFrameTimeout reports that no frame arrived within the configured wait.
var ErrFrameTimeout = &Error{Code: CodeFrameTimeout, Msg: "timeout waiting for camera frame"}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}

// IsFrameTimeout reports whether err is a frame wait expiring.
func IsFrameTimeout(err error) bool {
	return errors.Is(err, ErrFrameTimeout)
}
