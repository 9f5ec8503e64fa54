package tutorhub

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConnected is returned by hub RPCs invoked while the connection
	// is not in the Connected state. Await Connect first.
	ErrNotConnected = errors.New("tutorhub: not connected")

	// ErrConnectionAborted is reported by a connect attempt that was
	// overtaken by Disconnect. It is benign: callers log and move on.
	ErrConnectionAborted = errors.New("tutorhub: connection aborted by disconnect")

	// ErrClientClosed is returned once Disconnect has completed and a
	// pending invocation can no longer be answered.
	ErrClientClosed = errors.New("tutorhub: client closed")

	// ErrNoCredential is the cause of a ConnectionError raised when the
	// token factory yields no token.
	ErrNoCredential = errors.New("no authentication credential available")

	// ErrCredentialExpired is the cause of a ConnectionError raised when the
	// token factory yields a JWT whose exp is in the past.
	ErrCredentialExpired = errors.New("authentication credential expired")
)

// ConnectionError reports a failed connect attempt.
type ConnectionError struct {
	Op  string // "credential", "negotiate", "dial", "handshake"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tutorhub: connect (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvocationError is a hub method failure reported by the server in a
// completion record.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tutorhub: %s failed: %s", e.Target, e.Message)
}

// Error codes the backend embeds in error responses. Domain conflicts are
// matched on these, not on the HTTP status.
const (
	CodeBookingAlreadyPaid   = "BOOKING_ALREADY_PAID"
	CodeBookingExpired       = "BOOKING_EXPIRED"
	CodePaymentExpired       = "PAYMENT_EXPIRED"
	CodeInsufficientBalance  = "INSUFFICIENT_WALLET_BALANCE"
	CodeBookingInvalidStatus = "BOOKING_INVALID_STATUS"
	CodeNotFound             = "NOT_FOUND"
)

// APIError is a non-2xx REST response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// ErrorCode returns the backend error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsAlreadyPaid reports whether err says the booking has been paid.
func IsAlreadyPaid(err error) bool {
	return ErrorCode(err) == CodeBookingAlreadyPaid
}

// IsExpired reports whether err says the booking or its payment window
// has expired.
func IsExpired(err error) bool {
	code := ErrorCode(err)
	return code == CodeBookingExpired || code == CodePaymentExpired
}

// IsNotFound reports whether err is a 404 or carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeNotFound || apiErr.StatusCode == http.StatusNotFound
}
