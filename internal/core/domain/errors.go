package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCaptureDenied      = errors.New("screen capture permission denied")
	ErrNoCaptureSource    = errors.New("no capturable surface available")
	ErrEmptyCode          = errors.New("access code is empty")
	ErrInvalidCode        = errors.New("access code is invalid")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSignalingTimeout   = errors.New("signaling timed out")
	ErrSignalingTransport = errors.New("signaling transport failure")
	ErrNegotiationFailed  = errors.New("peer connection failed to establish")
	ErrNegotiationTimeout = errors.New("peer connection negotiation timed out")
	ErrSessionBusy        = errors.New("session operation already in progress")
	ErrSessionClosed      = errors.New("session closed")
	ErrInvalidTransition  = errors.New("invalid peer state transition")
	ErrViewerLeft         = errors.New("viewer left before answering")
)

// User-facing messages paired with StatusError.
const (
	MessageCaptureFailed     = "Failed to access screen share. Please try again."
	MessageInvalidCode       = "Invalid access code. Please check and try again."
	MessageEmptyCode         = "Please enter a valid access code."
	MessageSignalingTimeout  = "The other side did not respond in time. Please try again."
	MessageSignalingFailure  = "Could not reach the signaling server. Please try again."
	MessageNegotiationFailed = "Failed to establish a connection. Please try again."
	MessageSessionEnded      = "The session has ended."
)

type ErrorKind string

const (
	KindCapture     ErrorKind = "capture"
	KindValidation  ErrorKind = "validation"
	KindSignaling   ErrorKind = "signaling"
	KindNegotiation ErrorKind = "negotiation"
)

// SessionError places a failure in the session error taxonomy.
type SessionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewSessionError(kind ErrorKind, op string, err error) *SessionError {
	return &SessionError{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Unknown errors count as negotiation failures.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrCaptureDenied), errors.Is(err, ErrNoCaptureSource):
		return KindCapture
	case errors.Is(err, ErrEmptyCode), errors.Is(err, ErrInvalidCode):
		return KindValidation
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSignalingTimeout), errors.Is(err, ErrSignalingTransport):
		return KindSignaling
	default:
		return KindNegotiation
	}
}

// IsRetryable reports whether a signaling call may be retried with backoff.
// Only timeouts and transport failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSignalingTimeout) || errors.Is(err, ErrSignalingTransport)
}

// UserMessage maps an error to the human string shown with StatusError.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCaptureDenied), errors.Is(err, ErrNoCaptureSource):
		return MessageCaptureFailed
	case errors.Is(err, ErrEmptyCode):
		return MessageEmptyCode
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrSessionNotFound):
		return MessageInvalidCode
	case errors.Is(err, ErrSignalingTimeout):
		return MessageSignalingTimeout
	case errors.Is(err, ErrSignalingTransport):
		return MessageSignalingFailure
	case errors.Is(err, ErrSessionClosed):
		return MessageSessionEnded
	default:
		return MessageNegotiationFailed
	}
}
