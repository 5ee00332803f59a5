package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies a failure for retry and reporting purposes.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindUnreachable    Kind = "unreachable"
	KindTimeout        Kind = "timeout"
	KindMalformed      Kind = "malformed"
	KindRejected       Kind = "rejected"
	KindVerifyMismatch Kind = "verify_mismatch"
	KindCancelled      Kind = "cancelled"
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unreachable marks err as a connection-level failure.
func Unreachable(op string, err error) error { return wrap(KindUnreachable, op, err) }

// Timeout marks err as a call that ran out of time.
func Timeout(op string, err error) error { return wrap(KindTimeout, op, err) }

// Malformed marks err as an uninterpretable response.
func Malformed(op string, err error) error { return wrap(KindMalformed, op, err) }

// Rejected marks err as a request refused by the target service.
func Rejected(op string, err error) error { return wrap(KindRejected, op, err) }

// VerifyMismatch marks err as a post-apply state disagreement.
func VerifyMismatch(op string, err error) error { return wrap(KindVerifyMismatch, op, err) }

// Cancelled marks err as work abandoned because the run was cancelled.
func Cancelled(op string, err error) error { return wrap(KindCancelled, op, err) }

// FromTransport classifies an error returned by a network client call.
// Errors that already carry a Kind are returned unchanged.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	switch Classify(err) {
	case KindTimeout:
		return Timeout(op, err)
	case KindCancelled:
		return Cancelled(op, err)
	default:
		return Unreachable(op, err)
	}
}

// Classify reports the Kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return KindUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindUnreachable
	}

	return KindUnknown
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	switch Classify(err) {
	case KindUnreachable, KindTimeout:
		return true
	default:
		return false
	}
}
