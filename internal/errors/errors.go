package errors

import (
	"context"
	"errors"
)

// Relay call outcomes. Every error returned by the relay client wraps
// exactly one of these.
var (
	// ErrTransport means the relay could not be reached.
	ErrTransport = errors.New("relay transport failure")
	// ErrProtocol means the relay answered, but not as expected.
	ErrProtocol = errors.New("unexpected relay response")
	// ErrTolerable marks an expected race with the relay's own state, such
	// as deleting a file that is already gone.
	ErrTolerable = errors.New("tolerable relay failure")
	// ErrPermanent means retrying cannot help, e.g. the token was rejected.
	ErrPermanent = errors.New("permanent relay failure")
	// ErrInvariant indicates a bug in the caller.
	ErrInvariant = errors.New("invariant violation")
)

// Store and pairing errors.
var (
	ErrNoSuchContact = errors.New("no such contact")
	ErrAlreadyPaired = errors.New("mailbox is already paired")
	ErrNotPaired     = errors.New("no mailbox is paired")
)

// Kind is the retry classification of an error.
type Kind int

const (
	KindNone Kind = iota
	KindRetryable
	KindTolerable
	KindPermanent
	KindInvariant
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindTolerable:
		return "tolerable"
	case KindPermanent:
		return "permanent"
	case KindInvariant:
		return "invariant"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps err onto a Kind. Anything that is not explicitly
// tolerable, permanent or an invariant violation is retryable, which
// includes store failures and unclassified I/O errors.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTolerable):
		return KindTolerable
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrAlreadyPaired):
		return KindPermanent
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	default:
		return KindRetryable
	}
}
