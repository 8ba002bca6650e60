package editor

import "errors"

// Operation-level failure classes. All but ErrStoreUnavailable are
// reported to the originating session only and never mutate state.
var (
	ErrNotFound         = errors.New("document not found")
	ErrFromTheFuture    = errors.New("operation base version is ahead of the document")
	ErrTooStale         = errors.New("operation base version predates the retained history")
	ErrInvalid          = errors.New("operation failed validation")
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// ErrorKind maps an authority error to the protocol error kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrFromTheFuture):
		return "FromTheFuture"
	case errors.Is(err, ErrTooStale):
		return "TooStale"
	case errors.Is(err, ErrInvalid):
		return "Invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "Internal"
	default:
		return "Internal"
	}
}
