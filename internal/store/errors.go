package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports an unparseable path, stage, status or record.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound reports a lookup miss. Callers treat it as a warning.
	ErrNotFound = errors.New("not found")
	// ErrBusy reports that a lock could not be acquired within the bounded wait.
	ErrBusy = errors.New("store busy")
	// ErrCorrupt reports a store that failed its integrity check.
	ErrCorrupt = errors.New("store corrupt")
	// ErrAmbiguousMatch reports several equally plausible identity candidates.
	ErrAmbiguousMatch = errors.New("ambiguous match")
	// ErrIdentityCollision reports an id whose stored path differs from the resolved one.
	ErrIdentityCollision = fmt.Errorf("%w: identity collision", ErrCorrupt)
)

// ErrorClassifier allows errors to declare their classification for exit handling.
type ErrorClassifier interface {
	ErrorKind() string
}

// Error kinds returned by Kind.
const (
	KindInvalidInput = "invalid_input"
	KindNotFound     = "not_found"
	KindBusy         = "busy"
	KindCorrupt      = "corrupt"
	KindAmbiguous    = "ambiguous"
	KindInternal     = "internal"
)

// Kind maps an error to a stable classification string.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrCorrupt):
		return KindCorrupt
	case errors.Is(err, ErrAmbiguousMatch):
		return KindAmbiguous
	default:
		return KindInternal
	}
}

// IsFatal reports whether err should abort the caller. Only corruption is
// fatal; everything else is bookkeeping that can be repaired by re-import.
func IsFatal(err error) bool {
	return Kind(err) == KindCorrupt
}
