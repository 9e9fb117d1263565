// Package btreeerr defines the sentinel error kinds the core reports,
// per the error handling design: IoError, NotFound, NoSpace, CorruptPage.
package btreeerr

import "errors"

var (
	// ErrIO reports an underlying storage read/write/seek failure.
	ErrIO = errors.New("embbtree: io error")
	// ErrNotFound reports that a key is not present. Get callers see this
	// as a plain boolean result rather than an error; it exists as a
	// sentinel for callers that want the error form.
	ErrNotFound = errors.New("embbtree: key not found")
	// ErrNoSpace reports that another page or another active-path level
	// could not be allocated.
	ErrNoSpace = errors.New("embbtree: no space")
	// ErrCorruptPage reports a structural check failure during recovery.
	ErrCorruptPage = errors.New("embbtree: corrupt page")
	// ErrInvalidConfig reports a configuration that fails validation
	// before any storage is touched.
	ErrInvalidConfig = errors.New("embbtree: invalid config")
)

// Code is a closed enumeration mirroring the error sentinels above, for call
// sites that want to switch on kind without repeated errors.Is checks.
type Code int

const (
	CodeOK Code = iota
	CodeIO
	CodeNotFound
	CodeNoSpace
	CodeCorruptPage
	CodeInvalidConfig
)

// CodeOf classifies err into one of the kinds above. A nil error yields
// CodeOK; an error that matches none of the sentinels is treated as I/O,
// the catch-all kind for anything bubbling up from the backing store.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNoSpace):
		return CodeNoSpace
	case errors.Is(err, ErrCorruptPage):
		return CodeCorruptPage
	case errors.Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	default:
		return CodeIO
	}
}
