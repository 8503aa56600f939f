package storepb

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorKind classifies the errors the client core can surface, per
// spec §7. Kinds let the dispatcher and catalog resolver decide
// whether a failure should drive cache invalidation and retry, or
// propagate to the caller unaltered.
type ErrorKind int

const (
	// KindUnknown is the zero value; errors of this kind are always
	// terminal (never drive a cache refresh).
	KindUnknown ErrorKind = iota
	// KindMasterNotRunning: master unreachable or probe-false after N tries.
	KindMasterNotRunning
	// KindNoServerForRegion: root unlocatable, or a region exists but
	// has no assignment after N tries.
	KindNoServerForRegion
	// KindRegionNotFound: zero matching rows in meta for the requested table.
	KindRegionNotFound
	// KindNotServingRegion: relayed from a region server; drives
	// invalidate-and-retry at the dispatcher.
	KindNotServingRegion
	// KindWrongRegion: relayed from a region server; semantically
	// equivalent to KindNotServingRegion for retry purposes.
	KindWrongRegion
	// KindTableOffline: a user table's region is marked offline during
	// a catalog scan.
	KindTableOffline
	// KindInvalidColumnName relays a server-side column-name rejection.
	KindInvalidColumnName
	// KindLockException relays a server-side row-lock conflict.
	KindLockException
	// KindTableNotDisabled relays a server-side precondition failure on
	// an admin operation requiring a disabled table.
	KindTableNotDisabled
	// KindIllegalArgument: empty/zero-length table or row key, or use
	// of a reserved table name.
	KindIllegalArgument
	// KindNoActiveSession: mutation call without a preceding successful begin.
	KindNoActiveSession
	// KindNotOpen: a directory lookup was attempted for a table that
	// has not been opened on this client (spec §4.C).
	KindNotOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindMasterNotRunning:
		return "MasterNotRunning"
	case KindNoServerForRegion:
		return "NoServerForRegion"
	case KindRegionNotFound:
		return "RegionNotFound"
	case KindNotServingRegion:
		return "NotServingRegion"
	case KindWrongRegion:
		return "WrongRegion"
	case KindTableOffline:
		return "TableOffline"
	case KindInvalidColumnName:
		return "InvalidColumnName"
	case KindLockException:
		return "LockException"
	case KindTableNotDisabled:
		return "TableNotDisabled"
	case KindIllegalArgument:
		return "IllegalArgument"
	case KindNoActiveSession:
		return "NoActiveSession"
	case KindNotOpen:
		return "NotOpen"
	default:
		return "Unknown"
	}
}

// KindedError is a client-core error carrying one of the ErrorKind
// values above. All errors returned by this module's public API that
// originate here (as opposed to being relayed verbatim from an RPC
// transport failure) implement this interface. The underlying err is
// built with errors.Newf/errors.Wrapf rather than fmt.Sprintf, so a
// wrapped cause stays reachable through the usual errors.Is/As chain.
type KindedError struct {
	kind ErrorKind
	err  error
}

func (e *KindedError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }

func (e *KindedError) Unwrap() error { return e.err }

// Kind returns the classifying ErrorKind of e.
func (e *KindedError) Kind() ErrorKind { return e.kind }

// NewError constructs a KindedError of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) error {
	return &KindedError{kind: kind, err: errors.Newf(format, args...)}
}

// WrapError constructs a KindedError of the given kind wrapping cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) error {
	return &KindedError{kind: kind, err: errors.Wrapf(cause, format, args...)}
}

// KindOf extracts the ErrorKind from err, walking wrapped causes via
// errors.As. Returns KindUnknown if err does not carry a KindedError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsStaleLocationError reports whether err is one of the three kinds
// that drive cache invalidation and retry at the dispatcher and the
// update-session Begin (spec §4.E "error classification").
func IsStaleLocationError(err error) bool {
	switch KindOf(err) {
	case KindNotServingRegion, KindWrongRegion, KindRegionNotFound:
		return true
	default:
		return false
	}
}
