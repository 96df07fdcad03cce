package kremis

import "fmt"

// ErrorKind distinguishes the error taxonomy of spec §7. Every fallible
// Kremis-Core operation surfaces one of these kinds to its caller; none are
// logged-and-swallowed internally.
type ErrorKind string

const (
	KindInvalidSignal      ErrorKind = "invalid_signal"
	KindNodeNotFound       ErrorKind = "node_not_found"
	KindEdgeNotFound       ErrorKind = "edge_not_found"
	KindBackendIo          ErrorKind = "backend_io"
	KindTxnConflict        ErrorKind = "txn_conflict"
	KindBackendLocked      ErrorKind = "backend_locked"
	KindChecksumMismatch   ErrorKind = "checksum_mismatch"
	KindVersionUnsupported ErrorKind = "version_unsupported"
	KindImportTooLarge     ErrorKind = "import_too_large"
	KindPayloadTooLarge    ErrorKind = "payload_too_large"
	KindSerialization      ErrorKind = "serialization"
)

// Error is the single error type Kremis-Core returns. Kind identifies the
// taxonomy entry; Reason is a human-readable, byte-identical-across-backends
// description of what went wrong; Err, when present, is the underlying cause
// (a backend or codec error) and participates in errors.Unwrap/errors.Is.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, &kremis.Error{Kind: kremis.KindNodeNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func wrapErr(kind ErrorKind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// NewInvalidSignal builds an InvalidSignal error naming the offending field
// and limit, per spec §4.a.
func NewInvalidSignal(reason string) *Error { return newErr(KindInvalidSignal, reason) }

// NewNodeNotFound builds a NodeNotFound error for the given node.
func NewNodeNotFound(node NodeId) *Error {
	return newErr(KindNodeNotFound, fmt.Sprintf("node %d not found", node))
}

// NewEdgeNotFound builds an EdgeNotFound error for the given ordered pair.
func NewEdgeNotFound(from, to NodeId) *Error {
	return newErr(KindEdgeNotFound, fmt.Sprintf("edge %d->%d not found", from, to))
}

// NewBackendIo wraps a storage-level failure.
func NewBackendIo(reason string, cause error) *Error {
	return wrapErr(KindBackendIo, reason, cause)
}

// NewTxnConflict reports a transaction that could not commit.
func NewTxnConflict(reason string, cause error) *Error {
	return wrapErr(KindTxnConflict, reason, cause)
}

// NewBackendLocked reports that the persistent backend is already open by
// another process.
func NewBackendLocked(path string) *Error {
	return newErr(KindBackendLocked, fmt.Sprintf("backend at %q is locked by another process", path))
}

// NewChecksumMismatch reports a canonical-import checksum failure.
func NewChecksumMismatch() *Error {
	return newErr(KindChecksumMismatch, "canonical payload checksum mismatch")
}

// NewVersionUnsupported reports an unknown codec version.
func NewVersionUnsupported(version uint32) *Error {
	return newErr(KindVersionUnsupported, fmt.Sprintf("unsupported codec version %d", version))
}

// NewImportTooLarge reports a canonical import exceeding the node/edge caps.
func NewImportTooLarge(reason string) *Error {
	return newErr(KindImportTooLarge, reason)
}

// NewPayloadTooLarge reports a persistence payload exceeding the size cap.
func NewPayloadTooLarge(reason string) *Error {
	return newErr(KindPayloadTooLarge, reason)
}

// NewSerialization reports malformed codec bytes.
func NewSerialization(reason string) *Error {
	return newErr(KindSerialization, reason)
}
