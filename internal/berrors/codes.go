// Package berrors provides the structured error type Brainshape's engine
// packages return. Every error that crosses a package boundary (Store,
// Notes I/O, Sync, retrieval operations) is either a *BrainshapeError or
// wraps one, so callers can branch on Kind with errors.Is/errors.As
// instead of parsing messages.
package berrors

// Kind is the error taxonomy callers can branch on.
type Kind string

const (
	// KindPathEscape: a resolved path lies outside notes_root.
	KindPathEscape Kind = "path_escape"
	// KindNotFound: a referenced note/memory/entity does not exist.
	KindNotFound Kind = "not_found"
	// KindAlreadyExists: a write-create would overwrite an existing file.
	KindAlreadyExists Kind = "already_exists"
	// KindInvalidIdentifier: identifier sanitization failed.
	KindInvalidIdentifier Kind = "invalid_identifier"
	// KindReservedName: a reserved table name was used as a custom entity or relation.
	KindReservedName Kind = "reserved_name"
	// KindDimensionMismatch: chunk embedding length disagrees with the configured dimension.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindStoreUnavailable: bootstrap failed or the store connection is lost.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindQueryError: a raw query returned an error from the store.
	KindQueryError Kind = "query_error"
	// KindTimeout: a retrieval operation exceeded its caller-supplied deadline.
	KindTimeout Kind = "timeout"
	// KindParse: malformed frontmatter or an unreadable file.
	KindParse Kind = "parse"
	// KindInternal: anything not covered by the taxonomy above.
	KindInternal Kind = "internal"
)

// Severity mirrors how the caller should react.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

func severityForKind(k Kind) Severity {
	switch k {
	case KindStoreUnavailable, KindDimensionMismatch:
		return SeverityFatal
	case KindTimeout, KindQueryError:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func retryableForKind(k Kind) bool {
	switch k {
	case KindTimeout, KindStoreUnavailable:
		return true
	default:
		return false
	}
}
