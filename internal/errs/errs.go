// Package errs provides kind-tagged errors for the sync and deploy paths.
// Call sites inspect failures by kind with Is or KindOf instead of by type.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are strings so they read well in logs.
type Kind string

const (
	// KindUnknown is reported for errors that carry no kind.
	KindUnknown Kind = "UNKNOWN"

	// KindInvalidRemoteURL indicates a malformed remote URL. Not retryable.
	KindInvalidRemoteURL Kind = "INVALID_REMOTE_URL"

	// KindCrypto indicates a credential or decryption failure. Not retryable.
	KindCrypto Kind = "CRYPTO"

	// KindServiceLayer wraps an underlying git or transport failure.
	KindServiceLayer Kind = "SERVICE_LAYER"

	// KindSiteNotFound indicates the site is not known to the catalog.
	KindSiteNotFound Kind = "SITE_NOT_FOUND"

	// KindGitAPI indicates a single git operation failed.
	KindGitAPI Kind = "GIT_API"
)

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E tags err with kind. A nil err still yields an error, so E can
// describe failures that have no underlying cause.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kind-tagged error from a format string. %w verbs are
// preserved in the cause chain.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether any error in err's chain is tagged with kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
