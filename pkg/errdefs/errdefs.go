// Package errdefs defines the error taxonomy shared by the deployment and
// blue/green components. Workers map these to job statuses: precondition
// errors become "aborted", everything else "failed".
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error
type Kind string

const (
	KindGit          Kind = "git"
	KindPackaging    Kind = "packaging"
	KindUpload       Kind = "upload"
	KindCloud        Kind = "cloud"
	KindPrecondition Kind = "precondition"
	KindManifest     Kind = "manifest"
)

var (
	// ErrNotFound is returned by repository lookups
	ErrNotFound = errors.New("not found")

	// ErrNoInstances is returned when instance discovery matched nothing
	ErrNoInstances = errors.New("no running instance found")

	// ErrConflict is returned when a write would break the blue/green exclusivity invariant
	ErrConflict = errors.New("blue/green state conflict")
)

// Error is a classified error. Op names the operation, Err is the cause
// (nil for precondition aborts, which carry only a reason in Op).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Git wraps a source clone, sync or checkout failure
func Git(op string, err error) error { return newError(KindGit, op, err) }

// Packaging wraps an archive creation failure
func Packaging(op string, err error) error { return newError(KindPackaging, op, err) }

// Upload wraps an object storage upload failure
func Upload(op string, err error) error { return newError(KindUpload, op, err) }

// Cloud wraps a provider API failure
func Cloud(op string, err error) error { return newError(KindCloud, op, err) }

// Manifest wraps a manifest read or write failure
func Manifest(op string, err error) error { return newError(KindManifest, op, err) }

// Abort reports a well-formed refusal to proceed
func Abort(format string, args ...interface{}) error {
	return &Error{Kind: KindPrecondition, Op: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in err's chain has the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsAbort reports whether err is a precondition abort
func IsAbort(err error) bool {
	return IsKind(err, KindPrecondition)
}
