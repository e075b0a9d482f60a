package memo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	// ErrBinding is matched by every *BindingError.
	ErrBinding = errors.New("argument binding failed")

	// ErrFingerprint is matched by every *FingerprintError.
	ErrFingerprint = errors.New("value cannot be fingerprinted")

	// ErrLockTimeout is matched by every *LockTimeoutError.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrMissingResource is returned when a slot is read or stat'ed but does not exist.
	ErrMissingResource = errors.New("missing resource")
)

// BindingError reports that call arguments do not match the declared parameter list.
// It may carry several problems at once (an unknown keyword and a missing parameter).
type BindingError struct {
	Func   string
	Errors []error
}

// Error implements the error interface.
func (be *BindingError) Error() string {
	if len(be.Errors) == 0 {
		return fmt.Sprintf("binding %s failed", be.Func)
	}
	if len(be.Errors) == 1 {
		return fmt.Sprintf("binding %s failed: %v", be.Func, be.Errors[0])
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("binding %s failed with %d errors:\n", be.Func, len(be.Errors)))
	for i, err := range be.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
func (be *BindingError) Unwrap() []error {
	return be.Errors
}

// Is reports whether target is ErrBinding.
func (be *BindingError) Is(target error) bool {
	return target == ErrBinding
}

// newBindingError creates a BindingError from a slice of errors.
// Returns nil if the slice is empty.
func newBindingError(fn string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &BindingError{Func: fn, Errors: errs}
}

// FingerprintError reports a value that has no stable representation.
type FingerprintError struct {
	Arg    string // parameter name, empty for the function identity
	Path   string // location inside the value, e.g. "[2].Conn"
	Reason string
}

// Error implements the error interface.
func (fe *FingerprintError) Error() string {
	loc := fe.Arg
	if fe.Path != "" {
		loc += fe.Path
	}
	if loc == "" {
		return "fingerprint: " + fe.Reason
	}
	return fmt.Sprintf("fingerprint %s: %s", loc, fe.Reason)
}

// Is reports whether target is ErrFingerprint.
func (fe *FingerprintError) Is(target error) bool {
	return target == ErrFingerprint
}

// LockTimeoutError is returned when a slot lock could not be acquired in time.
// It is never retried by this package.
type LockTimeoutError struct {
	Slot    string
	Timeout time.Duration
}

// Error implements the error interface.
func (le *LockTimeoutError) Error() string {
	if le.Timeout == 0 {
		return fmt.Sprintf("lock %s is held by another owner", le.Slot)
	}
	return fmt.Sprintf("lock %s not acquired within %s", le.Slot, le.Timeout)
}

// Is reports whether target is ErrLockTimeout.
func (le *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// MissingResourceError reports an absent slot.
// Seen from Memo.Call after a successful write it means the store is broken
// or the storage root was modified behind the cache's back.
type MissingResourceError struct {
	ID ResourceID
}

// Error implements the error interface.
func (me *MissingResourceError) Error() string {
	return fmt.Sprintf("resource %s does not exist", me.ID)
}

// Is reports whether target is ErrMissingResource.
func (me *MissingResourceError) Is(target error) bool {
	return target == ErrMissingResource
}
