package memo

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// Decision is everything a Decider may look at. It is evaluated while the
// slot lock is held.
type Decision struct {
	ID     ResourceID
	Exists bool
	Args   Bound
	Slot   SlotInfo // zero when !Exists
	Now    time.Time
}

// Decider answers whether the slot for a call must be recomputed.
// Implementations must return true when the slot does not exist and must not
// mutate anything.
type Decider interface {
	ShouldUpdate(ctx context.Context, d Decision) (bool, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, d Decision) (bool, error)

// ShouldUpdate implements Decider.
func (f DeciderFunc) ShouldUpdate(ctx context.Context, d Decision) (bool, error) {
	if !d.Exists {
		return true, nil
	}
	return f(ctx, d)
}

type absentDecider struct{}

// Absent returns the default Decider: recompute only when the slot is absent.
func Absent() Decider {
	return absentDecider{}
}

func (absentDecider) ShouldUpdate(_ context.Context, d Decision) (bool, error) {
	return !d.Exists, nil
}

// TimeRef selects which slot timestamp a TimeoutDecider measures from.
type TimeRef int

const (
	// ModTime measures from the last write.
	ModTime TimeRef = iota
	// AccessTime measures from the last access as reported by the filesystem.
	AccessTime
)

func (r TimeRef) String() string {
	switch r {
	case ModTime:
		return "modified"
	case AccessTime:
		return "accessed"
	default:
		return fmt.Sprintf("TimeRef(%d)", int(r))
	}
}

// ParseTimeRef parses "modified" or "accessed".
func ParseTimeRef(s string) (TimeRef, error) {
	switch s {
	case "", "modified", "mtime":
		return ModTime, nil
	case "accessed", "atime":
		return AccessTime, nil
	default:
		return ModTime, fmt.Errorf("unknown time reference %q", s)
	}
}

// TimeoutDecider expires slots a fixed duration after their reference time.
type TimeoutDecider struct {
	// Timeout < 0 disables expiry: a written slot never goes stale.
	Timeout time.Duration
	Ref     TimeRef
}

// Timeout returns a TimeoutDecider.
func Timeout(timeout time.Duration, ref TimeRef) *TimeoutDecider {
	return &TimeoutDecider{Timeout: timeout, Ref: ref}
}

// ShouldUpdate implements Decider.
func (t *TimeoutDecider) ShouldUpdate(_ context.Context, d Decision) (bool, error) {
	if !d.Exists {
		return true, nil
	}
	if t.Timeout < 0 {
		return false, nil
	}

	ref := d.Slot.ModTime
	if t.Ref == AccessTime {
		ref = d.Slot.AccessTime
	}
	return d.Now.Sub(ref) > t.Timeout, nil
}

// ArgChecker is implemented by Deciders that need particular arguments.
// CheckArgs runs before the slot lock is taken, so a call without them fails
// like any other binding error.
type ArgChecker interface {
	CheckArgs(args Bound) error
}

// CompareDecider recomputes when an upstream input file, named by one of the
// call arguments, was modified after the slot.
type CompareDecider struct {
	Arg string
	Fs  afero.Fs
}

// Compare returns a CompareDecider reading input files from fs.
// A nil fs means the OS filesystem.
func Compare(arg string, fs afero.Fs) *CompareDecider {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CompareDecider{Arg: arg, Fs: fs}
}

// ShouldUpdate implements Decider.
func (c *CompareDecider) ShouldUpdate(_ context.Context, d Decision) (bool, error) {
	if !d.Exists {
		return true, nil
	}

	path, err := c.inputPath(d.Args)
	if err != nil {
		return false, err
	}

	info, err := c.Fs.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat input %s: %w", path, err)
	}
	return info.ModTime().After(d.Slot.ModTime), nil
}

// CheckArgs implements ArgChecker.
func (c *CompareDecider) CheckArgs(args Bound) error {
	_, err := c.inputPath(args)
	return err
}

// inputPath extracts the input file path from the bound arguments.
func (c *CompareDecider) inputPath(args Bound) (string, error) {
	raw, ok := args.Lookup(c.Arg)
	if !ok || raw == nil {
		return "", &BindingError{Errors: []error{
			fmt.Errorf("compare decider expects a path argument %q", c.Arg),
		}}
	}

	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", &BindingError{Errors: []error{
			fmt.Errorf("argument %q is %T, not a path", c.Arg, raw),
		}}
	}
}

var (
	_ Decider = absentDecider{}
	_ Decider = (*TimeoutDecider)(nil)
	_ Decider = (*CompareDecider)(nil)
	_ Decider = DeciderFunc(nil)

	_ ArgChecker = (*CompareDecider)(nil)
)
