package memo

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrGroupUnsupported is returned by InvalidateAll when the store cannot
// enumerate the slots of a function.
var ErrGroupUnsupported = errors.New("store cannot list resource groups")

// Func describes a function to memoize.
type Func[T any] struct {
	// Name is used in fingerprints and logs.
	Name string
	// Identity is a stable token for the implementation, see SourceIdentity.
	// Changing it invalidates every slot of the function.
	Identity string
	Params   []Param
	Fn       func(ctx context.Context, args Bound) (T, error)
}

func (f Func[T]) signature() Signature {
	return Signature{Name: f.Name, Identity: f.Identity, Params: f.Params}
}

// Memo is a memoized function: a Func bound to a Cacher and its hooks.
type Memo[T any] struct {
	cacher *Cacher
	fn     Func[T]
	pre    func(T) (T, error)
	post   func(T) (T, error)
}

// WrapOption configures a Memo.
type WrapOption[T any] func(*Memo[T])

// WithPre sets the transform applied to computed output before it is written.
func WithPre[T any](fn func(T) (T, error)) WrapOption[T] {
	return func(m *Memo[T]) {
		m.pre = fn
	}
}

// WithPost sets the transform applied to the value read back from the slot.
func WithPost[T any](fn func(T) (T, error)) WrapOption[T] {
	return func(m *Memo[T]) {
		m.post = fn
	}
}

// WithProcessor sets both transforms from p.
func WithProcessor[T any](p Processor[T]) WrapOption[T] {
	return func(m *Memo[T]) {
		m.pre = p.Pre
		m.post = p.Post
	}
}

// Wrap memoizes fn through c.
//
// Example:
//
//	square := memo.Wrap(cacher, memo.Func[int]{
//	    Name:     "square",
//	    Identity: "v1",
//	    Params:   []memo.Param{memo.Required("x")},
//	    Fn: func(ctx context.Context, args memo.Bound) (int, error) {
//	        x, err := memo.Arg[int](args, "x")
//	        return x * x, err
//	    },
//	})
//	v, err := square.Call(ctx, 4)
func Wrap[T any](c *Cacher, fn Func[T], options ...WrapOption[T]) *Memo[T] {
	m := &Memo[T]{cacher: c, fn: fn}
	for _, option := range options {
		option(m)
	}
	return m
}

// ID returns the ResourceID that a call with the given positional arguments
// would use. Useful for debugging and logging.
func (m *Memo[T]) ID(args ...any) (ResourceID, error) {
	id, _, err := m.resolve(Positional(args...))
	return id, err
}

// Call is CallArgs with positional arguments only.
func (m *Memo[T]) Call(ctx context.Context, args ...any) (T, error) {
	return m.CallArgs(ctx, Positional(args...))
}

// CallArgs returns the cached result for args, computing and persisting it
// first when the slot is absent or stale.
//
// Errors from the wrapped function are returned unchanged and leave the slot
// as it was. A *LockTimeoutError means the slot was busy for longer than the
// configured lock timeout; retrying is up to the caller.
func (m *Memo[T]) CallArgs(ctx context.Context, args Args) (T, error) {
	ctx, span := m.cacher.tracer.Start(ctx, "memo.Call",
		trace.WithAttributes(attribute.String("memo.func", m.fn.Name)))
	defer span.End()

	out, err := m.call(ctx, span, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (m *Memo[T]) call(ctx context.Context, span trace.Span, args Args) (T, error) {
	var out T
	c := m.cacher

	if m.fn.Fn == nil {
		return out, fmt.Errorf("function %q has no implementation", m.fn.Name)
	}

	id, bound, err := m.resolve(args)
	if err == nil {
		err = c.checkArgs(bound)
	}
	if err != nil {
		c.metrics.errors.WithLabelValues(stageBind).Inc()
		return out, err
	}
	span.SetAttributes(attribute.String("memo.resource", id.String()))
	log := m.logger(id)

	err = c.withSlot(ctx, id, log, func(ctx context.Context) error {
		update, err := c.decide(ctx, id, bound)
		if err != nil {
			c.metrics.errors.WithLabelValues(stageDecide).Inc()
			return err
		}

		if update {
			log.Debug("recomputing")
			if err := m.recompute(ctx, id, bound); err != nil {
				return err
			}
		}
		span.SetAttributes(attribute.Bool("memo.recomputed", update))

		var v T
		if err := c.store.Read(ctx, id, &v); err != nil {
			c.metrics.errors.WithLabelValues(stageRead).Inc()
			if update && errors.Is(err, ErrMissingResource) {
				return fmt.Errorf("slot vanished right after it was written: %w", err)
			}
			return err
		}

		if m.post != nil {
			if out, err = m.post(v); err != nil {
				c.metrics.errors.WithLabelValues(stageProcessor).Inc()
				return fmt.Errorf("post-process %s: %w", id, err)
			}
		} else {
			out = v
		}

		if update {
			c.metrics.calls.WithLabelValues(outcomeRecompute).Inc()
		} else {
			c.metrics.calls.WithLabelValues(outcomeHit).Inc()
		}
		return nil
	})
	return out, err
}

// recompute runs the function and persists its pre-processed output.
// The slot is only written once the function and the pre hook succeeded.
func (m *Memo[T]) recompute(ctx context.Context, id ResourceID, args Bound) error {
	c := m.cacher

	raw, err := m.fn.Fn(ctx, args)
	if err != nil {
		c.metrics.errors.WithLabelValues(stageCompute).Inc()
		return err
	}

	stored := raw
	if m.pre != nil {
		if stored, err = m.pre(raw); err != nil {
			c.metrics.errors.WithLabelValues(stageProcessor).Inc()
			return fmt.Errorf("pre-process %s: %w", id, err)
		}
	}

	if err := c.store.Write(ctx, id, stored); err != nil {
		c.metrics.errors.WithLabelValues(stageWrite).Inc()
		return fmt.Errorf("failed to write %s: %w", id, err)
	}
	return nil
}

// Invalidate is InvalidateArgs with positional arguments only.
func (m *Memo[T]) Invalidate(ctx context.Context, args ...any) error {
	return m.InvalidateArgs(ctx, Positional(args...))
}

// InvalidateArgs removes the slot for args. Removing an absent slot succeeds.
// The function is never called and the decider never consulted.
func (m *Memo[T]) InvalidateArgs(ctx context.Context, args Args) error {
	ctx, span := m.cacher.tracer.Start(ctx, "memo.Invalidate",
		trace.WithAttributes(attribute.String("memo.func", m.fn.Name)))
	defer span.End()

	id, _, err := m.resolve(args)
	if err != nil {
		m.cacher.metrics.errors.WithLabelValues(stageBind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("memo.resource", id.String()))

	if err := m.cacher.uncache(ctx, id, m.logger(id)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// InvalidateAll removes every slot of this function, whatever its arguments.
// Each slot is removed under its own lock. The store must be a GroupStore.
func (m *Memo[T]) InvalidateAll(ctx context.Context) error {
	fh, err := funcHash(m.cacher.hashFunc(), m.fn.signature())
	if err != nil {
		return err
	}
	_, err = m.cacher.Purge(ctx, fh)
	return err
}

// Purge removes every slot under the function fingerprint funcHash, each
// under its own lock, and returns how many were removed. The store must be a
// GroupStore.
func (c *Cacher) Purge(ctx context.Context, funcHash string) (int, error) {
	gs, ok := c.store.(GroupStore)
	if !ok {
		return 0, ErrGroupUnsupported
	}

	ids, err := gs.Group(ctx, funcHash)
	if err != nil {
		return 0, fmt.Errorf("failed to list slots of %s: %w", funcHash, err)
	}

	for i, id := range ids {
		log := c.log.WithFields(logrus.Fields{"func": funcHash, "resource": id.String()})
		if err := c.uncache(ctx, id, log); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// uncache deletes one slot under its lock.
func (c *Cacher) uncache(ctx context.Context, id ResourceID, log logrus.FieldLogger) error {
	return c.withSlot(ctx, id, log, func(ctx context.Context) error {
		log.Debug("uncaching")
		if err := c.store.Delete(ctx, id); err != nil {
			c.metrics.errors.WithLabelValues(stageDelete).Inc()
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		c.metrics.invalidations.Inc()
		return nil
	})
}

// resolve binds args and computes the ResourceID. No lock is involved.
func (m *Memo[T]) resolve(args Args) (ResourceID, Bound, error) {
	bound, err := bind(m.fn.Name, m.fn.Params, args)
	if err != nil {
		return ResourceID{}, nil, err
	}
	m.cacher.log.WithFields(logrus.Fields{
		"func": m.fn.Name,
		"args": args.Positional,
		"kw":   args.Keywords,
	}).Debugf("bound to %v", bound)

	id, err := Fingerprint(m.cacher.hashFunc, m.fn.signature(), bound)
	if err != nil {
		return ResourceID{}, nil, err
	}
	return id, bound, nil
}

func (m *Memo[T]) logger(id ResourceID) logrus.FieldLogger {
	return m.cacher.log.WithFields(logrus.Fields{
		"func":     m.fn.Name,
		"resource": id.String(),
	})
}
