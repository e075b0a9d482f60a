package memo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gophersatwork/memo"

// Cacher binds a Store to locking, update policy and observability.
// Its configuration is fixed after New; all per-call state lives on the stack,
// so one Cacher serves any number of goroutines and wrapped functions.
type Cacher struct {
	store          Store
	locker         Locker
	decider        Decider
	force          *ForceSwitch
	lockTimeout    time.Duration
	hashFunc       HashFunc
	clock          clock.Clock
	log            logrus.FieldLogger
	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider

	metrics *metrics
	tracer  trace.Tracer
}

// New creates a Cacher persisting into store.
func New(store Store, options ...Option) (*Cacher, error) {
	if store == nil {
		return nil, errors.New("cacher needs a store")
	}

	c := &Cacher{
		store:       store,
		decider:     Absent(),
		lockTimeout: -1,
		hashFunc:    defaultHashFunc,
		clock:       clock.New(),
		log:         logrus.StandardLogger(),
	}

	// Apply options
	for _, option := range options {
		option(c)
	}

	if c.locker == nil {
		if lp, ok := store.(LockerProvider); ok {
			c.locker = lp.Locker()
		} else {
			c.locker = NewFileLocker()
		}
	}
	if c.decider == nil {
		c.decider = Absent()
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName)
	c.metrics = newMetrics(c.registerer, c.log)

	return c, nil
}

// Store returns the cacher's store.
func (c *Cacher) Store() Store {
	return c.store
}

// lockKey returns the lock identity of a slot: a sibling of the slot path.
func (c *Cacher) lockKey(id ResourceID) string {
	return c.store.SlotPath(id) + ".lock"
}

// withSlot runs fn while holding the lock of id. The lock is released on
// every path and fn's error is returned as-is.
func (c *Cacher) withSlot(ctx context.Context, id ResourceID, log logrus.FieldLogger, fn func(context.Context) error) (err error) {
	key := c.lockKey(id)

	log.WithField("slot", key).Debug("acquiring lock")
	start := c.clock.Now()
	lock, err := c.locker.Acquire(ctx, key, c.lockTimeout)
	c.metrics.lockWait.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.errors.WithLabelValues(stageLock).Inc()
		return err
	}

	defer func() {
		if rerr := lock.Release(); rerr != nil {
			log.WithError(rerr).Warn("failed to release lock")
			if err == nil {
				err = fmt.Errorf("failed to release lock %s: %w", key, rerr)
			}
		}
		log.WithField("slot", key).Debug("released lock")
	}()

	return fn(ctx)
}

// checkArgs lets the decider reject the bound arguments of a call.
func (c *Cacher) checkArgs(args Bound) error {
	if ac, ok := c.decider.(ArgChecker); ok {
		return ac.CheckArgs(args)
	}
	return nil
}

// decide consults the force switch, then the decider. An absent slot is
// always recomputed, whatever the decider says.
func (c *Cacher) decide(ctx context.Context, id ResourceID, args Bound) (bool, error) {
	if c.force.Enabled() {
		return true, nil
	}

	exists, err := c.store.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}

	slot, err := c.store.Stat(ctx, id)
	if errors.Is(err, ErrMissingResource) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return c.decider.ShouldUpdate(ctx, Decision{
		ID:     id,
		Exists: true,
		Args:   args,
		Slot:   slot,
		Now:    c.clock.Now(),
	})
}
