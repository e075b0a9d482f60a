package memo

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Option defines a function that configures a Cacher.
type Option func(*Cacher)

// WithLocker sets the lock manager. By default the store's own Locker is used
// (see LockerProvider), falling back to OS file locks. Store maintenance such
// as FileStore.Prune locks through the store's Locker, so a custom Locker
// should be given to the store as well (WithStoreLocker).
func WithLocker(l Locker) Option {
	return func(c *Cacher) {
		c.locker = l
	}
}

// WithLockTimeout bounds how long a call waits for a slot lock.
// Negative waits indefinitely (the default), zero tries once.
//
// Example:
//
//	cacher, err := memo.New(store, memo.WithLockTimeout(30*time.Second))
func WithLockTimeout(timeout time.Duration) Option {
	return func(c *Cacher) {
		c.lockTimeout = timeout
	}
}

// WithDecider sets the update policy. The default is Absent().
func WithDecider(d Decider) Option {
	return func(c *Cacher) {
		c.decider = d
	}
}

// WithForce attaches a ForceSwitch. While it is enabled every call
// recomputes, whatever the decider says.
func WithForce(f *ForceSwitch) Option {
	return func(c *Cacher) {
		c.force = f
	}
}

// WithHashFunc sets a custom hash function for fingerprints.
// The default is SHA-256.
//
// Note: Changing the hash function orphans every existing slot.
func WithHashFunc(hashFunc HashFunc) Option {
	return func(c *Cacher) {
		c.hashFunc = hashFunc
	}
}

// WithClock sets the time source handed to deciders.
// This is primarily useful for testing with clock.NewMock().
func WithClock(clk clock.Clock) Option {
	return func(c *Cacher) {
		c.clock = clk
	}
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
// Calls log at debug level; a failed lock release is a warning.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Cacher) {
		c.log = log
	}
}

// WithRegisterer registers the cacher's Prometheus collectors with reg.
// Several cachers may share one registry. A conflicting collector already in
// reg is logged as a warning and the cacher keeps its own unregistered one.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Cacher) {
		c.registerer = reg
	}
}

// WithTracerProvider sets where spans are sent. The default is the global
// OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cacher) {
		c.tracerProvider = tp
	}
}
