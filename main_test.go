package memo

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

func TestMain(t *testing.M) {
	code := t.Run()

	os.Exit(code)
}

func fixedNowFunc() time.Time {
	return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
}

// newMockClock returns a mock clock set to fixedNowFunc().
func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(fixedNowFunc())
	return clk
}

// quietLogger discards everything below panic level.
func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// setupTestStore creates a FileStore on an in-memory filesystem with a mock clock.
func setupTestStore(t *testing.T, c Codec) (*FileStore, afero.Fs, *clock.Mock) {
	t.Helper()

	memFs := afero.NewMemMapFs()
	if err := memFs.MkdirAll("/cache", 0o755); err != nil {
		t.Fatalf("Failed to create cache directory: %v", err)
	}

	clk := newMockClock()
	store, err := NewFileStore("/cache", c, WithStoreFs(memFs), WithStoreClock(clk))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store, memFs, clk
}

// setupTestCacher wires a Cacher over setupTestStore. Extra options come last.
func setupTestCacher(t *testing.T, options ...Option) (*Cacher, *FileStore, *clock.Mock) {
	t.Helper()

	store, _, clk := setupTestStore(t, JSONCodec{})
	opts := append([]Option{WithClock(clk), WithLogger(quietLogger())}, options...)
	cacher, err := New(store, opts...)
	if err != nil {
		t.Fatalf("Failed to create cacher: %v", err)
	}
	return cacher, store, clk
}

// countingSquare memoizes x*x and counts the real invocations.
func countingSquare(c *Cacher, calls *atomic.Int32) *Memo[int] {
	return Wrap(c, Func[int]{
		Name:     "square",
		Identity: "v1",
		Params:   []Param{Required("x")},
		Fn: func(ctx context.Context, args Bound) (int, error) {
			calls.Add(1)
			x, err := Arg[int](args, "x")
			return x * x, err
		},
	})
}

// assertCalls asserts how often the wrapped function really ran.
func assertCalls(t *testing.T, calls *atomic.Int32, expected int32, context string) {
	t.Helper()

	if got := calls.Load(); got != expected {
		t.Fatalf("Expected %d invocations %s, got %d", expected, context, got)
	}
}

// assertCall asserts a memoized call succeeded with the expected value.
func assertCall[T comparable](t *testing.T, got T, err error, expected T, context string) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error on %s: %v", context, err)
	}
	if got != expected {
		t.Fatalf("Value mismatch on %s:\nExpected: %v\nActual: %v", context, expected, got)
	}
}
