/*
	Package memo memoizes functions into persistent storage, keyed by a fingerprint of the
	function and its arguments.

A memoized call is answered from its slot when one exists and the update policy accepts it;
otherwise the function runs once, its output is persisted, and every caller reads the
persisted value. Slots survive process restarts and are shared by every process working on
the same storage root.

# Overview

Each call goes through the same steps:

	bind args → fingerprint → lock slot → force? → decider → (run → pre hook → write)? → read → post hook → unlock

The slot lock is held for the whole decide-compute-write-read sequence, so at most one caller
computes a given slot at a time and nobody observes a half-written artifact.

# Resource Identity

A ResourceID has two halves:
  - Func: hash of the function name, its Identity token and its parameter names
  - Args: hash of the bound arguments, parameter defaults included

Its string form "<func>_<args>" names the slot. Positional and keyword spellings of the same
call bind to the same arguments and therefore to the same slot. Changing Identity, for example
with SourceIdentity over the function's source, orphans every slot of the function.

Arguments are normalized and rendered with go-spew before hashing. Map entries are sorted,
pointer addresses and String methods are ignored, and time.Time values become UTC instants
at any depth. Values that cannot be rendered stably, such as channels and functions, fail
with a *FingerprintError. Types can take over their own rendering by implementing
Fingerprintable, also when nested inside slices, maps or structs.

# Basic Usage

Creating a store and a cacher:

	store, err := memo.NewFileStore("cache", memo.JSONCodec{})
	if err != nil {
	    log.Fatalf("Failed to create store: %v", err)
	}
	cacher, err := memo.New(store,
	    memo.WithDecider(memo.Timeout(time.Hour, memo.ModTime)),
	    memo.WithLockTimeout(30*time.Second),
	)

Wrapping a function:

	load := memo.Wrap(cacher, memo.Func[Report]{
	    Name:     "load",
	    Identity: "v3",
	    Params:   []memo.Param{memo.Required("path"), memo.Optional("limit", 100)},
	    Fn: func(ctx context.Context, args memo.Bound) (Report, error) {
	        path, err := memo.Arg[string](args, "path")
	        if err != nil {
	            return Report{}, err
	        }
	        return buildReport(ctx, path)
	    },
	})

	report, err := load.Call(ctx, "data.csv")
	report, err = load.CallArgs(ctx, memo.Positional("data.csv").With("limit", 10))

Removing slots:

	err = load.Invalidate(ctx, "data.csv") // one slot, absent is fine
	err = load.InvalidateAll(ctx)          // every slot of the function

# Update Policies

A Decider is only consulted for slots that exist; absent slots are always computed.
  - Absent(): never recompute an existing slot (the default)
  - Timeout(d, ref): recompute when the slot is older than d, by ModTime or AccessTime;
    a negative d never expires
  - Compare(arg, fs): recompute when the file named by argument arg is newer than the slot

A ForceSwitch attached with WithForce makes every call recompute while it is enabled.

# Stores and Codecs

FileStore lays slots out as <root>/<func>/<args><ext> and writes them through a temp file
and rename. When the root does not exist, a hidden sibling (".<base>") is created and used.
Codecs are JSON, gob, CBOR (ugorji), YAML and CSV. The postgres sub-package keeps slots in a
table and locks them with advisory locks.

# Locking

Locks are keyed by the slot path plus ".lock". FileLocker uses OS file locks and works across
processes; MemLocker serves in-memory filesystems inside one process. WithLockTimeout bounds
the wait: negative waits forever, zero tries once. Expiry returns a *LockTimeoutError, which
is never retried.

# Error Handling

Errors from the wrapped function are returned unchanged and leave the slot untouched.
Everything else can be matched with errors.Is against a sentinel:

	ErrBinding         - arguments do not fit the parameters (*BindingError)
	ErrFingerprint     - an argument cannot be fingerprinted (*FingerprintError)
	ErrLockTimeout     - the slot stayed busy (*LockTimeoutError)
	ErrMissingResource - a slot was read but does not exist (*MissingResourceError)

# Observability

Logging goes through logrus (WithLogger), at debug level. Prometheus collectors are
registered with WithRegisterer and spans go to the OpenTelemetry provider from
WithTracerProvider.

# Configuration

Config mirrors the options in YAML form and Config.Open builds a Cacher from it:

	root: .cache
	codec: json
	lockTimeout: 30s
	decider:
	  policy: timeout
	  timeout: 1h

# Thread Safety

A Cacher and every Memo built on it are safe for concurrent use by multiple goroutines.
*/
package memo
