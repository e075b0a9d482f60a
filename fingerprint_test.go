package memo

import (
	"errors"
	"testing"
	"time"
)

type stubFingerprint struct {
	token string
	err   error
}

func (s stubFingerprint) Fingerprint() (string, error) {
	return s.token, s.err
}

// query prints only its table, so its String method is lossy.
type query struct {
	Table string
	Limit int
}

func (q query) String() string { return q.Table }

// failure has a lossy Error method on a pointer receiver.
type failure struct{ code int }

func (f *failure) Error() string { return "failure" }

type window struct {
	From time.Time
	to   time.Time
}

type cyclic struct {
	Name string
	Next *cyclic
}

func mustFingerprint(t *testing.T, hashFunc HashFunc, sig Signature, args Bound) ResourceID {
	t.Helper()

	id, err := Fingerprint(hashFunc, sig, args)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	return id
}

func TestFingerprint_Deterministic(t *testing.T) {
	sig := Signature{Name: "load", Identity: "v1", Params: []Param{Required("path"), Optional("opts", nil)}}
	args := Bound{
		"path": "data.csv",
		"opts": map[string]any{"sep": ",", "header": true, "cols": []string{"a", "b"}},
	}

	first := mustFingerprint(t, nil, sig, args)
	for i := 0; i < 10; i++ {
		// Rebuilt each time so map iteration order differs between runs
		again := mustFingerprint(t, nil, sig, Bound{
			"opts": map[string]any{"cols": []string{"a", "b"}, "header": true, "sep": ","},
			"path": "data.csv",
		})
		if again != first {
			t.Fatalf("Fingerprint() not deterministic: %s != %s", again, first)
		}
	}

	if len(first.Func) != 64 || len(first.Args) != 64 {
		t.Errorf("expected SHA-256 hex fingerprints, got %s", first)
	}
}

func TestFingerprint_Sensitivity(t *testing.T) {
	sig := Signature{Name: "square", Identity: "v1", Params: []Param{Required("x")}}
	base := mustFingerprint(t, nil, sig, Bound{"x": 4})

	t.Run("Argument value", func(t *testing.T) {
		id := mustFingerprint(t, nil, sig, Bound{"x": 5})
		if id.Func != base.Func {
			t.Errorf("function fingerprint changed with the argument")
		}
		if id.Args == base.Args {
			t.Errorf("argument fingerprint did not change")
		}
	})

	t.Run("Argument type", func(t *testing.T) {
		id := mustFingerprint(t, nil, sig, Bound{"x": int64(4)})
		if id.Args == base.Args {
			t.Errorf("int and int64 arguments share a fingerprint")
		}
	})

	t.Run("Identity", func(t *testing.T) {
		changed := sig
		changed.Identity = "v2"
		id := mustFingerprint(t, nil, changed, Bound{"x": 4})
		if id.Func == base.Func {
			t.Errorf("function fingerprint did not change with the identity")
		}
		if id.Args != base.Args {
			t.Errorf("argument fingerprint changed with the identity")
		}
	})

	t.Run("Name", func(t *testing.T) {
		changed := sig
		changed.Name = "cube"
		if id := mustFingerprint(t, nil, changed, Bound{"x": 4}); id.Func == base.Func {
			t.Errorf("function fingerprint did not change with the name")
		}
	})

	t.Run("Parameter names", func(t *testing.T) {
		changed := sig
		changed.Params = []Param{Required("y")}
		if id := mustFingerprint(t, nil, changed, Bound{"x": 4}); id.Func == base.Func {
			t.Errorf("function fingerprint did not change with the parameter names")
		}
	})

	t.Run("Hash function", func(t *testing.T) {
		id := mustFingerprint(t, XXHash, sig, Bound{"x": 4})
		if len(id.Func) != 16 || len(id.Args) != 16 {
			t.Errorf("expected 64-bit hex fingerprints, got %s", id)
		}
	})
}

func TestFingerprint_BindingEquivalence(t *testing.T) {
	params := []Param{Required("a"), Optional("b", 2)}
	sig := Signature{Name: "f", Identity: "v1", Params: params}

	calls := []Args{
		Positional(1),
		Positional(1, 2),
		Args{Keywords: map[string]any{"a": 1}},
		Positional(1).With("b", 2),
	}

	var first ResourceID
	for i, args := range calls {
		bound, err := bind("f", params, args)
		if err != nil {
			t.Fatalf("bind() error = %v", err)
		}
		id := mustFingerprint(t, nil, sig, bound)
		if i == 0 {
			first = id
			continue
		}
		if id != first {
			t.Errorf("call %d fingerprints as %s, expected %s", i, id, first)
		}
	}
}

func TestFingerprint_Time(t *testing.T) {
	sig := Signature{Name: "f", Identity: "v1", Params: []Param{Required("at")}}
	utc := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	zoned := utc.In(time.FixedZone("CEST", 2*60*60))

	if mustFingerprint(t, nil, sig, Bound{"at": utc}) != mustFingerprint(t, nil, sig, Bound{"at": zoned}) {
		t.Error("the same instant in two zones fingerprints differently")
	}
	if mustFingerprint(t, nil, sig, Bound{"at": utc}) == mustFingerprint(t, nil, sig, Bound{"at": utc.Add(time.Nanosecond)}) {
		t.Error("different instants share a fingerprint")
	}
}

func TestFingerprint_Fingerprintable(t *testing.T) {
	sig := Signature{Name: "f", Identity: "v1", Params: []Param{Required("in")}}

	a := mustFingerprint(t, nil, sig, Bound{"in": stubFingerprint{token: "one"}})
	b := mustFingerprint(t, nil, sig, Bound{"in": stubFingerprint{token: "two"}})
	if a == b {
		t.Error("Fingerprint() token was ignored")
	}

	_, err := Fingerprint(nil, sig, Bound{"in": stubFingerprint{err: errors.New("boom")}})
	var fe *FingerprintError
	if !errors.As(err, &fe) || fe.Arg != "in" {
		t.Errorf("expected a FingerprintError for argument in, got %v", err)
	}
}

func TestFingerprint_IgnoresMethods(t *testing.T) {
	sig := Signature{Name: "f", Identity: "v1", Params: []Param{Required("q")}}

	a := mustFingerprint(t, nil, sig, Bound{"q": query{Table: "users", Limit: 10}})
	b := mustFingerprint(t, nil, sig, Bound{"q": query{Table: "users", Limit: 20}})
	if a == b {
		t.Error("values with equal String() output share a fingerprint")
	}

	a = mustFingerprint(t, nil, sig, Bound{"q": &failure{code: 1}})
	b = mustFingerprint(t, nil, sig, Bound{"q": &failure{code: 2}})
	if a == b {
		t.Error("values with equal Error() output share a fingerprint")
	}
}

func TestFingerprint_NestedTime(t *testing.T) {
	sig := Signature{Name: "f", Identity: "v1", Params: []Param{Required("w")}}
	now := time.Now()
	zoned := now.In(time.FixedZone("CEST", 2*60*60))

	a := mustFingerprint(t, nil, sig, Bound{"w": window{From: now, to: now}})
	b := mustFingerprint(t, nil, sig, Bound{"w": window{From: now.Round(0), to: zoned}})
	if a != b {
		t.Error("the same instants nested in a struct fingerprint differently")
	}

	c := mustFingerprint(t, nil, sig, Bound{"w": window{From: now, to: now.Add(time.Second)}})
	if a == c {
		t.Error("an unexported time field was ignored")
	}

	d := mustFingerprint(t, nil, sig, Bound{"w": []*time.Time{&now}})
	e := mustFingerprint(t, nil, sig, Bound{"w": []*time.Time{&zoned}})
	if d != e {
		t.Error("the same instant behind a pointer fingerprints differently")
	}
}

func TestFingerprint_NestedFingerprintable(t *testing.T) {
	sig := Signature{Name: "f", Identity: "v1", Params: []Param{Required("in")}}

	a := mustFingerprint(t, nil, sig, Bound{"in": []stubFingerprint{{token: "one"}}})
	b := mustFingerprint(t, nil, sig, Bound{"in": []stubFingerprint{{token: "two"}}})
	if a == b {
		t.Error("a nested Fingerprint() token was ignored")
	}

	c := mustFingerprint(t, nil, sig, Bound{"in": map[string]any{"x": stubFingerprint{token: "one"}}})
	d := mustFingerprint(t, nil, sig, Bound{"in": map[string]any{"x": stubFingerprint{token: "two"}}})
	if c == d {
		t.Error("a Fingerprint() token inside a map was ignored")
	}

	_, err := Fingerprint(nil, sig, Bound{"in": []stubFingerprint{{token: "ok"}, {err: errors.New("boom")}}})
	var fe *FingerprintError
	if !errors.As(err, &fe) || fe.Arg != "in" || fe.Path != "[1]" {
		t.Errorf("expected a FingerprintError at in[1], got %v", err)
	}
}

func TestFingerprint_Fail(t *testing.T) {
	type holder struct {
		Name string
		Fn   func()
	}

	testCases := []struct {
		name string
		sig  Signature
		args Bound
		arg  string
		path string
	}{
		{
			name: "Channel",
			sig:  Signature{Name: "f", Identity: "v1"},
			args: Bound{"c": make(chan int)},
			arg:  "c",
		},
		{
			name: "Function inside struct",
			sig:  Signature{Name: "f", Identity: "v1"},
			args: Bound{"h": []holder{{Name: "ok"}, {Name: "bad", Fn: func() {}}}},
			arg:  "h",
			path: "[0].Fn",
		},
		{
			name: "Missing identity",
			sig:  Signature{Name: "f"},
			args: Bound{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Fingerprint(nil, tc.sig, tc.args)
			if !errors.Is(err, ErrFingerprint) {
				t.Fatalf("expected a fingerprint error, got %v", err)
			}
			var fe *FingerprintError
			if !errors.As(err, &fe) {
				t.Fatalf("error is not a *FingerprintError: %T", err)
			}
			if fe.Arg != tc.arg || fe.Path != tc.path {
				t.Errorf("FingerprintError at %q%q, expected %q%q", fe.Arg, fe.Path, tc.arg, tc.path)
			}
		})
	}
}

func TestFingerprint_Cycle(t *testing.T) {
	n := &cyclic{Name: "loop"}
	n.Next = n

	sig := Signature{Name: "f", Identity: "v1"}
	a := mustFingerprint(t, nil, sig, Bound{"n": n})
	b := mustFingerprint(t, nil, sig, Bound{"n": n})
	if a != b {
		t.Error("cyclic value fingerprints are not deterministic")
	}
}

func TestParseResourceID(t *testing.T) {
	id := ResourceID{Func: "abc", Args: "def"}
	parsed, err := ParseResourceID(id.String())
	if err != nil || parsed != id {
		t.Fatalf("ParseResourceID(%q) = %v, %v", id.String(), parsed, err)
	}

	for _, s := range []string{"", "abc", "_def", "abc_"} {
		if _, err := ParseResourceID(s); err == nil {
			t.Errorf("ParseResourceID(%q) should fail", s)
		}
	}
}
