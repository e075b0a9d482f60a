package memo

import (
	"errors"
	"strings"
	"testing"
)

func TestBind(t *testing.T) {
	params := []Param{Required("a"), Optional("b", 10), Optional("c", nil)}

	testCases := []struct {
		name     string
		args     Args
		expected Bound
	}{
		{
			name:     "Positional with defaults",
			args:     Positional(1),
			expected: Bound{"a": 1, "b": 10, "c": nil},
		},
		{
			name:     "Keyword only",
			args:     Args{Keywords: map[string]any{"a": 1, "b": 2}},
			expected: Bound{"a": 1, "b": 2, "c": nil},
		},
		{
			name:     "Mixed",
			args:     Positional(1).With("c", "x"),
			expected: Bound{"a": 1, "b": 10, "c": "x"},
		},
		{
			name:     "Explicit default equals omitted",
			args:     Positional(1, 10),
			expected: Bound{"a": 1, "b": 10, "c": nil},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bound, err := bind("f", params, tc.args)
			if err != nil {
				t.Fatalf("bind() error = %v", err)
			}
			if len(bound) != len(tc.expected) {
				t.Fatalf("bind() = %v, expected %v", bound, tc.expected)
			}
			for name, v := range tc.expected {
				if got, ok := bound.Lookup(name); !ok || got != v {
					t.Errorf("argument %s = %v, expected %v", name, got, v)
				}
			}
		})
	}
}

func TestBind_Fail(t *testing.T) {
	params := []Param{Required("a"), Optional("b", 10)}

	testCases := []struct {
		name     string
		params   []Param
		args     Args
		messages []string
	}{
		{
			name:     "Missing required",
			params:   params,
			args:     Args{},
			messages: []string{`missing required argument "a"`},
		},
		{
			name:     "Too many positional",
			params:   params,
			args:     Positional(1, 2, 3),
			messages: []string{"takes 2 positional arguments but 3 were given"},
		},
		{
			name:     "Unknown keyword and missing required",
			params:   params,
			args:     Args{Keywords: map[string]any{"z": 1}},
			messages: []string{`unexpected keyword argument "z"`, `missing required argument "a"`},
		},
		{
			name:     "Multiple values",
			params:   params,
			args:     Positional(1).With("a", 2),
			messages: []string{`multiple values for argument "a"`},
		},
		{
			name:     "Duplicate parameter",
			params:   []Param{Required("a"), Required("a")},
			args:     Positional(1),
			messages: []string{`duplicate parameter "a"`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := bind("f", tc.params, tc.args)
			if !errors.Is(err, ErrBinding) {
				t.Fatalf("bind() error = %v, expected a binding error", err)
			}

			var be *BindingError
			if !errors.As(err, &be) {
				t.Fatalf("bind() error is not a *BindingError: %T", err)
			}
			if be.Func != "f" {
				t.Errorf("BindingError.Func = %q, expected %q", be.Func, "f")
			}
			if len(be.Errors) != len(tc.messages) {
				t.Fatalf("got %d errors, expected %d: %v", len(be.Errors), len(tc.messages), err)
			}
			for i, msg := range tc.messages {
				if be.Errors[i].Error() != msg {
					t.Errorf("error %d = %q, expected %q", i, be.Errors[i], msg)
				}
			}
			if len(tc.messages) > 1 && !strings.Contains(err.Error(), "errors:") {
				t.Errorf("multi-error message should list every error, got %q", err.Error())
			}
		})
	}
}

func TestArgsWithCopies(t *testing.T) {
	base := Positional(1).With("b", 2)
	derived := base.With("c", 3)

	if _, ok := base.Keywords["c"]; ok {
		t.Error("With() modified the receiver")
	}
	if derived.Keywords["b"] != 2 || derived.Keywords["c"] != 3 {
		t.Errorf("With() lost keywords: %v", derived.Keywords)
	}
}

func TestArg(t *testing.T) {
	bound := Bound{"n": 3, "s": "x"}

	n, err := Arg[int](bound, "n")
	if err != nil || n != 3 {
		t.Errorf("Arg[int]() = %v, %v", n, err)
	}

	if _, err := Arg[string](bound, "n"); !errors.Is(err, ErrBinding) {
		t.Errorf("Arg[string]() on an int should be a binding error, got %v", err)
	}
	if _, err := Arg[int](bound, "missing"); !errors.Is(err, ErrBinding) {
		t.Errorf("Arg() on a missing name should be a binding error, got %v", err)
	}
}
