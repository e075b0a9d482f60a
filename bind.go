package memo

import (
	"fmt"
	"sort"
)

// Param declares one parameter of a memoized function.
type Param struct {
	Name     string
	Default  any
	Optional bool // Default is used when the caller omits the parameter
}

// Required declares a parameter the caller must always supply.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter that falls back to def when omitted.
// Defaults are part of the bound mapping, so f(4) and f(4, y=def) share a slot.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, Optional: true}
}

// Args holds the arguments of a single call before binding.
type Args struct {
	Positional []any
	Keywords   map[string]any
}

// Positional builds Args from positional values only.
func Positional(values ...any) Args {
	return Args{Positional: values}
}

// With returns a copy of a with the keyword argument name set to value.
func (a Args) With(name string, value any) Args {
	kw := make(map[string]any, len(a.Keywords)+1)
	for k, v := range a.Keywords {
		kw[k] = v
	}
	kw[name] = value
	return Args{Positional: a.Positional, Keywords: kw}
}

// Bound maps parameter names to argument values for one call.
// Iteration order carries no meaning.
type Bound map[string]any

// Lookup returns the value bound to name.
func (b Bound) Lookup(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

// names returns the bound parameter names in sorted order.
func (b Bound) names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Arg returns the argument name from b as a V.
// A missing argument or one of another type is reported as a *BindingError.
func Arg[V any](b Bound, name string) (V, error) {
	var zero V
	raw, ok := b[name]
	if !ok {
		return zero, &BindingError{Errors: []error{fmt.Errorf("no argument %q", name)}}
	}
	v, ok := raw.(V)
	if !ok {
		return zero, &BindingError{Errors: []error{fmt.Errorf("argument %q is %T, want %T", name, raw, zero)}}
	}
	return v, nil
}

// bind resolves positional and keyword arguments against params.
// All problems are collected into a single *BindingError.
func bind(fn string, params []Param, args Args) (Bound, error) {
	var errs []error
	bound := make(Bound, len(params))

	index := make(map[string]int, len(params))
	for i, p := range params {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("parameter %d has no name", i))
			continue
		}
		if _, dup := index[p.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate parameter %q", p.Name))
			continue
		}
		index[p.Name] = i
	}
	if len(errs) > 0 {
		return nil, newBindingError(fn, errs)
	}

	if len(args.Positional) > len(params) {
		errs = append(errs, fmt.Errorf("takes %d positional arguments but %d were given",
			len(params), len(args.Positional)))
	}
	for i, v := range args.Positional {
		if i >= len(params) {
			break
		}
		bound[params[i].Name] = v
	}

	// Sorted so that the error list is deterministic
	keywords := make([]string, 0, len(args.Keywords))
	for name := range args.Keywords {
		keywords = append(keywords, name)
	}
	sort.Strings(keywords)

	for _, name := range keywords {
		if _, ok := index[name]; !ok {
			errs = append(errs, fmt.Errorf("unexpected keyword argument %q", name))
			continue
		}
		if _, ok := bound[name]; ok {
			errs = append(errs, fmt.Errorf("multiple values for argument %q", name))
			continue
		}
		bound[name] = args.Keywords[name]
	}

	for _, p := range params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if p.Optional {
			bound[p.Name] = p.Default
			continue
		}
		errs = append(errs, fmt.Errorf("missing required argument %q", p.Name))
	}

	if len(errs) > 0 {
		return nil, newBindingError(fn, errs)
	}
	return bound, nil
}
