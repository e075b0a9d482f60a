package memo

import (
	"errors"
	"fmt"
	"hash"
	"reflect"
	"sort"
	"strings"
	"time"
	"unsafe"

	"github.com/davecgh/go-spew/spew"
)

// ResourceID identifies one cached computation result.
// Func is the function fingerprint and Args the argument fingerprint, both hex.
type ResourceID struct {
	Func string
	Args string
}

// String renders the id as "<func>_<args>".
func (id ResourceID) String() string {
	return id.Func + "_" + id.Args
}

// IsZero reports whether id is the zero ResourceID.
func (id ResourceID) IsZero() bool {
	return id.Func == "" && id.Args == ""
}

// ParseResourceID parses the form produced by ResourceID.String.
func ParseResourceID(s string) (ResourceID, error) {
	fn, args, ok := strings.Cut(s, "_")
	if !ok || fn == "" || args == "" {
		return ResourceID{}, fmt.Errorf("invalid resource id %q", s)
	}
	return ResourceID{Func: fn, Args: args}, nil
}

// Fingerprintable is implemented by argument values that render their own
// stable representation. It is honored at any depth of an argument, so a
// slice of File contents fingerprints every file's bytes.
type Fingerprintable interface {
	Fingerprint() (string, error)
}

// Signature is the behavior-relevant identity of a memoized function.
type Signature struct {
	Name     string
	Identity string // stable token: source hash, version string, build hash
	Params   []Param
}

// spewConfig dumps normalized argument values. Methods are disabled so a
// lossy String or Error method cannot merge two different values.
var spewConfig = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	SpewKeys:                true,
	DisableMethods:          true,
	DisablePointerMethods:   true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Fingerprint computes the ResourceID for sig called with args.
// The map order of args never affects the result.
func Fingerprint(hashFunc HashFunc, sig Signature, args Bound) (ResourceID, error) {
	if hashFunc == nil {
		hashFunc = defaultHashFunc
	}

	fn, err := funcHash(hashFunc(), sig)
	if err != nil {
		return ResourceID{}, err
	}
	a, err := argsHash(hashFunc(), args)
	if err != nil {
		return ResourceID{}, err
	}
	return ResourceID{Func: fn, Args: a}, nil
}

// funcHash hashes the name, the identity token and the parameter names.
func funcHash(h hash.Hash, sig Signature) (string, error) {
	if sig.Identity == "" {
		return "", &FingerprintError{Reason: fmt.Sprintf("function %q has no identity", sig.Name)}
	}

	h.Write([]byte(sig.Name))
	h.Write([]byte{0})
	h.Write([]byte(sig.Identity))
	for _, p := range sig.Params {
		h.Write([]byte{0})
		h.Write([]byte(p.Name))
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// argsHash hashes the bound arguments in sorted name order.
func argsHash(h hash.Hash, args Bound) (string, error) {
	fmt.Fprintf(h, "%d", len(args))
	for _, name := range args.names() {
		rendered, err := renderValue(name, args[name])
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(rendered))
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// renderValue returns the stable representation of one argument value.
func renderValue(name string, v any) (string, error) {
	if v == nil {
		return spewConfig.Sdump(v), nil
	}

	// An addressable root keeps nested fields addressable so unexported ones
	// can be read.
	root := reflect.New(reflect.TypeOf(v)).Elem()
	root.Set(reflect.ValueOf(v))

	n := normalizer{seen: make(map[visit]bool)}
	norm, err := n.value(root, "")
	if err != nil {
		var fe *FingerprintError
		if errors.As(err, &fe) {
			fe.Arg = name
			return "", fe
		}
		return "", &FingerprintError{Arg: name, Reason: err.Error()}
	}
	return spewConfig.Sdump(norm), nil
}

var (
	fingerprintableType = reflect.TypeOf((*Fingerprintable)(nil)).Elem()
	timeType            = reflect.TypeOf(time.Time{})
)

// Normalized forms handed to spew. Each composite value records its type.
type (
	normToken   struct{ Token string }
	normTime    struct{ Time string }
	normCycle   struct{ Type string }
	normPointer struct {
		Type string
		Nil  bool
		Elem any
	}
	normSeq struct {
		Type  string
		Nil   bool
		Items []any
	}
	normField struct {
		Name  string
		Value any
	}
	normStruct struct {
		Type   string
		Fields []normField
	}
	normEntry struct {
		Key, Value any
	}
	normMap struct {
		Type    string
		Nil     bool
		Entries []normEntry
	}
)

// normalizer rewrites a value into a tree that spew renders reproducibly.
// At any depth a Fingerprintable becomes its token and a time.Time its UTC
// instant. Map entries are sorted.
type normalizer struct {
	seen map[visit]bool // pointers and maps on the current path
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

func (n *normalizer) value(v reflect.Value, path string) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	v = readable(v)

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		return normTime{Time: t.UTC().Format(time.RFC3339Nano)}, nil
	}
	if fp, ok := asFingerprintable(v); ok {
		token, err := fp.Fingerprint()
		if err != nil {
			return nil, &FingerprintError{Path: path, Reason: err.Error()}
		}
		return normToken{Token: token}, nil
	}

	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil, &FingerprintError{
			Path:   path,
			Reason: fmt.Sprintf("%s values have no stable representation", v.Kind()),
		}

	case reflect.Pointer:
		if v.IsNil() {
			return normPointer{Type: v.Type().String(), Nil: true}, nil
		}
		at := visit{v.Pointer(), v.Type()}
		if n.seen[at] {
			return normCycle{Type: v.Type().String()}, nil
		}
		n.seen[at] = true
		defer delete(n.seen, at)

		elem, err := n.value(v.Elem(), path)
		if err != nil {
			return nil, err
		}
		return normPointer{Type: v.Type().String(), Elem: elem}, nil

	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return n.value(addressable(v.Elem()), path)

	case reflect.Struct:
		t := v.Type()
		s := normStruct{Type: t.String(), Fields: make([]normField, 0, v.NumField())}
		for i := 0; i < v.NumField(); i++ {
			f, err := n.value(v.Field(i), path+"."+t.Field(i).Name)
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, normField{Name: t.Field(i).Name, Value: f})
		}
		return s, nil

	case reflect.Slice, reflect.Array:
		seq := normSeq{Type: v.Type().String(), Nil: v.Kind() == reflect.Slice && v.IsNil()}
		for i := 0; i < v.Len(); i++ {
			item, err := n.value(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		return seq, nil

	case reflect.Map:
		m := normMap{Type: v.Type().String(), Nil: v.IsNil()}
		if v.IsNil() {
			return m, nil
		}
		at := visit{v.Pointer(), v.Type()}
		if n.seen[at] {
			return normCycle{Type: v.Type().String()}, nil
		}
		n.seen[at] = true
		defer delete(n.seen, at)

		type sortable struct {
			entry normEntry
			key   string
		}
		var entries []sortable
		iter := v.MapRange()
		for iter.Next() {
			key, err := n.value(addressable(iter.Key()), path+"{key}")
			if err != nil {
				return nil, err
			}
			val, err := n.value(addressable(iter.Value()), fmt.Sprintf("%s[%v]", path, iter.Key()))
			if err != nil {
				return nil, err
			}
			entries = append(entries, sortable{normEntry{Key: key, Value: val}, spewConfig.Sdump(key)})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
		for _, e := range entries {
			m.Entries = append(m.Entries, e.entry)
		}
		return m, nil
	}

	return v.Interface(), nil
}

// asFingerprintable returns v, or its address, as a Fingerprintable.
// Nil pointers and interfaces are left to their own cases.
func asFingerprintable(v reflect.Value) (Fingerprintable, bool) {
	switch v.Kind() {
	case reflect.Interface:
		return nil, false
	case reflect.Pointer:
		if v.IsNil() {
			return nil, false
		}
	}
	if v.Type().Implements(fingerprintableType) {
		return v.Interface().(Fingerprintable), true
	}
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(fingerprintableType) {
		return v.Addr().Interface().(Fingerprintable), true
	}
	return nil, false
}

// readable makes an unexported field usable through Interface.
func readable(v reflect.Value) reflect.Value {
	if v.CanInterface() || !v.CanAddr() {
		return v
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
}

// addressable copies v into a new addressable value.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}
