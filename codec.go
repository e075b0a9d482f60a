package memo

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ugorji/go/codec"
	"gopkg.in/yaml.v2"
)

// Codec serializes slot values. Its extension is part of the slot path, so
// switching codecs on an existing root orphans the old artifacts.
type Codec interface {
	Extension() string
	Encode(w io.Writer, v any) error
	// Decode reads into dst, which must be a non-nil pointer.
	Decode(r io.Reader, dst any) error
}

// JSONCodec stores values as JSON documents.
type JSONCodec struct{}

func (JSONCodec) Extension() string { return ".json" }

func (JSONCodec) Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func (JSONCodec) Decode(r io.Reader, dst any) error {
	return json.NewDecoder(r).Decode(dst)
}

// GobCodec stores values in encoding/gob form. Interface-typed values must be
// registered with gob.Register.
type GobCodec struct{}

func (GobCodec) Extension() string { return ".gob" }

func (GobCodec) Encode(w io.Writer, v any) error {
	return gob.NewEncoder(w).Encode(v)
}

func (GobCodec) Decode(r io.Reader, dst any) error {
	return gob.NewDecoder(r).Decode(dst)
}

// CBORCodec stores values as CBOR.
type CBORCodec struct {
	handle *codec.CborHandle
}

// NewCBORCodec returns a CBORCodec with canonical (sorted-key) map encoding.
func NewCBORCodec() *CBORCodec {
	h := &codec.CborHandle{}
	h.Canonical = true
	return &CBORCodec{handle: h}
}

func (*CBORCodec) Extension() string { return ".cbor" }

func (c *CBORCodec) Encode(w io.Writer, v any) error {
	return codec.NewEncoder(w, c.handle).Encode(v)
}

func (c *CBORCodec) Decode(r io.Reader, dst any) error {
	return codec.NewDecoder(r, c.handle).Decode(dst)
}

// YAMLCodec stores values as YAML documents.
type YAMLCodec struct{}

func (YAMLCodec) Extension() string { return ".yaml" }

func (YAMLCodec) Encode(w io.Writer, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func (YAMLCodec) Decode(r io.Reader, dst any) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, dst)
}

// CSVCodec stores tables: values must be [][]string (or a pointer to one).
type CSVCodec struct {
	Comma rune // defaults to ','
}

func (CSVCodec) Extension() string { return ".csv" }

func (c CSVCodec) Encode(w io.Writer, v any) error {
	var rows [][]string
	switch t := v.(type) {
	case [][]string:
		rows = t
	case *[][]string:
		if t != nil {
			rows = *t
		}
	default:
		return fmt.Errorf("csv codec cannot encode %T", v)
	}

	cw := csv.NewWriter(w)
	if c.Comma != 0 {
		cw.Comma = c.Comma
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func (c CSVCodec) Decode(r io.Reader, dst any) error {
	out, ok := dst.(*[][]string)
	if !ok || out == nil {
		return fmt.Errorf("csv codec cannot decode into %T", dst)
	}

	cr := csv.NewReader(r)
	if c.Comma != 0 {
		cr.Comma = c.Comma
	}
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return err
	}
	*out = rows
	return nil
}

var codecs = map[string]func() Codec{
	"json": func() Codec { return JSONCodec{} },
	"gob":  func() Codec { return GobCodec{} },
	"cbor": func() Codec { return NewCBORCodec() },
	"yaml": func() Codec { return YAMLCodec{} },
	"csv":  func() Codec { return CSVCodec{} },
}

// CodecByName returns the codec registered under name ("json", "gob",
// "cbor", "yaml", "csv"). A leading dot is accepted.
func CodecByName(name string) (Codec, error) {
	newCodec, ok := codecs[strings.TrimPrefix(strings.ToLower(name), ".")]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q (known: %s)", name, strings.Join(CodecNames(), ", "))
	}
	return newCodec(), nil
}

// CodecNames lists the registered codec names in sorted order.
func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	_ Codec = JSONCodec{}
	_ Codec = GobCodec{}
	_ Codec = (*CBORCodec)(nil)
	_ Codec = YAMLCodec{}
	_ Codec = CSVCodec{}
)
