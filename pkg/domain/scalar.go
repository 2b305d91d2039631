package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var errNotScalar = errors.New("value must be a string, number, boolean or null")

type ScalarKind uint8

const (
	ScalarUndefined ScalarKind = iota
	ScalarString
	ScalarNumber
	ScalarBool
)

// Scalar is a single widget cell: string, number, boolean or undefined.
// Undefined encodes as JSON null.
type Scalar struct {
	kind ScalarKind
	str  string
	num  float64
	b    bool
}

func String(s string) Scalar  { return Scalar{kind: ScalarString, str: s} }
func Number(n float64) Scalar { return Scalar{kind: ScalarNumber, num: n} }
func Bool(b bool) Scalar      { return Scalar{kind: ScalarBool, b: b} }
func Undefined() Scalar       { return Scalar{} }

func (s Scalar) Kind() ScalarKind { return s.kind }

func (s Scalar) StringValue() (string, bool) { return s.str, s.kind == ScalarString }
func (s Scalar) NumberValue() (float64, bool) { return s.num, s.kind == ScalarNumber }
func (s Scalar) BoolValue() (bool, bool)      { return s.b, s.kind == ScalarBool }

// Text renders the scalar for plain-text output.
func (s Scalar) Text() string {
	switch s.kind {
	case ScalarString:
		return s.str
	case ScalarNumber:
		return strconv.FormatFloat(s.num, 'f', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(s.b)
	default:
		return ""
	}
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case ScalarString:
		return json.Marshal(s.str)
	case ScalarNumber:
		return json.Marshal(s.num)
	case ScalarBool:
		return json.Marshal(s.b)
	default:
		return []byte("null"), nil
	}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errNotScalar
	}
	switch data[0] {
	case 'n':
		*s = Undefined()
		return nil
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = String(v)
		return nil
	case 't', 'f':
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Bool(v)
		return nil
	case '{', '[':
		return errNotScalar
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Number(v)
		return nil
	}
}

type Field struct {
	Name  string
	Value Scalar
}

// Fields is an ordered name to scalar mapping. It encodes as a JSON object
// and keeps key order across round trips.
type Fields []Field

// Get returns the value stored under name.
func (f Fields) Get(name string) (Scalar, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return Scalar{}, false
}

// Set replaces the value for name in place or appends a new field.
func (f Fields) Set(name string, v Scalar) Fields {
	for i := range f {
		if f[i].Name == name {
			f[i].Value = v
			return f
		}
	}
	return append(f, Field{Name: name, Value: v})
}

// Names returns field names in order.
func (f Fields) Names() []string {
	out := make([]string, len(f))
	for i, field := range f {
		out[i] = field.Name
	}
	return out
}

func (f Fields) clone() Fields {
	if f == nil {
		return nil
	}
	return append(Fields(nil), f...)
}

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := field.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected JSON object")
	}
	out := Fields{}
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected object key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Scalar
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("fields: %q: %w", name, err)
		}
		if idx, dup := seen[name]; dup {
			out[idx].Value = v
			continue
		}
		seen[name] = len(out)
		out = append(out, Field{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
