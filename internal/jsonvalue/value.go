// Package jsonvalue is an order-preserving JSON document model.
//
// A Value is one of Null, Bool, Number, String, Array or Object. Object keeps
// its members in document order so that traversals and re-encoding see keys
// exactly as the sender wrote them.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is implemented only by the types in this package.
type Value interface {
	Kind() Kind
	isValue()
}

type Null struct{}

type Bool bool

// Number keeps the literal text of a JSON number so re-encoding is lossless.
type Number string

type String string

type Array []Value

// Object is an ordered list of members with unique keys.
type Object []Member

type Member struct {
	Key   string
	Value Value
}

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Object) Kind() Kind { return KindObject }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}
func (Array) isValue()  {}
func (Object) isValue() {}

// Float64 parses the number literal.
func (n Number) Float64() (float64, error) {
	return strconv.ParseFloat(string(n), 64)
}

// IsEmpty reports whether v is null, false, zero, "" or an empty container.
func IsEmpty(v Value) bool {
	switch t := v.(type) {
	case nil, Null:
		return true
	case Bool:
		return !bool(t)
	case Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case String:
		return t == ""
	case Array:
		return len(t) == 0
	case Object:
		return len(t) == 0
	}
	return false
}

// Get returns the value stored under key.
func (o Object) Get(key string) (Value, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// With returns a copy of o with key set to v. An existing key keeps its
// position; a new key is appended.
func (o Object) With(key string, v Value) Object {
	out := make(Object, len(o), len(o)+1)
	copy(out, o)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = v
			return out
		}
	}
	return append(out, Member{Key: key, Value: v})
}

// Marshal encodes v. A nil Value encodes as null.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n Null) MarshalJSON() ([]byte, error)   { return Marshal(n) }
func (b Bool) MarshalJSON() ([]byte, error)   { return Marshal(b) }
func (n Number) MarshalJSON() ([]byte, error) { return Marshal(n) }
func (s String) MarshalJSON() ([]byte, error) { return Marshal(s) }
func (a Array) MarshalJSON() ([]byte, error)  { return Marshal(a) }
func (o Object) MarshalJSON() ([]byte, error) { return Marshal(o) }

func encode(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(t)))
	case Number:
		if t == "" {
			buf.WriteByte('0')
			return nil
		}
		buf.WriteString(string(t))
	case String:
		return encodeString(buf, string(t))
	case Array:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, m := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
