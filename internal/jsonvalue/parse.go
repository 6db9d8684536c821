package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const maxDepth = 512

var ErrTooDeep = errors.New("jsonvalue: document nested too deeply")

// Parse decodes exactly one JSON document. Duplicate object keys keep the
// position of their first occurrence and the value of their last.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, errors.New("jsonvalue: trailing data after document")
		}
		return nil, err
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		if depth >= maxDepth {
			return nil, ErrTooDeep
		}
		switch t {
		case '{':
			return parseObject(dec, depth+1)
		case '[':
			return parseArray(dec, depth+1)
		}
		return nil, fmt.Errorf("jsonvalue: unexpected delimiter %q", t)
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null{}, nil
	}
	return nil, fmt.Errorf("jsonvalue: unexpected token %T", tok)
}

func parseObject(dec *json.Decoder, depth int) (Value, error) {
	obj := Object{}
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("jsonvalue: object key is %T", tok)
		}
		val, err := parseValue(dec, depth)
		if err != nil {
			return nil, err
		}
		if i, dup := index[key]; dup {
			obj[i].Value = val
			continue
		}
		index[key] = len(obj)
		obj = append(obj, Member{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func parseArray(dec *json.Decoder, depth int) (Value, error) {
	arr := Array{}
	for dec.More() {
		val, err := parseValue(dec, depth)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}
