package codec

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Map keys are not sorted; the collector must accept any key order.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes an upload payload.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a collector response.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var (
	// ErrInvalidJSON means the data is not well-formed JSON.
	ErrInvalidJSON = errors.New("invalid json")
	// ErrNotObject means the data is valid JSON but its top level is not an object.
	ErrNotObject = errors.New("top-level json value is not an object")
)

// Field is one top-level member of a JSON object.
type Field struct {
	Key   string
	Value any
}

// DecodeObject decodes a top-level JSON object into its members, in the
// order they appear in data.
func DecodeObject(data []byte) ([]Field, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, ErrNotObject
	}
	fields := []Field{}
	iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		fields = append(fields, Field{Key: key, Value: it.Read()})
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, iter.Error)
	}
	return fields, nil
}
