package sdk

import (
	"encoding/json"
	"errors"
)

// Get decodes an owner field into T.
func Get[T any](s KVReader, owner, field string) (T, error) {
	var target T
	raw, err := s.Get(owner, field)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal(raw, &target)
	return target, err
}

// GetOr is Get with a fallback for a missing field. Other errors are
// returned as is.
func GetOr[T any](s KVReader, owner, field string, fallback T) (T, error) {
	v, err := Get[T](s, owner, field)
	if errors.Is(err, ErrFieldNotFound) {
		return fallback, nil
	}
	return v, err
}

// Put encodes val and stores it under the owner field.
func Put[T any](s KVWriter, owner, field string, val T) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.Put(owner, field, raw)
}
