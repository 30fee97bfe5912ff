package keys

import (
	"bytes"
	"errors"
)

var (
	// ErrKeyRequired is returned for nil or empty keys
	ErrKeyRequired = errors.New("key required")
	// ErrKeyTooLarge is returned for keys longer than a driver allows
	ErrKeyTooLarge = errors.New("key too large")
)

// Key is a single key
type Key []byte

// Compare compares two keys
// -1 means a < b
// 1 means a > b
// 0 means a = b
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Validate checks that key is non-empty and at most
// maxSize bytes long. maxSize <= 0 means no limit.
func Validate(key Key, maxSize int) error {
	if len(key) == 0 {
		return ErrKeyRequired
	}

	if maxSize > 0 && len(key) > maxSize {
		return ErrKeyTooLarge
	}

	return nil
}

// Copy returns a copy of key that does not alias
// the caller's memory
func Copy(key Key) Key {
	if key == nil {
		return nil
	}

	c := make(Key, len(key))
	copy(c, key)

	return c
}
