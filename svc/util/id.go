package util

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// NewID returns a random non-negative int64 record id.
func NewID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "rand fail")
	}
	return int64(binary.BigEndian.Uint64(buf[:]) >> 1), nil
}

// GenUnique calls gen until taken reports false. It stops only on an error
// from gen or taken; collisions retry without bound.
func GenUnique(gen func() (string, error), taken func(string) (bool, error)) (string, error) {
	for {
		candidate, err := gen()
		if err != nil {
			return "", err
		}
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
