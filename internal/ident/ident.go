// Package ident converts between the external string form of an issue identifier
// and the ULID stored as the document primary key.
package ident

import (
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidIdentifier is returned when a string is not a well-formed ULID.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// New generates a new monotonic ULID.
func New() ulid.ULID {
	return ulid.Make()
}

// Decode parses raw into a ULID. Lower-case input is accepted.
func Decode(raw string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(strings.ToUpper(strings.TrimSpace(raw)))
	if err != nil {
		return ulid.ULID{}, ErrInvalidIdentifier
	}
	return id, nil
}

// Encode returns the canonical string form of id.
func Encode(id ulid.ULID) string {
	return id.String()
}

// Valid reports whether raw decodes.
func Valid(raw string) bool {
	_, err := Decode(raw)
	return err == nil
}
