// Package prefixfilter parses "<prefix>@<data>" payloads and selects the ones
// whose prefix equals a configured target.
package prefixfilter

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Delimiter separates the prefix from the data in a payload.
const Delimiter = "@"

var (
	// ErrInvalidEncoding is returned for payloads that are not valid UTF-8.
	ErrInvalidEncoding = errors.New("payload is not valid UTF-8")
	// ErrMissingDelimiter is returned for payloads without a delimiter.
	ErrMissingDelimiter = errors.New("message format error: missing '" + Delimiter + "'")
)

// Record is a payload split at its first delimiter.
type Record struct {
	Prefix string
	Data   string
}

// Decode returns payload as text, rejecting invalid UTF-8.
func Decode(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", ErrInvalidEncoding
	}
	return string(payload), nil
}

// Split cuts text at the first delimiter and trims whitespace from both sides.
// Later delimiters stay part of Data.
func Split(text string) (Record, error) {
	prefix, data, found := strings.Cut(text, Delimiter)
	if !found {
		return Record{}, ErrMissingDelimiter
	}
	return Record{
		Prefix: strings.TrimSpace(prefix),
		Data:   strings.TrimSpace(data),
	}, nil
}
