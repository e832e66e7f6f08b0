package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingKey matches errors about an absent section or required key.
	ErrMissingKey = errors.New("config: missing key")

	// ErrMalformedValue matches errors about a key whose value cannot be used.
	ErrMalformedValue = errors.New("config: malformed value")
)

// MissingKeyError reports a required key, or a whole section when Key is
// empty, that is absent from the loaded sources.
type MissingKeyError struct {
	Section string
	Key     string
}

func (e *MissingKeyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: section [%s] not found", e.Section)
	}
	return fmt.Sprintf("config: [%s] missing required key %q", e.Section, e.Key)
}

func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingKey
}

// MalformedValueError reports a key that is present but unusable.
type MalformedValueError struct {
	Section string
	Key     string
	Value   string
	Reason  string
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("config: [%s] %s=%q: %s", e.Section, e.Key, e.Value, e.Reason)
}

func (e *MalformedValueError) Is(target error) bool {
	return target == ErrMalformedValue
}
