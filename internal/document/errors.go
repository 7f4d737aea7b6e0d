package document

import (
	"errors"
	"fmt"

	"camo/internal/domain"
)

// ArgumentError reports a verb called without a required argument.
type ArgumentError struct {
	Verb    string
	Missing string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %s is required", e.Verb, e.Missing)
}

// Is allows errors.Is() to match against domain.ErrInvalidArgument
func (e *ArgumentError) Is(target error) bool { return target == domain.ErrInvalidArgument }

// UnsavedReferenceError is returned when a document references another
// document that has no identifier yet.
type UnsavedReferenceError struct {
	Field string
	Type  string
}

func (e *UnsavedReferenceError) Error() string {
	return fmt.Sprintf("field %q references an unsaved %s", e.Field, e.Type)
}

// Is allows errors.Is() to match against domain.ErrInvalidArgument
func (e *UnsavedReferenceError) Is(target error) bool { return target == domain.ErrInvalidArgument }

var (
	// ErrEmbedded is returned when a storage verb is called on an embedded type.
	ErrEmbedded = fmt.Errorf("embedded documents have no collection: %w", domain.ErrInvalidArgument)

	// ErrUnknownField is returned when setting a field the schema does not declare.
	ErrUnknownField = errors.New("unknown field")
)
