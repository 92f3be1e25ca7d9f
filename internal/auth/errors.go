package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation     = errors.New("auth: validation failed")
	ErrConflict       = errors.New("auth: conflict")
	ErrAuthentication = errors.New("auth: invalid credentials")
	ErrAuthorization  = errors.New("auth: forbidden")
	ErrNotFound       = errors.New("auth: not found")
)

// ErrTokenReplayed marks a refresh token that was already rotated or revoked.
var ErrTokenReplayed = fmt.Errorf("%w: refresh token replayed", ErrAuthentication)

// ValidationError carries field level reasons. It matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalidField(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}
