package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FieldError names the config path a value was rejected at.
type FieldError struct {
	Path string
	Err  error
}

func (e *FieldError) Error() string { return e.Path + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

var ErrNegativeDuration = errors.New("duration must be >= 0")

// ParseDurationField parses an optional Go duration. Empty yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &FieldError{Path: path, Err: fmt.Errorf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Err: ErrNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
