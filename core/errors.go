package core

import (
	"errors"
	"fmt"
)

// ConfigError reports a malformed, duplicate or dangling configuration record.
// Loaders return it before anything is exposed, so a registry is either whole or absent.
type ConfigError struct {
	Source string // file or definition kind, e.g. "personas"
	ID     string // offending record id, empty for file-level problems
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.ID != "" {
		msg += fmt.Sprintf(" %q", e.ID)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown persona, topic or session id.
type NotFoundError struct {
	Kind string // "persona", "topic", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// GenerationError reports a failed, timed out or empty language model call.
type GenerationError struct {
	PersonaID string
	Turn      int
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %q at turn %d: %v", e.PersonaID, e.Turn, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SynthesisError reports a failed or timed out voice backend call.
type SynthesisError struct {
	Backend string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis via %s failed: %v", e.Backend, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ErrEmptyGeneration is wrapped by GenerationError when the model returned only whitespace.
var ErrEmptyGeneration = errors.New("empty generation")

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
