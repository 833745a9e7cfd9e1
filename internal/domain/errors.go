package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArrangement is matched by every ConfigError.
	ErrInvalidArrangement = errors.New("invalid arrangement")
	// ErrArrangementNotFound indicates the arrangement could not be loaded.
	ErrArrangementNotFound = errors.New("arrangement not found")
	// ErrProgressNotFound is returned when a student acts before joining a live session.
	ErrProgressNotFound = errors.New("progress session not found")
	// ErrUnknownPolicy indicates an unsupported submission resolution policy.
	ErrUnknownPolicy = errors.New("unknown resolution policy")
	// ErrInvalidAttempt indicates an attempt without a question id or with a negative number.
	ErrInvalidAttempt = errors.New("invalid attempt")
)

// ConfigError describes a malformed arrangement definition.
type ConfigError struct {
	Field   string `json:"field,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	Reason  string `json:"reason"`
}

func (e *ConfigError) Error() string {
	msg := "invalid arrangement"
	if e.GroupID != "" {
		msg += fmt.Sprintf(" (group %q)", e.GroupID)
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	return msg + ": " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrInvalidArrangement }
