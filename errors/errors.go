// Package errors implements the error taxonomy of the consensus/network
// core. It is a direct generalization of the teacher's errors.Error type:
// one wrapped error struct carrying a Kind instead of a gRPC status code.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the propagation policy of the spec.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindProtocol
	KindValidation
	KindConsensus
	KindCrypto
	KindPersistence
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "TransientNetworkError"
	case KindProtocol:
		return "ProtocolError"
	case KindValidation:
		return "ValidationError"
	case KindConsensus:
		return "ConsensusError"
	case KindCrypto:
		return "CryptoError"
	case KindPersistence:
		return "PersistenceError"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the single error type used across the module.
type Error struct {
	Kind       Kind
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.WrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.WrappedErr)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var ue *Error
	if errors.As(target, &ue) {
		return e.Kind == ue.Kind
	}
	return false
}

func New(kind Kind, message string, wrapped error) *Error {
	return &Error{Kind: kind, Message: message, WrappedErr: wrapped}
}

func NewTransientNetworkError(message string, wrapped error) *Error {
	return New(KindTransientNetwork, message, wrapped)
}

func NewProtocolError(message string, wrapped error) *Error {
	return New(KindProtocol, message, wrapped)
}

func NewValidationError(message string, wrapped error) *Error {
	return New(KindValidation, message, wrapped)
}

func NewConsensusError(message string, wrapped error) *Error {
	return New(KindConsensus, message, wrapped)
}

func NewCryptoError(message string, wrapped error) *Error {
	return New(KindCrypto, message, wrapped)
}

func NewPersistenceError(message string, wrapped error) *Error {
	return New(KindPersistence, message, wrapped)
}

func NewFatalError(message string, wrapped error) *Error {
	return New(KindFatal, message, wrapped)
}

// Of reports whether err's Kind matches kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
