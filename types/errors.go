package types

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error so that callers can decide how to react
// without matching on messages.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransient covers RPC timeouts and unreachable gateways.
	KindTransient
	// KindConflict covers lost claim races and rounds that already moved on.
	KindConflict
	// KindAuthorization is returned when the caller does not own the round.
	KindAuthorization
	// KindIntegrity is returned when fetched content fails size or hash checks.
	KindIntegrity
	// KindCapacity means the concurrency cap is reached.
	KindCapacity
	// KindConfiguration errors are fatal at startup.
	KindConfiguration
	KindNotFound
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindIntegrity:
		return "integrity"
	case KindCapacity:
		return "capacity"
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not-found"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and an operation name.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

type kindedError struct {
	kind Kind
	msg  string
}

func (e *kindedError) Error() string { return e.msg }

func newKinded(kind Kind, msg string) error {
	return &kindedError{kind: kind, msg: msg}
}

var (
	ErrRoundNotFound     = newKinded(KindNotFound, "round not found")
	ErrNotRoundValidator = newKinded(KindAuthorization, "caller is not the validator of this round")
	ErrRoundNotAbortable = newKinded(KindConflict, "round cannot be aborted in its current status")
	ErrLostRace          = newKinded(KindConflict, "round was claimed by another validator")

	ErrAllGatewaysFailed = newKinded(KindTransient, "all gateways failed")
	ErrIntegrity         = newKinded(KindIntegrity, "content failed integrity check")
	ErrUnknownDataset    = newKinded(KindNotFound, "unknown dataset")
	ErrUnknownCategory   = newKinded(KindNotFound, "unknown dataset category")
	ErrNoSource          = newKinded(KindNotFound, "no source known for dataset")

	ErrMissingSigningKey = newKinded(KindConfiguration, "no signing key provided")
	ErrInvalidKey        = newKinded(KindConfiguration, "invalid private key material")
	ErrUnknownConfigKey  = newKinded(KindInvalid, "unknown config key")
	ErrInvalidStatus     = newKinded(KindInvalid, "invalid round status")
)

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	var k *kindedError
	if errors.As(err, &k) {
		return k.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}
