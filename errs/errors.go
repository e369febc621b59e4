// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

// Package errs defines the error-kind taxonomy and propagation policy (§7):
// validation errors attributable to a sender, drop errors, transient
// errors, and fatal errors that must terminate the process.
package errs

import (
	"errors"
	"fmt"

	"github.com/hwdag/hwnode/common"
)

// Kind classifies an error for the propagation policy of §7.
type Kind uint8

const (
	// KindValidation marks an error attributable to the message's sender.
	KindValidation Kind = iota
	// KindDrop marks an unattributable shape issue: log and drop silently.
	KindDrop
	// KindTransient marks a storage/engine/peer error: retry under backoff.
	KindTransient
	// KindFatal marks a data-corruption or self-equivocation invariant
	// violation: terminate the process.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDrop:
		return "drop"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ValidationSubKind narrows a KindValidation error to the specific check
// that failed, matching §4.2's InvalidBlock(kind) taxonomy.
type ValidationSubKind uint8

const (
	SubKindShape ValidationSubKind = iota
	SubKindSignature
	SubKindTimestamp
	SubKindParents
	SubKindTransaction
	SubKindEquivocation
	SubKindMissingDep
)

func (s ValidationSubKind) String() string {
	switch s {
	case SubKindShape:
		return "shape"
	case SubKindSignature:
		return "signature"
	case SubKindTimestamp:
		return "timestamp"
	case SubKindParents:
		return "parents"
	case SubKindTransaction:
		return "transaction"
	case SubKindEquivocation:
		return "equivocation"
	case SubKindMissingDep:
		return "missing-dep"
	default:
		return "unknown"
	}
}

// Error is the taxonomy-tagged error type propagated by the consensus core.
type Error struct {
	Kind Kind
	Sub  ValidationSubKind // only meaningful when Kind == KindValidation
	Hash common.Hash       // the message hash this error is attributable to, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindValidation {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Sub, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation wraps err as a KindValidation error attributable to hash.
func Validation(sub ValidationSubKind, hash common.Hash, err error) *Error {
	return &Error{Kind: KindValidation, Sub: sub, Hash: hash, Err: err}
}

// Drop wraps err as a KindDrop error.
func Drop(err error) *Error { return &Error{Kind: KindDrop, Err: err} }

// Transient wraps err as a KindTransient error.
func Transient(err error) *Error { return &Error{Kind: KindTransient, Err: err} }

// Fatal wraps err as a KindFatal error.
func Fatal(err error) *Error { return &Error{Kind: KindFatal, Err: err} }

// IsRetriable reports whether the caller should retry the operation that
// produced err under backoff (§7 transient-error policy).
func IsRetriable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindTransient
}

// IsFatal reports whether err must terminate the process.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindFatal
}

// KindOf extracts the Kind of err, defaulting to KindValidation for
// unrecognized errors (fail closed: treat unknown shapes as attributable).
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindValidation
	}
	return e.Kind
}

// BanHandler is invoked by the executor when an attributable validation
// error is recorded, to let the supervisor apply a ban/temp-ban policy
// without this package implementing p2p banning itself.
type BanHandler func(sender common.PublicKey, sub ValidationSubKind)

// FatalHandler is invoked on a KindFatal error. Production wiring defaults
// to a handler that logs at Crit and calls os.Exit; tests inject a handler
// that records the call instead, so self-equivocation handling (§4.2,
// S3) is exercised without terminating the test process.
type FatalHandler func(err *Error)
