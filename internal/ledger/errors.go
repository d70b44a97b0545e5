package ledger

import (
	"errors"
	"fmt"
)

// Kind names a failure mode of the ledger.
type Kind string

const (
	KindEmptyChain         Kind = "EmptyChain"
	KindMissingSequence    Kind = "MissingSequence"
	KindDataTampered       Kind = "DataTampered"
	KindChainBroken        Kind = "ChainBroken"
	KindClonedData         Kind = "ClonedData"
	KindSequenceMismatch   Kind = "SequenceMismatch"
	KindCacheMissing       Kind = "CacheMissing"
	KindCheckpointMismatch Kind = "CheckpointMismatch"
	KindTamperSuspected    Kind = "TamperSuspected"
	KindChainNotTrusted    Kind = "ChainNotTrusted"
	KindDuplicateData      Kind = "DuplicateData"
	KindNoGenesis          Kind = "NoGenesis"
	KindGenesisExists      Kind = "GenesisExists"
	KindEncodingError      Kind = "EncodingError"
	KindIntegrityFailure   Kind = "IntegrityFailure"
	KindCheckpointStale    Kind = "CheckpointStale"
	KindNotFound           Kind = "NotFound"

	KindStoreUnavailable Kind = "StoreUnavailable"
	KindAppendConflict   Kind = "AppendConflict"
)

// Class separates suspected compromise from transient infrastructure faults.
type Class int

const (
	// ClassIntegrity failures are surfaced verbatim and never retried.
	ClassIntegrity Class = iota
	// ClassInfrastructure failures may be retried with backoff.
	ClassInfrastructure
)

func (c Class) String() string {
	if c == ClassInfrastructure {
		return "infrastructure"
	}
	return "integrity"
}

// Class returns the class k belongs to.
func (k Kind) Class() Class {
	switch k {
	case KindStoreUnavailable, KindAppendConflict:
		return ClassInfrastructure
	default:
		return ClassIntegrity
	}
}

// Error is the structured error returned by every ledger entry point.
type Error struct {
	Kind     Kind
	Sequence int64 // offending record, 0 when not applicable
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message or sequence.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrEmptyChain         = &Error{Kind: KindEmptyChain}
	ErrMissingSequence    = &Error{Kind: KindMissingSequence}
	ErrDataTampered       = &Error{Kind: KindDataTampered}
	ErrChainBroken        = &Error{Kind: KindChainBroken}
	ErrClonedData         = &Error{Kind: KindClonedData}
	ErrSequenceMismatch   = &Error{Kind: KindSequenceMismatch}
	ErrCacheMissing       = &Error{Kind: KindCacheMissing}
	ErrCheckpointMismatch = &Error{Kind: KindCheckpointMismatch}
	ErrTamperSuspected    = &Error{Kind: KindTamperSuspected}
	ErrChainNotTrusted    = &Error{Kind: KindChainNotTrusted}
	ErrDuplicateData      = &Error{Kind: KindDuplicateData}
	ErrNoGenesis          = &Error{Kind: KindNoGenesis}
	ErrGenesisExists      = &Error{Kind: KindGenesisExists}
	ErrEncoding           = &Error{Kind: KindEncodingError}
	ErrIntegrityFailure   = &Error{Kind: KindIntegrityFailure}
	ErrCheckpointStale    = &Error{Kind: KindCheckpointStale}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
	ErrAppendConflict     = &Error{Kind: KindAppendConflict}
)

func newError(kind Kind, seq int64, format string, args ...any) *Error {
	return &Error{Kind: kind, Sequence: seq, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ClassOf returns the class of err. Errors outside the taxonomy are treated
// as infrastructure failures.
func ClassOf(err error) Class {
	if k, ok := KindOf(err); ok {
		return k.Class()
	}
	return ClassInfrastructure
}

// IsRetryable reports whether err may be retried.
func IsRetryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Class() == ClassInfrastructure
}

// unavailable classifies a store failure.
func unavailable(op string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Msg: op, Err: err}
}
