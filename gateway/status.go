package gateway

import (
	"errors"
	"fmt"

	"github.com/jrife/kvgate/storage/kv"
	"github.com/jrife/kvgate/storage/kv/keys"
)

// Status is the outcome of a gateway call
type Status int

const (
	// StatusOK means the call succeeded
	StatusOK Status = iota
	// StatusErr means the call failed. The reason is available
	// once through LastError.
	StatusErr
	// StatusAgain means an output region was too small. Lengths
	// reported by the call tell the caller how much room to give
	// the retry.
	StatusAgain
)

func (status Status) String() string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusErr:
		return "err"
	case StatusAgain:
		return "again"
	}

	return fmt.Sprintf("status(%d)", int(status))
}

// ResultFlags describe the outcome of a single operation
type ResultFlags uint8

const (
	// FlagNotFound is set on a Get whose key does not exist
	FlagNotFound ResultFlags = 1 << iota
	// FlagAgain is set on a Get whose output region could not
	// hold the value
	FlagAgain
)

// Has reports whether every bit of flag is set
func (flags ResultFlags) Has(flag ResultFlags) bool {
	return flags&flag == flag
}

var (
	// ErrClosed is returned by calls made after Close
	ErrClosed = errors.New("handle was closed")
	// ErrKeyRequired is returned when an operation has an empty key
	ErrKeyRequired = keys.ErrKeyRequired
	// ErrLengthMismatch is returned when parallel argument slices
	// have different lengths
	ErrLengthMismatch = errors.New("argument lengths do not match")
	// ErrReadOnlyBatch is returned when a read batch contains an
	// operation that modifies the store
	ErrReadOnlyBatch = errors.New("operation is not allowed in a read batch")
	// ErrDefaultDatabase is returned when creating or dropping
	// the default database
	ErrDefaultDatabase = errors.New("operation requires a named database")
	// ErrUnknownOperation is returned for an unrecognized op code
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrBufferTooSmall is never reported as a failure. It describes
	// why a call returned StatusAgain.
	ErrBufferTooSmall = errors.New("output buffer too small")
)

// ErrorClass groups errors by how the gateway reacts to them
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNotFound
	ClassBufferTooSmall
	ClassTxnInvalid
	ClassStoreFailure
	ClassProtocolMisuse
)

func (class ErrorClass) String() string {
	switch class {
	case ClassNone:
		return "none"
	case ClassNotFound:
		return "not_found"
	case ClassBufferTooSmall:
		return "buffer_too_small"
	case ClassTxnInvalid:
		return "txn_invalid"
	case ClassStoreFailure:
		return "store_failure"
	case ClassProtocolMisuse:
		return "protocol_misuse"
	}

	return fmt.Sprintf("class(%d)", int(class))
}

var protocolErrors = []error{
	ErrClosed,
	ErrKeyRequired,
	keys.ErrKeyTooLarge,
	ErrLengthMismatch,
	ErrReadOnlyBatch,
	ErrDefaultDatabase,
	kv.ErrDefaultDatabase,
	ErrUnknownOperation,
}

// Classify maps an error returned by the gateway or the
// storage layer to its class
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	for _, protocolErr := range protocolErrors {
		if errors.Is(err, protocolErr) {
			return ClassProtocolMisuse
		}
	}

	switch {
	case errors.Is(err, kv.ErrNotFound), errors.Is(err, kv.ErrNoSuchDatabase):
		return ClassNotFound
	case errors.Is(err, ErrBufferTooSmall):
		return ClassBufferTooSmall
	case errors.Is(err, kv.ErrTxnInvalid), errors.Is(err, kv.ErrTxnDone):
		return ClassTxnInvalid
	}

	return ClassStoreFailure
}

func wrapError(wrap string, err error) error {
	switch err {
	case kv.ErrClosed:
		return ErrClosed
	case ErrClosed:
		fallthrough
	case nil:
		return err
	}

	return fmt.Errorf("%s: %w", wrap, err)
}
