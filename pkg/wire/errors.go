package wire

import "fmt"

// ErrorCode enumerates the protocol error kinds from spec.md §7.
type ErrorCode uint16

const (
	ErrorCodeDecode ErrorCode = iota + 1
	ErrorCodeSignatureInvalid
	ErrorCodePayloadHashMismatch
	ErrorCodeLogGap
	ErrorCodeMissingDependencies
	ErrorCodeDuplicateOperation
	ErrorCodeAuthRejected
	ErrorCodeCryptoFailure
	ErrorCodeNotAMember
	ErrorCodeUnknownChat
	ErrorCodeChannelClosed
	ErrorCodeUnexpectedMessage
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeDecode:
		return "DECODE_ERROR"
	case ErrorCodeSignatureInvalid:
		return "SIGNATURE_INVALID"
	case ErrorCodePayloadHashMismatch:
		return "PAYLOAD_HASH_MISMATCH"
	case ErrorCodeLogGap:
		return "LOG_GAP"
	case ErrorCodeMissingDependencies:
		return "MISSING_DEPENDENCIES"
	case ErrorCodeDuplicateOperation:
		return "DUPLICATE_OPERATION"
	case ErrorCodeAuthRejected:
		return "AUTH_REJECTED"
	case ErrorCodeCryptoFailure:
		return "CRYPTO_FAILURE"
	case ErrorCodeNotAMember:
		return "NOT_A_MEMBER"
	case ErrorCodeUnknownChat:
		return "UNKNOWN_CHAT"
	case ErrorCodeChannelClosed:
		return "CHANNEL_CLOSED"
	case ErrorCodeUnexpectedMessage:
		return "UNEXPECTED_MESSAGE"
	default:
		return fmt.Sprintf("UNKNOWN_%d", uint16(c))
	}
}

// Error is the typed protocol error used across ingest, authoring, and the
// space state machine (spec.md §7's error table). Its locally-recovered/
// surfaced propagation policy is enforced by each caller, not by Error
// itself — this type only carries the classification.
type Error struct {
	Code   ErrorCode
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func newError(code ErrorCode, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// ErrDecode wraps a malformed-frame/header/payload decode failure.
func ErrDecode(reason string) *Error { return newError(ErrorCodeDecode, reason) }

// ErrSignatureInvalid wraps an Ed25519 verification failure.
func ErrSignatureInvalid(reason string) *Error { return newError(ErrorCodeSignatureInvalid, reason) }

// ErrPayloadHashMismatch wraps a payload_hash/payload_size mismatch.
func ErrPayloadHashMismatch(reason string) *Error {
	return newError(ErrorCodePayloadHashMismatch, reason)
}

// ErrLogGap wraps a seq_num/backlink contiguity violation.
func ErrLogGap(reason string) *Error { return newError(ErrorCodeLogGap, reason) }

// ErrMissingDependencies wraps an operation parked pending previous hashes
// not yet present in the store.
func ErrMissingDependencies(reason string) *Error {
	return newError(ErrorCodeMissingDependencies, reason)
}

// ErrDuplicateOperation wraps an already-processed SpaceControlMessage.
func ErrDuplicateOperation(reason string) *Error {
	return newError(ErrorCodeDuplicateOperation, reason)
}

// ErrAuthRejected wraps a message rejected by the auth-DAG access policy.
func ErrAuthRejected(reason string) *Error { return newError(ErrorCodeAuthRejected, reason) }

// ErrCryptoFailure wraps a decryption/unsealing failure.
func ErrCryptoFailure(reason string) *Error { return newError(ErrorCodeCryptoFailure, reason) }

// ErrNotAMember is returned to the caller of send_message once self has
// been removed from a space.
func ErrNotAMember(reason string) *Error { return newError(ErrorCodeNotAMember, reason) }

// ErrUnknownChat is returned to the caller of a get_* accessor for an
// unrecognized ChatId.
func ErrUnknownChat(reason string) *Error { return newError(ErrorCodeUnknownChat, reason) }

// ErrChannelClosed wraps a fatal transport loss for a topic's ingest task.
func ErrChannelClosed(reason string) *Error { return newError(ErrorCodeChannelClosed, reason) }

// ErrUnexpectedMessage wraps a control message that references
// space-machine state not yet materialized — a message-ordering invariant
// violation that, per spec.md §4.6, "should not occur given invariant 4".
func ErrUnexpectedMessage(reason string) *Error {
	return newError(ErrorCodeUnexpectedMessage, reason)
}

// IsCode reports whether err is a *Error of the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
