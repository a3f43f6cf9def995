package domain

import "errors"

// Sentinel errors of the delivery core. Callers match with errors.Is and
// translate to wire error codes at the session boundary.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotMember        = errors.New("user is not a room member")
	ErrNotFound         = errors.New("message not found")
	ErrNotOwner         = errors.New("message belongs to another sender")
	ErrReplyNotInRoom   = errors.New("reply target is not in the same room")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Wire error codes reported to the sending client only.
const (
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNotOwner         = "NOT_OWNER"
	ErrCodeReplyNotInRoom   = "REPLY_NOT_IN_ROOM"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// WireCode maps a core error to its client-facing code.
func WireCode(err error) string {
	switch {
	case errors.Is(err, ErrReplyNotInRoom):
		return ErrCodeReplyNotInRoom
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoomNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrNotOwner):
		return ErrCodeNotOwner
	case errors.Is(err, ErrNotMember):
		return ErrCodeAuthFailed
	case errors.Is(err, ErrStoreUnavailable):
		return ErrCodeStoreUnavailable
	default:
		return ErrCodeStoreUnavailable
	}
}

// Retryable reports whether the client may retry the failed operation on the
// same connection. Transient store failures are retryable; validation and
// authorization failures are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
