package domain

import "errors"

var (
	// ErrQueueEmpty signals that no delivery task is currently eligible.
	ErrQueueEmpty = errors.New("delivery queue is empty")

	// ErrPublishInFlight signals a reservation that was committed without a
	// response and is still within its pending lease.
	ErrPublishInFlight = errors.New("publish for this idempotency key is in flight")

	ErrOperatorNotFound = errors.New("operator not found")
	ErrSubscriberExists = errors.New("subscriber already exists")
	ErrTokenNotFound    = errors.New("confirmation token not found")
)

// IsPermanentSendFailure reports whether err represents a send failure that
// must not be retried.
func IsPermanentSendFailure(err error) bool {
	var perm *PermanentSendError
	return errors.As(err, &perm)
}
