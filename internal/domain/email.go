package domain

import "context"

// EmailMessage is one outgoing email.
type EmailMessage struct {
	Recipient string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// EmailSender is the transport capability. Implementations must respect ctx
// deadlines. Errors are transient unless wrapped in PermanentSendError.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// PermanentSendError marks a send failure that retrying cannot fix, e.g. a
// recipient the transport rejects outright.
type PermanentSendError struct {
	Err error
}

func (e *PermanentSendError) Error() string { return "permanent send failure: " + e.Err.Error() }
func (e *PermanentSendError) Unwrap() error { return e.Err }
