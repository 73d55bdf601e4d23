package purchase

import (
	"errors"
	"unicode/utf8"
)

// ErrBusy is returned when Purchase is called while an attempt is in flight.
var ErrBusy = errors.New("a purchase is already in progress")

// ErrorKind tags a purchase failure for presentation.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindBuild                ErrorKind = "build"
	KindSigning              ErrorKind = "signing"
	KindNetwork              ErrorKind = "network"
	KindVerificationRejected ErrorKind = "verification_rejected"
	KindBackend              ErrorKind = "backend"
	KindIdempotent           ErrorKind = "idempotent"
	KindInternal             ErrorKind = "internal"
)

// MessageGeneric is shown when a failure carries no usable text.
const MessageGeneric = "Something went wrong. Please try again in a while."

const shortMessageLimit = 100

// ErrorInfo is the single error slot of a purchase attempt. Idempotent
// outcomes use it too, with KindIdempotent.
type ErrorInfo struct {
	Kind    ErrorKind
	Message string
}

func (e *ErrorInfo) Error() string {
	return e.Message
}

// Informational reports whether the entry should be styled as a notice rather than a failure.
func (e *ErrorInfo) Informational() bool {
	return e.Kind == KindIdempotent
}

// Short returns Message cut to 100 characters for toast-sized display.
func (e *ErrorInfo) Short() string {
	if utf8.RuneCountInString(e.Message) <= shortMessageLimit {
		return e.Message
	}
	runes := []rune(e.Message)
	return string(runes[:shortMessageLimit]) + "..."
}
