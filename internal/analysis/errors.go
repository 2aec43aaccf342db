package analysis

import (
	"errors"
)

// DefaultErrorMessage is reported when a failure carries no usable message.
const DefaultErrorMessage = "Analysis failed"

// Detailer is implemented by errors that carry a structured, user-facing
// detail message from the backend.
type Detailer interface {
	Detail() string
}

// ErrorMessage normalizes an analyze failure into one display string: the
// structured detail if present, else the error text, else DefaultErrorMessage.
func ErrorMessage(err error) string {
	if err == nil {
		return DefaultErrorMessage
	}

	var d Detailer
	if errors.As(err, &d) {
		if detail := d.Detail(); detail != "" {
			return detail
		}
	}

	if msg := err.Error(); msg != "" {
		return msg
	}

	return DefaultErrorMessage
}
