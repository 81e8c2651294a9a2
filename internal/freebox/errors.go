package freebox

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the Freebox answers HTTP 403. It means the
// session (or the credential behind it) is no longer accepted, not that the
// request itself was malformed.
var ErrForbidden = errors.New("freebox: forbidden")

// APIError is a request the Freebox understood but refused: the JSON envelope
// came back with success=false and an error message.
type APIError struct {
	Endpoint string
	Code     string
	Msg      string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Endpoint, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Msg)
}
