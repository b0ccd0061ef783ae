package apiclient

import (
	"errors"
	"net/http"
)

var (
	// ErrSessionExpired means the server rejected the attached credential. The
	// session has already been torn down by the time a caller sees it, so
	// callers must not report it again.
	ErrSessionExpired = errors.New("session expired")
	// ErrRequestFailed is the kind wrapped by every *RequestError.
	ErrRequestFailed = errors.New("request failed")
	// ErrNetwork means no response was received.
	ErrNetwork = errors.New("network error")
)

const genericFailureMessage = "Request failed"

// RequestError is a server-side rejection. Message is the server's detail
// text when it sent one.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return genericFailureMessage
}

func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRequestFailed, e.Err}
	}
	return []error{ErrRequestFailed}
}

// IsHandledGlobally reports whether err was already dealt with by the session
// teardown path and should not be shown to the user.
func IsHandledGlobally(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// Message returns the text to show the user for err.
func Message(err error) string {
	var reqErr *RequestError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &reqErr):
		return reqErr.Error()
	case errors.Is(err, ErrSessionExpired):
		return "Session expired"
	case errors.Is(err, ErrNetwork):
		return "Network error, please retry"
	default:
		return err.Error()
	}
}
