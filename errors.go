package popchat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no session user can be resolved.
	// Callers should fall back to their login state.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrNotConnected is returned by the transport while it has no live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrRequestTimeout is returned when a request is not acknowledged in time.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrNoOpenConversation is returned by actions that work on the open conversation.
	ErrNoOpenConversation = errors.New("no open conversation")
	// ErrNotARoom is returned by room actions while a direct chat is open.
	ErrNotARoom = errors.New("open conversation is not a room")
	// ErrDeclined is returned when the user declines a confirmation.
	ErrDeclined = errors.New("declined")
)

// APIError is a request the server answered with a non-success status. Message
// is the reason the server gave and is meant for the user.
type APIError struct {
	Event      string `json:"event"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d: %s", e.Event, e.StatusCode, e.Message)
}

func rejected(event string, resp *Response) *APIError {
	return &APIError{Event: event, StatusCode: resp.StatusCode, Message: resp.Message}
}

// IsRejected reports whether err is a server rejection and returns it.
func IsRejected(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
