package medtrum

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Every transport error matches ErrAPI; the
// specialisations also match their own sentinel.
var (
	ErrAPI            = errors.New("medtrum api error")
	ErrAuthentication = errors.New("medtrum authentication error")
	ErrCommunication  = errors.New("medtrum communication error")
)

// AuthenticationError reports rejected credentials or an invalid session.
type AuthenticationError struct {
	Reason string
	Status int
}

func (e *AuthenticationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("medtrum authentication failed (http %d): %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("medtrum authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication || target == ErrAPI
}

// CommunicationError reports timeouts, network failures and non-2xx responses.
type CommunicationError struct {
	Reason string
	Status int
	Body   string
	Err    error
}

func (e *CommunicationError) Error() string {
	msg := "medtrum communication error: " + e.Reason
	if e.Status != 0 {
		msg = fmt.Sprintf("medtrum communication error: http %d", e.Status)
		if e.Body != "" {
			msg += ": " + e.Body
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

func (e *CommunicationError) Is(target error) bool {
	return target == ErrCommunication || target == ErrAPI
}

// APIError is anything unexpected; the cause is kept for diagnostics.
type APIError struct {
	Reason string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("medtrum api error: %s: %v", e.Reason, e.Err)
	}
	return "medtrum api error: " + e.Reason
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}
