package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// OAuth error codes returned by the token endpoint.
const (
	OAuthErrInvalidGrant       = "invalid_grant"
	OAuthErrInvalidClient      = "invalid_client"
	OAuthErrInvalidRedirectURI = "invalid_redirect_uri"
	OAuthErrUnauthorizedClient = "unauthorized_client"
)

// RemoteError is a non-2xx answer from the ledger.
type RemoteError struct {
	Endpoint    string `json:"endpoint"`
	StatusCode  int    `json:"status"`
	ErrorCode   string `json:"error,omitempty"`
	Description string `json:"error_description,omitempty"`
	Body        string `json:"body,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Endpoint, e.StatusCode, e.ErrorCode, e.Description)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
}

// AsRemoteError is a shortcut for errors.As against *RemoteError.
func AsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsTimeout reports whether err came from a deadline, a cancelled caller or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const maxErrorBody = 2048

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
