package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode string

const (
	ErrInternalServer             ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInvalidInput               ErrorCode = "INVALID_INPUT"
	ErrInvalidRequestData         ErrorCode = "INVALID_REQUEST_DATA"
	ErrUnauthorized               ErrorCode = "UNAUTHORIZED"
	ErrForbidden                  ErrorCode = "FORBIDDEN"
	ErrNotFound                   ErrorCode = "NOT_FOUND"
	ErrAlreadyExists              ErrorCode = "ALREADY_EXISTS"
	ErrTokenExpired               ErrorCode = "TOKEN_EXPIRED"
	ErrInvalidTokenFormat         ErrorCode = "INVALID_TOKEN_FORMAT"
	ErrMissingAuthorizationHeader ErrorCode = "MISSING_AUTHORIZATION_HEADER"
	ErrGetFailed                  ErrorCode = "GET_FAILED"
	ErrCreateFailed               ErrorCode = "CREATE_FAILED"
	ErrUpdateFailed               ErrorCode = "UPDATE_FAILED"
	ErrDeleteFailed               ErrorCode = "DELETE_FAILED"
)

// Ledger integration codes.
const (
	ErrNotConfigured           ErrorCode = "NOT_CONFIGURED"
	ErrInvalidOrExpiredState   ErrorCode = "INVALID_OR_EXPIRED_STATE"
	ErrInvalidGrant            ErrorCode = "INVALID_GRANT"
	ErrInvalidClient           ErrorCode = "INVALID_CLIENT"
	ErrInvalidRedirectURI      ErrorCode = "INVALID_REDIRECT_URI"
	ErrExchangeFailed          ErrorCode = "EXCHANGE_FAILED"
	ErrNoRefreshToken          ErrorCode = "NO_REFRESH_TOKEN"
	ErrInvalidRefreshToken     ErrorCode = "INVALID_REFRESH_TOKEN"
	ErrReauthorizationRequired ErrorCode = "REAUTHORIZATION_REQUIRED"
	ErrTimeout                 ErrorCode = "TIMEOUT"
	ErrRateLimited             ErrorCode = "RATE_LIMITED"
	ErrNoTenants               ErrorCode = "NO_TENANTS"
	ErrRemoteRequestFailed     ErrorCode = "REMOTE_REQUEST_FAILED"
)

// Corrective actions presented to the end user.
const (
	ActionNone        = "none"
	ActionReconfigure = "reconfigure"
	ActionReconnect   = "reconnect"
	ActionRetry       = "retry"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
	Details any       `json:"details,omitempty"`
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches machine-readable detail (usually the remote error) to the error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Code returns the code of the outermost AppError in err's chain, or "" if there is none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return ""
}

// Is reports whether the outermost AppError in err's chain has the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// As is a shortcut for errors.As against *AppError.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// Action maps a code to the corrective action the user has to take.
func Action(code ErrorCode) string {
	switch code {
	case ErrNotConfigured, ErrInvalidClient, ErrInvalidRedirectURI:
		return ActionReconfigure
	case ErrInvalidOrExpiredState, ErrInvalidGrant, ErrInvalidRefreshToken,
		ErrReauthorizationRequired, ErrNoRefreshToken, ErrNoTenants:
		return ActionReconnect
	case ErrTimeout, ErrUnauthorized, ErrRateLimited, ErrRemoteRequestFailed, ErrExchangeFailed:
		return ActionRetry
	default:
		return ActionNone
	}
}
