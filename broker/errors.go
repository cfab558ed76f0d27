package broker

import (
	"errors"
	"fmt"
)

// ErrDisconnected is returned for requests in flight when the connection
// drops. It is transient: the caller may retry after the client reconnects.
var ErrDisconnected = errors.New("broker: connection lost")

// AuthError is a permanent authorization failure (bad or expired token).
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("broker: authorization failed: %s (%s)", e.Message, e.Code)
}

// ProposalError is a permanent per-request rejection of a proposal or buy.
type ProposalError struct {
	Code    string
	Message string
}

func (e *ProposalError) Error() string {
	return fmt.Sprintf("broker: proposal rejected: %s (%s)", e.Message, e.Code)
}

// APIError is any other error envelope returned by the broker. Callers treat
// it as a logical failure: skip the offending item, do not retry blindly.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker: %s (%s)", e.Message, e.Code)
}

// IsAuthError reports whether err is a permanent authorization failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is worth retrying: network trouble and
// dropped connections are, broker-side rejections are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var (
		ae *AuthError
		pe *ProposalError
		ge *APIError
	)
	if errors.As(err, &ae) || errors.As(err, &pe) || errors.As(err, &ge) {
		return false
	}
	return true
}

var authErrorCodes = map[string]bool{
	"AuthorizationRequired": true,
	"InvalidToken":          true,
	"AccountDisabled":       true,
	"DisabledClient":        true,
}

// classifyError maps a wire error envelope onto the taxonomy. msgType is the
// request type the envelope answered.
func classifyError(msgType, code, message string) error {
	if authErrorCodes[code] || msgType == "authorize" {
		return &AuthError{Code: code, Message: message}
	}
	if msgType == "proposal" || msgType == "buy" {
		return &ProposalError{Code: code, Message: message}
	}
	return &APIError{Code: code, Message: message}
}
