// Package agentderr defines the single domain error kind shared by every
// integration-runtime component, plus the transient/permanent classifier
// used by the OAuth Refresh Manager's retry loop.
package agentderr

import (
	"fmt"
	"strings"
)

// Code is a documented sub-code of IntegrationError.
type Code string

const (
	CodeConnection      Code = "CONNECTION"
	CodeAuth            Code = "AUTH"
	CodeOperation       Code = "OPERATION"
	CodeValidation      Code = "VALIDATION"
	CodeStateTransition Code = "STATE_TRANSITION"
)

// IntegrationError is the single domain error kind for the integration
// runtime. All public methods return a Result-shaped (value, error) pair
// built from this type rather than panicking or propagating arbitrary
// errors across module boundaries.
type IntegrationError struct {
	Msg   string
	Code  Code
	Cause error
}

func New(code Code, msg string) *IntegrationError {
	return &IntegrationError{Msg: msg, Code: code}
}

func Wrap(code Code, msg string, cause error) *IntegrationError {
	return &IntegrationError{Msg: msg, Code: code, Cause: cause}
}

func (e *IntegrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[INTEGRATION_ERROR:%s] %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("[INTEGRATION_ERROR:%s] %s", e.Code, e.Msg)
}

func (e *IntegrationError) Unwrap() error {
	return e.Cause
}

// ErrorKind always reports "INTEGRATION_ERROR" per §7, distinguishable from
// the crypto layer's own AUTH_ERROR kind by message/cause.
func (e *IntegrationError) ErrorKind() string {
	return "INTEGRATION_ERROR"
}

// CryptoError is the crypto layer's own error kind (§7), wrapped into an
// IntegrationError by the Vault rather than surfaced directly.
type CryptoError struct {
	Msg   string
	Cause error
}

func (e *CryptoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[AUTH_ERROR] %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("[AUTH_ERROR] %s", e.Msg)
}

func (e *CryptoError) Unwrap() error {
	return e.Cause
}

func (e *CryptoError) ErrorKind() string {
	return "AUTH_ERROR"
}

// transientSubstrings is the default case-insensitive transient classifier
// per §4.4: a substring match against the error message or its cause.
var transientSubstrings = []string{
	"timeout", "timed out", "network", "temporar", "rate limit",
	"429", "502", "503", "econnreset", "enotfound", "eai_again", "fetch failed",
}

// Classifier decides whether an error is worth retrying.
type Classifier func(err error) bool

// DefaultClassifier implements the §4.4 substring heuristic. Implementations
// MUST be able to override it (see refresh.Options.Classifier).
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	if cause := causeOf(err); cause != nil && cause != err {
		return DefaultClassifier(cause)
	}
	return false
}

func causeOf(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}
