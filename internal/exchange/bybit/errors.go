package bybit

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Error is a non-zero retCode response from the exchange. It signals a
// malformed or policy-violating request, never a transient fault, so it is
// not retried.
type Error struct {
	Code    int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit v5 retCode values the bot needs to distinguish.
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodePermissionDenied    = 10010
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeServerError         = 10016
	ErrCodeAccountTypeMismatch = 10020
	ErrCodeInsufficientBalance = 170131
	ErrCodeQtyTooSmall         = 170140
	ErrCodePriceNotOnTick      = 170134
)

// apiError builds an *Error from a response retCode/retMsg pair.
func apiError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return &Error{Code: retCode, Message: retMsg}
}

// IsRetryable reports whether an error is a transient fault worth another
// attempt: transport failures, timeouts, and the retCodes the exchange tags
// as temporary (rate limit, internal server error).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeRateLimitExceeded, ErrCodeServerError:
			return true
		}
		return false
	}
	return isTransportError(err)
}

// IsAuthError reports whether an error is a credential or permission
// failure. Auth failures are never transient; during an account-type probe
// they only exhaust the current candidate.
func IsAuthError(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp, ErrCodePermissionDenied:
			return true
		}
	}
	return false
}

// IsRejected reports whether an error is an exchange rejection (non-zero
// retCode) as opposed to a transport failure.
func IsRejected(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}

// IsInsufficientBalance reports whether the exchange rejected an order for
// lack of funds.
func IsInsufficientBalance(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeInsufficientBalance
	}
	return false
}

// isAccountTypeError reports whether a wallet query failed because the
// probed account type does not exist for these credentials.
func isAccountTypeError(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrCodeAccountTypeMismatch
	}
	return false
}

// isTransportError reports whether an error happened at the network layer:
// dial failures, resets, timeouts.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// IsPreSubmission reports whether a place-order failure is guaranteed to
// have happened before any request left the client, making a retry safe for
// a mutating call. Dial-level failures and auth rejections qualify; timeouts
// do not, because the order may already have been accepted.
func IsPreSubmission(err error) bool {
	if IsAuthError(err) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
