package errors

import "fmt"

// ClientGone creates an error for a client whose transport is dead: remote
// death, socket close, or a cancelled delivery sink.
func ClientGone(client string, cause error) *Error {
	return Wrap(cause, ErrCodeClientGone, fmt.Sprintf("client gone: %s", client)).
		WithDetail("client", client)
}

// Expired creates an error for a registration past its deadline.
func Expired(client string) *Error {
	return New(ErrCodeExpired, fmt.Sprintf("registration expired: %s", client)).
		WithDetail("client", client)
}

// AppOpDenied creates an error for a delivery suppressed by app-ops.
func AppOpDenied(client string) *Error {
	return New(ErrCodeAppOpDenied, fmt.Sprintf("app op denied: %s", client)).
		WithDetail("client", client)
}

// ProviderDisabled creates an error for an operation against a provider
// that is disabled for the given user.
func ProviderDisabled(provider string, userID int) *Error {
	return New(ErrCodeProviderDisabled,
		fmt.Sprintf("provider %s disabled for user %d", provider, userID)).
		WithDetail("provider", provider).
		WithDetail("user", userID)
}

// InvalidFix creates an error for an incoming fix that fails validation.
func InvalidFix(reason string) *Error {
	return New(ErrCodeInvalidFix, fmt.Sprintf("invalid fix: %s", reason))
}

// NotMock creates an error for mock API misuse against a real provider.
func NotMock(provider string) *Error {
	return New(ErrCodeNotMock, fmt.Sprintf("provider %s is not a test provider", provider)).
		WithDetail("provider", provider)
}

// NotStarted creates an error for calls against a manager that has not
// been started or has been stopped.
func NotStarted(provider string) *Error {
	return New(ErrCodeNotStarted, fmt.Sprintf("provider manager %s is not started", provider)).
		WithDetail("provider", provider)
}

// InvalidInput creates a configuration-time validation error.
func InvalidInput(reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid input: %s", reason))
}

// Internal creates an error for an invariant violation. These are
// programmer bugs and are never absorbed.
func Internal(err error) *Error {
	return Wrap(err, ErrCodeInternal, "internal invariant violation")
}
