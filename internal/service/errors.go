package service

import (
	"fmt"
	"net/http"
)

// Error codes returned to clients in the normalized error shape.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeWeakPassword       = "weak_password"
	CodeInvalidCredentials = "invalid_credentials"
	CodeTokenExpired       = "token_expired"
	CodeTokenInvalid       = "token_invalid"
	CodeUnauthenticated    = "unauthenticated"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeDeliveryFailed     = "delivery_failed"
	CodeStorageUnavailable = "storage_unavailable"
)

// Error standardizes user-facing session errors.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newError(code, desc string, status int) *Error {
	return &Error{Code: code, Description: desc, Status: status}
}

func errInvalidRequest(desc string) *Error {
	return newError(CodeInvalidRequest, desc, http.StatusBadRequest)
}

func errWeakPassword() *Error {
	return newError(CodeWeakPassword, "Password must be at least 8 characters and include upper, lower, digit, and symbol.", http.StatusBadRequest)
}

// errInvalidCredentials is the uniform login failure: the same error for an
// unknown email and a wrong password, so responses never reveal which it was.
func errInvalidCredentials() *Error {
	return newError(CodeInvalidCredentials, "Wrong email or password.", http.StatusBadRequest)
}

func errTokenExpired() *Error {
	return newError(CodeTokenExpired, "Token expired.", http.StatusUnauthorized)
}

func errTokenInvalid() *Error {
	return newError(CodeTokenInvalid, "Invalid token.", http.StatusUnauthorized)
}

func errConflict(desc string) *Error {
	return newError(CodeConflict, desc, http.StatusConflict)
}

func errNotFound(desc string) *Error {
	return newError(CodeNotFound, desc, http.StatusNotFound)
}

func errDeliveryFailed() *Error {
	return newError(CodeDeliveryFailed, "Email could not be delivered; the link remains valid for a resend.", http.StatusAccepted)
}

func errStorageUnavailable() *Error {
	return newError(CodeStorageUnavailable, "Avatar storage is not configured.", http.StatusServiceUnavailable)
}
