// Package errors provides structured error handling with error codes for
// simple-auth.
//
// Services return *Error values carrying a machine-checkable ErrorCode and a
// human-readable message; the HTTP layer maps codes to status codes with
// MapErrorCodeToHTTPStatus. Wrapped internal failures keep their cause via
// Unwrap but surface only as INTERNAL_ERROR to callers.
//
//	err := errors.New(errors.ErrCodeConflict, "email already registered")
//	if errors.IsCode(err, errors.ErrCodeConflict) { ... }
package errors
