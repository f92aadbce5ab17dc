// Package apperr defines the error taxonomy shared by the storage, access
// control, and HTTP layers.
//
// Errors are tagged goerr values: callers attach context with goerr.V and
// classify with a tag. The HTTP layer maps tags to status codes without
// inspecting messages, and storage failures are surfaced to clients as a
// generic failure while the full chain stays in the server log.
package apperr

import (
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

// Error category tags. Exactly one tag is attached per error.
var (
	TagValidation     = goerr.NewTag("validation")
	TagAuthentication = goerr.NewTag("authentication")
	TagAuthorization  = goerr.NewTag("authorization")
	TagConflict       = goerr.NewTag("conflict")
	TagNotFound       = goerr.NewTag("not_found")
	TagStorage        = goerr.NewTag("storage")
)

// Validation returns a validation error — malformed or missing required
// fields, rejected before any storage access.
func Validation(msg string, options ...goerr.Option) error {
	return goerr.New(msg, append(options, goerr.T(TagValidation))...)
}

// Authentication returns an error for absent or unverifiable credentials.
func Authentication(msg string, options ...goerr.Option) error {
	return goerr.New(msg, append(options, goerr.T(TagAuthentication))...)
}

// Authorization returns an error for valid credentials with insufficient
// permission. Always an explicit denial, never a silent omission.
func Authorization(msg string, options ...goerr.Option) error {
	return goerr.New(msg, append(options, goerr.T(TagAuthorization))...)
}

// Conflict returns an error for writes that would violate a storage
// invariant outside its own transactional path.
func Conflict(msg string, options ...goerr.Option) error {
	return goerr.New(msg, append(options, goerr.T(TagConflict))...)
}

// NotFound returns an error for an absent project, entity, or row.
func NotFound(msg string, options ...goerr.Option) error {
	return goerr.New(msg, append(options, goerr.T(TagNotFound))...)
}

// Storage wraps an underlying engine failure. The wrapped chain is logged
// server-side; clients only ever see the generic message.
func Storage(err error, msg string, options ...goerr.Option) error {
	return goerr.Wrap(err, msg, append(options, goerr.T(TagStorage))...)
}

// HTTPStatus maps an error to its HTTP status code. Untagged errors are
// treated as internal failures.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case goerr.HasTag(err, TagValidation):
		return http.StatusBadRequest
	case goerr.HasTag(err, TagAuthentication):
		return http.StatusUnauthorized
	case goerr.HasTag(err, TagAuthorization):
		return http.StatusForbidden
	case goerr.HasTag(err, TagNotFound):
		return http.StatusNotFound
	case goerr.HasTag(err, TagConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a caller. Storage errors
// and untagged errors collapse to a generic string so engine internals
// never leak through the API boundary.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if goerr.HasTag(err, TagStorage) || HTTPStatus(err) == http.StatusInternalServerError {
		return "internal storage error"
	}
	return err.Error()
}
