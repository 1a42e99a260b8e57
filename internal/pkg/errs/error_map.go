package errs

import "net/http"

// errorMap holds the template for every application error code.
var errorMap = map[int]CustomError{
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	ErrUnauthorized: {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrTokenInvalid: {Code: ErrTokenInvalid, Message: "Your session has expired. Please sign in again.", Status: http.StatusUnauthorized},
	ErrUserBanned:   {Code: ErrUserBanned, Message: "This account is banned: %s", Status: http.StatusForbidden},

	ErrSnapshotUnavailable: {Code: ErrSnapshotUnavailable, Message: "No canvas snapshot is available.", Status: http.StatusNotFound},

	ErrUnknown:       {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageFailed: {Code: ErrStorageFailed, Message: "Storage is temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
