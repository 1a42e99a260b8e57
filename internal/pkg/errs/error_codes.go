/*
Package errs provides the application error type and its numeric code catalogue.

Codes identify a failure both in server logs and in the JSON envelope sent to
HTTP clients, so clients can branch on the number instead of the message.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 3xxx: Identity and Session Errors
const (
	// ErrUnauthorized indicates that no valid identity token accompanied the request.
	ErrUnauthorized = 3001

	// ErrTokenInvalid indicates that the identity token is malformed, expired or wrongly signed.
	ErrTokenInvalid = 3002

	// ErrUserBanned indicates that the account is banned from connecting.
	ErrUserBanned = 3003
)

// 4xxx: Canvas Errors
const (
	// ErrSnapshotUnavailable indicates that snapshot storage is not configured or has no snapshot yet.
	ErrSnapshotUnavailable = 4001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates a failure talking to the history database or object storage.
	ErrStorageFailed = 5001
)
