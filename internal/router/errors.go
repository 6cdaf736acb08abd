package router

import "errors"

// Router protocol errors. They are logged by the caller and never echoed
// to the client.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNotJoined         = errors.New("content message before join")
	ErrAlreadyJoined     = errors.New("session already joined")
	ErrSenderMismatch    = errors.New("sender does not match session user")
	ErrNotInRoom         = errors.New("public message from a direct-chat session")
)
