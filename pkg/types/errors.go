package types

import "errors"

// ARCHITECTURAL DISCOVERY: One taxonomy shared by the registry, the router
// and the HTTP layer so errors.Is works across package boundaries.
var (
	ErrDuplicateRoom     = errors.New("room already exists")
	ErrRoomNotFound      = errors.New("room not found")
	ErrNotAuthorized     = errors.New("only the room admin can delete this room")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrAccessDenied      = errors.New("access denied")
	ErrUnknownUser       = errors.New("unknown user")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Directory errors.
var (
	ErrDuplicateUser      = errors.New("username exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
