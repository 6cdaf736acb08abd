package rooms

import "errors"

// Room validation errors. Access errors come from pkg/types.
var (
	ErrInvalidRoomName  = errors.New("room name must be 1-64 characters without surrounding whitespace")
	ErrInvalidAdmin     = errors.New("room admin must be a valid username")
	ErrPasswordRequired = errors.New("private rooms require a password")
)
