package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrConnectionGone    = errors.New("connection closed before frame was accepted")
)
