package session

import "errors"

var (
	ErrSessionOpenTimeout = errors.New("session open timed out")
	ErrJoinTimeout        = errors.New("join timed out")
	ErrTransport          = errors.New("transport failure")
	ErrConnectRefused     = errors.New("no session with that code")
	ErrInvalidCode        = errors.New("invalid session code")
	ErrNotIdle            = errors.New("session already in use")
	ErrNotActive          = errors.New("session not active")
	ErrLeft               = errors.New("session left")
	ErrHubLost            = errors.New("hub connection lost")
)
