package robot

import "errors"

var (
	ErrNilCollaborator  = errors.New("robot: nil collaborator")
	ErrAlreadyStarted   = errors.New("robot: session already started")
	ErrHandshakeTimeout = errors.New("robot: link timed out during handshake")
	ErrFaulted          = errors.New("robot: session faulted")
)
