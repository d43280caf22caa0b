package errors

import "fmt"

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrNameTaken       = fmt.Errorf("name already taken")
	ErrNotNamed        = fmt.Errorf("set a name first")
	ErrUnknownIdentity = fmt.Errorf("unknown identity")
	ErrUserNotFound    = fmt.Errorf("user not found")
	ErrBadFrame        = fmt.Errorf("bad frame")
	ErrInvalidFrame    = fmt.Errorf("invalid frame")
	ErrUnknownCommand  = fmt.Errorf("unknown command")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
)
