package chat

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid chat transition")
	ErrUnknownReportType = errors.New("unknown report type")
	ErrClosed            = errors.New("chat flow closed")
)
