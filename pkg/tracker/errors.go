package tracker

import "errors"

var (
	// ErrVersionNotFound indicates no history entry matches the widget and version.
	ErrVersionNotFound = errors.New("widget version not found")
	// ErrInvalidChange indicates an unknown change type or an empty widget id.
	ErrInvalidChange = errors.New("invalid widget change")
)
