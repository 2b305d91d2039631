package dashboard

import "errors"

var (
	// ErrWidgetNotFound indicates the widget is not on the report's board.
	ErrWidgetNotFound = errors.New("widget not found")
	ErrInvalidLayout  = errors.New("invalid layout")
)
