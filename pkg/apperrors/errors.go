package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrSessionNotFound     = errors.New("dashboard session not found")
	ErrUnknownParameter    = errors.New("unknown global parameter")
	ErrUnknownFilter       = errors.New("unknown filter")
	ErrInvalidRefreshRate  = errors.New("refresh rate not offered")
	ErrRejectedValue       = errors.New("parameter value rejected")
	ErrDashboardNotLoaded  = errors.New("dashboard not loaded yet")
	ErrSharingNotAvailable = errors.New("public sharing is not configured")
)
