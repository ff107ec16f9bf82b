package diagnostics

import "errors"

var (
	ErrNotConfigured   = errors.New("diagnostics_not_configured")
	ErrDeviceNotFound  = errors.New("diagnostics_device_not_found")
	ErrTimeout         = errors.New("diagnostics_timeout")
	ErrUnavailable     = errors.New("diagnostics_unavailable")
	ErrUnauthorized    = errors.New("diagnostics_unauthorized")
	ErrRequestRejected = errors.New("diagnostics_request_rejected")
	ErrInvalidResponse = errors.New("diagnostics_invalid_response")
)
