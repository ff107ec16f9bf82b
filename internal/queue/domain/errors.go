package domain

import "errors"

var (
	ErrInvalidSource      = errors.New("invalid_source")
	ErrEmptySubmission    = errors.New("empty_submission")
	ErrNoValidItems       = errors.New("no_valid_items")
	ErrNotClaimable       = errors.New("not_claimable")
	ErrItemNotFound       = errors.New("queue_item_not_found")
	ErrBatchNotFound      = errors.New("batch_not_found")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidRetention   = errors.New("invalid_retention")
	ErrItemInFlight       = errors.New("queue_item_in_flight")
	ErrInvalidPriority    = errors.New("invalid_priority")
	ErrInvalidMaxRetries  = errors.New("invalid_max_retries")
	ErrSubmissionTooLarge = errors.New("submission_too_large")
)
