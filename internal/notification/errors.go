package notification

import "errors"

// Sentinel errors returned by the webhook delivery sender. Callers should
// use errors.Is for comparison.
var (
	// ErrSendFailed is returned when a webhook delivery attempt did not reach
	// a 2xx response — either a transport error or a non-2xx status.
	ErrSendFailed = errors.New("notification: webhook send failed")
)
