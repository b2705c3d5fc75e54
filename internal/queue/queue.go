// Package queue implements the Job Queue external interface (spec §6):
// at-least-once delivery with visibility timeout and DLQ fan-out.
package queue

import "context"

// Message is one unit of work received from the queue. ReceiptHandle is
// opaque to callers — it must be passed back to Delete to acknowledge the
// message and is not guaranteed stable across redelivery.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
}

// Queue is the abstract at-least-once queue the Worker Pool drains. A
// message becomes invisible to other receivers for the queue's configured
// visibility timeout once delivered, and reappears automatically if not
// deleted before the timeout expires.
type Queue interface {
	// Send enqueues body and returns an opaque message id.
	Send(ctx context.Context, body []byte) (messageID string, err error)

	// Receive returns up to maxMessages messages, waiting up to waitSeconds
	// for at least one to become available (long poll). Returns an empty
	// slice, not an error, on timeout with nothing available.
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)

	// Delete acknowledges a message, removing it permanently.
	Delete(ctx context.Context, receiptHandle string) error

	// SendDLQ copies body to the dead-letter queue annotated with
	// errorMessage, for out-of-band operator inspection (spec §7).
	SendDLQ(ctx context.Context, body []byte, errorMessage string) error
}

// Reclaimer is implemented by queues that need an explicit sweep to return
// expired in-flight messages to the ready set, belt-and-braces alongside any
// lazy reclaim a given implementation performs on Receive.
type Reclaimer interface {
	// ReclaimExpired requeues messages whose visibility timeout has elapsed
	// without being deleted, and returns how many were reclaimed.
	ReclaimExpired(ctx context.Context) (int, error)
}

// DLQEntry is one dead-lettered message, as surfaced by the DLQ housekeeping
// endpoint (SPEC_FULL.md §C).
type DLQEntry struct {
	Body         []byte `json:"-"`
	ErrorMessage string
	EnqueuedAtMs int64
}

// DLQLister is implemented by queues that can enumerate their dead-letter
// queue for read-only operator inspection.
type DLQLister interface {
	ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error)
}
