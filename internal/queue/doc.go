// Package queue implements the outbound message queue.
//
// Messages are delivered at least once, in enqueue order per ordering key
// (conversation, or conversation plus thread). Failed sends are retried
// with capped exponential backoff until the retry budget runs out; the
// message is then marked failed and stays in the queue until the caller
// retries it or it is evicted to make room.
//
// Message IDs double as idempotency keys: enqueuing an ID that is already
// tracked returns the tracked entry without sending anything.
package queue
