// Package delivery implements the store-and-forward queue that carries
// settings payloads to the device.
//
// # Guarantees
//
//   - At most one payload is in flight: the next publish waits for the
//     previous ack, its timeout, or a link drop
//   - FIFO: only the head of the mailbox is ever published
//   - Identical payloads are queued once (exact string match)
//   - Every queued payload is on disk before Enqueue returns
//
// Acks carry no correlation ID. An ack received while a payload is in
// flight is applied to the head of the queue; acks received at any other
// time are discarded before the next publish.
//
// # Timeouts
//
// When no ack arrives within AckTimeout the configured TimeoutPolicy
// decides what happens to the head:
//
//   - PolicyRetry keeps it and republishes, dead-lettering it after
//     MaxAttempts timeouts (0 retries forever)
//   - PolicyFallback dead-letters it immediately
//
// Publish errors and link drops never count as attempts: the payload
// stays at the head and is sent again once the link is usable.
//
// # Hold-off
//
// After every (re)connect the worker waits PendingSendHold before sending,
// so a fresh session is not flooded with the backlog.
package delivery
