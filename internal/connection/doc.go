// Package connection owns the broker session for a therapy device link.
//
// A Manager drives a Transport through the lifecycle
// Disconnected → Connecting → Connected → Disconnected, retrying failed
// connects through a pluggable RetryPolicy. After each new session it
// subscribes to the device data and acknowledgment topics unless the
// broker reports a resumed session. Inbound traffic is routed to an ack
// handler or to observers, and outbound publishes are serialized so only
// one transport request is ever in flight.
//
// The Manager satisfies the delivery queue's Publisher and Link
// interfaces, so the queue can publish through it and read its
// connectivity without depending on MQTT directly.
package connection
