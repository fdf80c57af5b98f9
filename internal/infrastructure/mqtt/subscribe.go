package mqtt

import (
	"context"
	"fmt"
)

// Subscribe asks the broker for messages on topic.
//
// No per-topic handler is registered. Matching messages reach the
// handler installed with Bind, the same path used for messages the
// broker delivers on a resumed session before any subscribe is sent.
//
// Subscriptions are not tracked or replayed by the client. With
// clean_session disabled the broker keeps them; otherwise the owner
// resubscribes after each new session.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, nil)
	if err := waitToken(ctx, token, durationOr(c.cfg.PublishTimeout, defaultPublishTimeout)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	return nil
}
