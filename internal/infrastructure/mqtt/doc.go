// Package mqtt provides the MQTT transport for therapylink.
//
// This package manages:
//   - A single broker session per Connect call, with no automatic reconnect
//   - Detection of resumed persistent sessions (session_present)
//   - Mutual TLS from CA, certificate and key files
//   - QoS-bounded publish and subscribe with context deadlines
//   - Panic-safe dispatch of inbound messages to one bound handler
//
// # Architecture
//
// The client is deliberately thin. Reconnect policy, resubscription and
// message routing live in the connection manager, which drives this
// client through its Bind, Connect, Subscribe, Publish and Disconnect
// methods.
//
//	therapylink ↔ MQTT Broker ↔ therapy device
//
// # Security Considerations
//
//   - Enable TLS for any broker outside the local host (cfg.Broker.TLS=true)
//   - Cloud brokers such as AWS IoT require the client certificate pair
//   - Payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.New(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	client.Bind(func(topic string, payload []byte) {
//	    log.Printf("received %s: %s", topic, payload)
//	}, nil)
//
//	sessionPresent, err := client.Connect(ctx)
//	if err == nil && !sessionPresent {
//	    err = client.Subscribe(ctx, cfg.MQTT.Topics.Ack, 1)
//	}
package mqtt
