package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StatusSync marks an envelope carrying a settings frame.
const StatusSync = 1

// Envelope is the JSON object carried on the data topic.
type Envelope struct {
	DeviceStatus int    `json:"device_status"`
	DeviceData   string `json:"device_data"`
}

// NewEnvelope wraps a frame for publishing.
func NewEnvelope(frame string) Envelope {
	return Envelope{DeviceStatus: StatusSync, DeviceData: frame}
}

// Marshal returns the envelope as compact JSON. The string form is what the
// mailbox stores and deduplicates on.
func (e Envelope) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshalling envelope: %w", err)
	}
	return string(data), nil
}

// SettingsRequest asks the device to publish its current settings.
type SettingsRequest struct {
	RequestSettings int         `json:"request_settings"`
	SerialNo        string      `json:"serial_no"`
	MachineType     MachineType `json:"machine_type"`
}

// NewSettingsRequest builds a fetch request for a device.
func NewSettingsRequest(serial string, mt MachineType) SettingsRequest {
	return SettingsRequest{RequestSettings: 1, SerialNo: serial, MachineType: mt}
}

// MessageKind classifies an inbound payload.
type MessageKind int

// Inbound payload kinds.
const (
	KindUnknown MessageKind = iota
	KindAck
	KindDeviceData
)

// String returns the kind name for logging.
func (k MessageKind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindDeviceData:
		return "device_data"
	default:
		return "unknown"
	}
}

// Message is a classified inbound payload.
type Message struct {
	Kind     MessageKind
	Envelope Envelope
}

// inbound is the union of the JSON objects a device may send.
type inbound struct {
	Acknowledgment *int    `json:"acknowledgment"`
	DeviceStatus   *int    `json:"device_status"`
	DeviceData     *string `json:"device_data"`
}

// ParseMessage classifies a payload received from the broker. It accepts
// ack objects, JSON envelopes, and bare "*...#" frames, which some device
// firmware sends without an envelope.
func ParseMessage(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}

	if trimmed[0] != '{' {
		text := string(trimmed)
		if strings.HasPrefix(text, frameStart) && strings.HasSuffix(text, frameEnd) {
			return Message{Kind: KindDeviceData, Envelope: Envelope{DeviceData: text}}, nil
		}
		return Message{}, fmt.Errorf("%w: payload is neither JSON nor a frame", ErrMalformedFrame)
	}

	var in inbound
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case in.Acknowledgment != nil && *in.Acknowledgment == 1:
		return Message{Kind: KindAck}, nil
	case in.DeviceData != nil:
		env := Envelope{DeviceData: *in.DeviceData}
		if in.DeviceStatus != nil {
			env.DeviceStatus = *in.DeviceStatus
		}
		return Message{Kind: KindDeviceData, Envelope: env}, nil
	default:
		return Message{Kind: KindUnknown}, nil
	}
}
