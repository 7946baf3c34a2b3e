// Package protocol defines the wire envelope and method/event names
// shared by every WebSocket transport spec §6.1 lists: /ws (browser
// chat clients), /ws/device (panels/tablets/kiosks), and
// /ws/satellite (voice hardware). Every frame in either direction is
// one Envelope; Type selects how Payload decodes.
package protocol

import "encoding/json"

// Envelope is the single frame shape every WS connection exchanges.
// It mirrors devices.Envelope's {Type, Payload} shape so the same
// vocabulary serves device transports and chat transports alike.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server methods on /ws (chat).
const (
	MethodChatSend   = "chat.send"
	MethodChatCancel = "chat.cancel"
)

// Client-to-server methods on /ws/device and /ws/satellite.
const (
	MethodDeviceRegister    = "device.register"
	MethodDeviceHeartbeat   = "device.heartbeat"
	MethodDeviceSetRoom     = "device.set_room"
	MethodWakeWordAck       = "device.wake_word_ack"
	MethodSatelliteAudio    = "satellite.audio_chunk"
	MethodSatelliteWakeword = "satellite.wake_word_detected"
)

// Server-to-client events, one per agent.Event type (spec §4.10) plus
// the turn-level and device-level events the WS handlers add around it.
const (
	EventThinking   = "agent.thinking"
	EventToolCall   = "agent.tool_call"
	EventToolResult = "agent.tool_result"
	EventFinalToken = "agent.final_token"
	EventDone       = "agent.done"
	EventDelta      = "chat.delta"
	EventRole       = "agent.role"
	EventError      = "error"

	EventPlayAudio       = "device.play_audio"
	EventWakeWordConfig  = "device.wake_word_config"
	EventNotification    = "device.notification"
)

// NewEnvelope marshals payload into an Envelope of the given type. A
// marshal failure collapses to an error envelope carrying the failure
// text, so callers never need to check an error to send a frame.
func NewEnvelope(typ string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		errRaw, _ := json.Marshal(map[string]string{"message": err.Error()})
		return Envelope{Type: EventError, Payload: errRaw}
	}
	return Envelope{Type: typ, Payload: raw}
}

// Decode unmarshals env's payload into v.
func Decode(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(env.Payload, v)
}
