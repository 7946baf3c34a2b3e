package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ebongard/renfield/internal/devices"
	"github.com/ebongard/renfield/pkg/protocol"
)

// deviceTransport adapts one websocket.Conn to devices.Transport,
// framing every send as a protocol.Envelope.
type deviceTransport struct{ conn *wsConn }

func (t deviceTransport) Send(_ context.Context, env devices.Envelope) error {
	return t.conn.WriteEnvelope(protocol.NewEnvelope(env.Type, env.Payload))
}

func (t deviceTransport) Close() error { return t.conn.conn.Close() }

// deviceRegisterBody is the first frame a device connection must send.
type deviceRegisterBody struct {
	DeviceID     string              `json:"device_id"`
	Kind         string              `json:"kind"`
	Capabilities devices.Capabilities `json:"capabilities"`
}

// DeviceHandler serves /ws/device and /ws/satellite (spec §6.1): both
// endpoints share one registration/heartbeat/set-room protocol, the
// only difference being the audio-capture frames satellites add.
type DeviceHandler struct {
	manager *devices.Manager
	log     *slog.Logger
}

// NewDeviceHandler wires a DeviceHandler.
func NewDeviceHandler(manager *devices.Manager, log *slog.Logger) *DeviceHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DeviceHandler{manager: manager, log: log}
}

// HandleDeviceWS serves panel/tablet/kiosk/browser connections.
func (h *DeviceHandler) HandleDeviceWS(srv *Server) http.HandlerFunc {
	return h.serve(srv)
}

// HandleSatelliteWS serves voice-hardware connections; registration
// and room/heartbeat handling is identical, audio chunks are simply
// one more frame type the same read loop dispatches.
func (h *DeviceHandler) HandleSatelliteWS(srv *Server) http.HandlerFunc {
	return h.serve(srv)
}

func (h *DeviceHandler) serve(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := srv.Upgrade(w, r)
		if err != nil {
			h.log.Warn("httpapi.device_ws_upgrade_failed", "error", err)
			return
		}
		wrapped := newWSConn(conn)
		transport := deviceTransport{conn: wrapped}

		var reg protocol.Envelope
		if err := conn.ReadJSON(&reg); err != nil || reg.Type != protocol.MethodDeviceRegister {
			conn.Close()
			return
		}
		var body deviceRegisterBody
		if err := protocol.Decode(reg, &body); err != nil {
			conn.Close()
			return
		}
		if body.DeviceID == "" {
			body.DeviceID = uuid.NewString()
		}

		device := devices.Device{
			ID:           body.DeviceID,
			Kind:         devices.Kind(body.Kind),
			Room:         devices.UnassignedRoom,
			Capabilities: body.Capabilities,
		}
		h.manager.Register(device, transport, clientIP(r))
		defer h.manager.Unregister(body.DeviceID)

		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			h.dispatch(body.DeviceID, env, wrapped)
		}
	}
}

func (h *DeviceHandler) dispatch(deviceID string, env protocol.Envelope, conn *wsConn) {
	switch env.Type {
	case protocol.MethodDeviceHeartbeat:
		if err := h.manager.Heartbeat(deviceID); err != nil {
			conn.WriteEnvelope(protocol.NewEnvelope(protocol.EventError, err.Error()))
		}
	case protocol.MethodDeviceSetRoom:
		var body struct {
			Room string `json:"room"`
		}
		if err := protocol.Decode(env, &body); err == nil {
			if err := h.manager.SetRoom(deviceID, body.Room); err != nil {
				conn.WriteEnvelope(protocol.NewEnvelope(protocol.EventError, err.Error()))
			}
		}
	case protocol.MethodWakeWordAck:
		var body struct {
			Version        int      `json:"version"`
			FailedKeywords []string `json:"failed_keywords,omitempty"`
		}
		if err := protocol.Decode(env, &body); err == nil {
			h.manager.AckWakeWordConfig(deviceID, body.Version, body.FailedKeywords)
		}
	case protocol.MethodSatelliteAudio, protocol.MethodSatelliteWakeword:
		// Raw audio ingestion is owned by the Orchestrator's /ws turn
		// path once a session is opened for this device; this handler
		// only keeps the device registry and room state current.
	}
}
