// Package devices implements the Device Manager (spec §4.11): a
// registry of connected hardware satellites and browser clients, their
// room assignment, capability flags, and live transport, plus
// heartbeat-based staleness tracking and wake-word config distribution.
package devices

import (
	"context"
	"time"
)

// Kind is the closed set of device kinds spec §3's glossary names.
type Kind string

const (
	KindSatellite  Kind = "satellite"
	KindWebPanel   Kind = "web_panel"
	KindWebTablet  Kind = "web_tablet"
	KindWebBrowser Kind = "web_browser"
	KindWebKiosk   Kind = "web_kiosk"
)

// stationaryWebKinds are the web kinds eligible for client-IP room
// inference (spec §4.11 "Room inference"); web_browser is excluded
// since a browser's client IP is not a reliable room signal (laptops
// move between rooms, unlike a mounted panel/tablet/kiosk).
var stationaryWebKinds = map[Kind]bool{
	KindWebPanel:  true,
	KindWebTablet: true,
	KindWebKiosk:  true,
}

// UnassignedRoom is the room id a device carries until administratively placed.
const UnassignedRoom = "unassigned"

// Capabilities are the device's declared hardware/feature flags.
type Capabilities struct {
	HasMicrophone        bool
	HasSpeaker           bool
	HasDisplay           bool
	SupportsLocalWakeWord bool
}

// Device is one registered endpoint, owned and mutated by the Manager.
type Device struct {
	ID           string
	Kind         Kind
	Room         string
	Capabilities Capabilities

	lastHeartbeat time.Time
}

// Envelope is the server→device message shape sent over Transport.
type Envelope struct {
	Type    string
	Payload any
}

// Transport is the live full-duplex connection a device is registered
// with (normally a *websocket.Conn wrapper). Satisfied by any transport
// that can deliver a JSON-ish envelope and be torn down.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Close() error
}
