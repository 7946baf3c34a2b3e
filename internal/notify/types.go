// Package notify implements the Notification Service, Notification
// Poller, and Reminder Scheduler (spec §4.14-4.16): ingest, dedup
// (exact + semantic), urgency classification, LLM enrichment, and
// fan-out via the Device Manager and Output Router.
package notify

import "time"

// Urgency classifies how aggressively a Notification should be
// delivered (spec §3 "Notification").
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyInfo     Urgency = "info"
	UrgencyLow      Urgency = "low"
	// UrgencyAuto is never persisted; Ingest resolves it to one of the
	// above before the Notification is built.
	UrgencyAuto Urgency = "auto"
)

// Status is a Notification's delivery lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusDelivered    Status = "delivered"
	StatusAcknowledged Status = "acknowledged"
	StatusDismissed    Status = "dismissed"
	StatusExpired      Status = "expired"
)

// Notification is the persisted record of one ingested event.
type Notification struct {
	ID             string
	EventType      string
	Title          string
	Body           string
	Urgency        Urgency
	RoomName       string
	DedupFingerprint string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// SuppressionRule mutes future notifications semantically close to a
// user-defined pattern (spec §3 "SuppressionRule").
type SuppressionRule struct {
	UserID    string
	Embedding []float32
	Threshold float64
	Active    bool
}

// ReminderStatus is a Reminder's lifecycle state.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderFired     ReminderStatus = "fired"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a user-scheduled, one-shot time-bound notification
// (spec §3 "Reminder").
type Reminder struct {
	ID          string
	UserID      string
	ScheduledAt time.Time
	Title       string
	Body        string
	Status      ReminderStatus
}

// IngestRequest is the Notification Service's single entry point,
// callable from the webhook endpoint, the Notification Poller, and the
// Reminder Scheduler (spec §4.14 "Ingest contract").
type IngestRequest struct {
	EventType string
	Title     string
	Message   string
	Urgency   Urgency
	RoomName  string // empty = broadcast to all rooms
	Data      map[string]any
	TTS       *bool // nil = use tts_default
	Enrich    bool
	DedupKey  string // empty = derive fingerprint from event fields
}
