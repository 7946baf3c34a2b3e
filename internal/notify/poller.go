package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/rferr"
)

// Ingester is the Notification Service surface the Poller and Reminder
// Scheduler need; satisfied by *Service.
type Ingester interface {
	Ingest(ctx context.Context, req IngestRequest) (*Notification, error)
}

// EventSource is the pending-proactive-event stream the Poller drains;
// satisfied by *mcphub.Hub.
type EventSource interface {
	Events() <-chan mcphub.ProactiveEvent
}

// proactiveItem is the wire shape of one pending event returned by a
// capability server's notifications poll tool.
type proactiveItem struct {
	EventType string         `json:"event_type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Urgency   string         `json:"urgency"`
	RoomName  string         `json:"room_name"`
	Data      map[string]any `json:"data"`
	DedupKey  string         `json:"dedup_key"`
}

type proactiveBatch struct {
	Events []proactiveItem `json:"events"`
}

// Poller implements the Notification Poller (spec §4.15): drains
// pending proactive events the Tool Registry already polled each
// capability server for, and ingests every one. Per-server polling
// itself happens in mcphub.Hub.pollProactiveEvents, which this package
// treats as the EventSource.
type Poller struct {
	source EventSource
	ingest Ingester
	log    *slog.Logger
}

// NewPoller wires a Poller.
func NewPoller(source EventSource, ingest Ingester, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{source: source, ingest: ingest, log: log}
}

// Run drains events until ctx is cancelled or the source channel
// closes. One failing event never stops the loop (spec §4.15
// "Failures are logged; the loop continues").
func (p *Poller) Run(ctx context.Context) {
	events := p.source.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handle(ctx, ev)
		}
	}
}

func (p *Poller) handle(ctx context.Context, ev mcphub.ProactiveEvent) {
	items, err := parseProactiveItems(ev.Payload)
	if err != nil {
		p.log.Warn("notify.poller.parse_failed", "server", ev.Server, "error", err)
		return
	}
	for _, item := range items {
		req := IngestRequest{
			EventType: item.EventType,
			Title:     item.Title,
			Message:   item.Message,
			Urgency:   Urgency(item.Urgency),
			RoomName:  item.RoomName,
			Data:      item.Data,
			DedupKey:  item.DedupKey,
		}
		if req.Urgency == "" {
			req.Urgency = UrgencyInfo
		}
		if _, err := p.ingest.Ingest(ctx, req); err != nil {
			if rferr.KindOf(err) == rferr.KindRateLimited {
				continue // duplicate: silently dropped per spec §4.15
			}
			p.log.Warn("notify.poller.ingest_failed", "server", ev.Server, "error", err)
		}
	}
}

// parseProactiveItems accepts either a bare JSON array of events or an
// object with an "events" array, since capability servers are
// third-party and may shape their poll tool's response either way.
func parseProactiveItems(payload json.RawMessage) ([]proactiveItem, error) {
	var arr []proactiveItem
	if err := json.Unmarshal(payload, &arr); err == nil {
		return arr, nil
	}
	var batch proactiveBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, err
	}
	return batch.Events, nil
}
