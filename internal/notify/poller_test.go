package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/rferr"
)

type fakeEventSource struct {
	ch chan mcphub.ProactiveEvent
}

func (f *fakeEventSource) Events() <-chan mcphub.ProactiveEvent { return f.ch }

type fakeIngester struct {
	requests []IngestRequest
	err      error
}

func (f *fakeIngester) Ingest(ctx context.Context, req IngestRequest) (*Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &Notification{}, nil
}

func TestPollerIngestsEachEventFromABareArrayPayload(t *testing.T) {
	source := &fakeEventSource{ch: make(chan mcphub.ProactiveEvent, 1)}
	ingest := &fakeIngester{}
	p := NewPoller(source, ingest, nil)

	payload, err := json.Marshal([]proactiveItem{
		{EventType: "calendar", Title: "Standup", Message: "in 5 minutes", RoomName: "office"},
	})
	require.NoError(t, err)
	source.ch <- mcphub.ProactiveEvent{Server: "calendar", Payload: payload}
	close(source.ch)

	p.Run(context.Background())

	require.Len(t, ingest.requests, 1)
	assert.Equal(t, "Standup", ingest.requests[0].Title)
	assert.Equal(t, "office", ingest.requests[0].RoomName)
}

func TestPollerIngestsEachEventFromAnEventsWrapperPayload(t *testing.T) {
	source := &fakeEventSource{ch: make(chan mcphub.ProactiveEvent, 1)}
	ingest := &fakeIngester{}
	p := NewPoller(source, ingest, nil)

	payload, err := json.Marshal(proactiveBatch{Events: []proactiveItem{
		{EventType: "calendar", Title: "Standup", Message: "in 5 minutes"},
	}})
	require.NoError(t, err)
	source.ch <- mcphub.ProactiveEvent{Server: "calendar", Payload: payload}
	close(source.ch)

	p.Run(context.Background())

	require.Len(t, ingest.requests, 1)
}

func TestPollerContinuesAfterIngestFailure(t *testing.T) {
	source := &fakeEventSource{ch: make(chan mcphub.ProactiveEvent, 2)}
	ingest := &fakeIngester{err: rferr.New(rferr.KindInternal, "boom")}
	p := NewPoller(source, ingest, nil)

	payload, _ := json.Marshal([]proactiveItem{{EventType: "x", Title: "x", Message: "x"}})
	source.ch <- mcphub.ProactiveEvent{Server: "s1", Payload: payload}
	close(source.ch)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the source channel closed")
	}
}

func TestPollerStopsOnContextCancellation(t *testing.T) {
	source := &fakeEventSource{ch: make(chan mcphub.ProactiveEvent)}
	p := NewPoller(source, &fakeIngester{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
