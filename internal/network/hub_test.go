package network

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

func TestHubBroadcastsToObservers(t *testing.T) {
	hub := NewHub(logger.NewLoggerTo(io.Discard, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.register <- client

	hub.BroadcastEvent(events.SystemEvent{
		Type:      events.EventTypeUnlocked,
		Data:      map[string]interface{}{"entityId": "mine"},
		Timestamp: time.Now(),
		Target:    "mine",
	})

	select {
	case payload := <-client.send:
		var evt events.SystemEvent
		require.NoError(t, json.Unmarshal(payload, &evt))
		assert.Equal(t, events.EventTypeUnlocked, evt.Type)
		assert.Equal(t, "mine", evt.Data["entityId"])
	case <-time.After(time.Second):
		t.Fatal("observer never received the broadcast")
	}
}

func TestHubDropsSlowObservers(t *testing.T) {
	hub := NewHub(logger.NewLoggerTo(io.Discard, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Zero-buffer send channel with no reader: first broadcast evicts it.
	slow := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- slow

	hub.BroadcastEvent(events.SystemEvent{Type: events.EventTypeTick, Timestamp: time.Now()})

	assert.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 0
	}, time.Second, 10*time.Millisecond)

	// The evicted client's channel is closed.
	_, open := <-slow.send
	assert.False(t, open)
}

func TestEventPollerFollowsHistory(t *testing.T) {
	log := logger.NewLoggerTo(io.Discard, io.Discard)
	hub := NewHub(log)
	bus := events.NewBus(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, bus)

	client := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.register <- client

	bus.Emit(events.EventTypeUnlocked, map[string]interface{}{"entityId": "mine"})

	select {
	case payload := <-client.send:
		var evt events.SystemEvent
		require.NoError(t, json.Unmarshal(payload, &evt))
		assert.Equal(t, events.EventTypeUnlocked, evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never forwarded the event")
	}
}
