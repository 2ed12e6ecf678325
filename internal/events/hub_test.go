package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestHub(config *HubConfig) *Hub {
	return NewHub(config, zap.NewNop())
}

func TestShouldBroadcastEvent(t *testing.T) {
	tests := []struct {
		name      string
		config    *HubConfig
		eventType EventType
		want      bool
	}{
		{"JobsEnabled", &HubConfig{BroadcastJobs: true}, EventTypeJobStarted, true},
		{"JobCompletedFollowsJobs", &HubConfig{BroadcastJobs: true}, EventTypeJobCompleted, true},
		{"JobsDisabled", &HubConfig{}, EventTypeJobStarted, false},
		{"RequestsEnabled", &HubConfig{BroadcastRequests: true}, EventTypeRequestLog, true},
		{"ConnectionsEnabled", &HubConfig{BroadcastConnections: true}, EventTypeConnection, true},
		{"UnknownType", &HubConfig{BroadcastJobs: true, BroadcastRequests: true, BroadcastConnections: true}, EventType("other"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(tt.config)
			if got := h.shouldBroadcastEvent(tt.eventType); got != tt.want {
				t.Errorf("shouldBroadcastEvent(%s) = %v, want %v", tt.eventType, got, tt.want)
			}
		})
	}
}

func TestShouldSendToClient(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastJobs: true})

	t.Run("NoSubscriptionGetsAll", func(t *testing.T) {
		client := &Client{Send: make(chan Event, 1)}
		if !h.shouldSendToClient(client, Event{Type: EventTypeJobStarted}) {
			t.Error("Client without subscription should receive all events")
		}
	})

	t.Run("SubscribedType", func(t *testing.T) {
		client := &Client{
			Send:         make(chan Event, 1),
			Subscription: &SubscriptionRequest{Events: []EventType{EventTypeJobCompleted}},
		}
		if h.shouldSendToClient(client, Event{Type: EventTypeJobStarted}) {
			t.Error("Client should not receive unsubscribed event types")
		}
		if !h.shouldSendToClient(client, Event{Type: EventTypeJobCompleted}) {
			t.Error("Client should receive subscribed event types")
		}
	})
}

func TestHubClientLifecycle(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastJobs: true})

	client := &Client{
		ID:   "client_test",
		Send: make(chan Event, 4),
	}

	h.registerClient(client)
	stats := h.GetStats()
	if stats.ActiveConnections != 1 || stats.TotalConnections != 1 {
		t.Fatalf("After register: active=%d total=%d, want 1 and 1", stats.ActiveConnections, stats.TotalConnections)
	}

	h.broadcastEvent(Event{Type: EventTypeJobStarted, Timestamp: time.Now()})
	select {
	case event := <-client.Send:
		if event.Type != EventTypeJobStarted {
			t.Errorf("Received %s, want %s", event.Type, EventTypeJobStarted)
		}
	default:
		t.Fatal("Broadcast did not reach the registered client")
	}

	h.unregisterClient(client)
	stats = h.GetStats()
	if stats.ActiveConnections != 0 {
		t.Errorf("After unregister: active=%d, want 0", stats.ActiveConnections)
	}
	if _, open := <-client.Send; open {
		t.Error("Send channel still open after unregister")
	}
}

func TestBroadcastBackpressure(t *testing.T) {
	h := newTestHub(&HubConfig{BroadcastJobs: true})

	// Send channel of size 1 fills after one event; the second broadcast
	// must drop the client instead of blocking.
	client := &Client{ID: "client_slow", Send: make(chan Event, 1)}
	h.registerClient(client)

	h.broadcastEvent(Event{Type: EventTypeJobStarted})
	h.broadcastEvent(Event{Type: EventTypeJobStarted})

	if stats := h.GetStats(); stats.ActiveConnections != 0 {
		t.Errorf("Slow client not dropped: active=%d", stats.ActiveConnections)
	}
}
