// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub creates and starts a hub, stopping it at test cleanup.
func setupHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop on cleanup")
		}
	})

	time.Sleep(10 * time.Millisecond)
	return hub
}

// createTestClient creates a client without a real connection.
func createTestClient(hub *Hub) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: nil,
		send: make(chan Message, 256),
	}
}

// registerClient registers a client and waits for registration to complete.
func registerClient(hub *Hub, client *Client) {
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)
}

func testEvents(n int) []models.FailedLogin {
	city := "Berlin"
	events := make([]models.FailedLogin, n)
	for i := range events {
		events[i] = models.FailedLogin{
			Timestamp: time.Date(2026, time.June, 15, 12, 0, i, 0, time.UTC),
			IPAddress: "203.0.113.5",
			Port:      40000 + i,
			City:      &city,
		}
	}
	return events
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil || hub.broadcast == nil || hub.Register == nil || hub.Unregister == nil {
		t.Error("hub channels not initialized")
	}
	if len(hub.clients) != 0 {
		t.Error("clients map should be empty")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub()

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients initially, got %d", hub.ClientCount())
	}

	for i := 0; i < 5; i++ {
		hub.clients[createTestClient(hub)] = true
	}

	if hub.ClientCount() != 5 {
		t.Errorf("Expected 5 clients, got %d", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client after register, got %d", hub.ClientCount())
	}

	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after unregister, got %d", hub.ClientCount())
	}

	// The send channel is closed on unregister.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel to be closed")
		}
	default:
		t.Error("expected send channel to be closed, but read would block")
	}
}

func TestHubBroadcastLogsDeliversToAllClients(t *testing.T) {
	hub := setupHub(t)

	c1 := createTestClient(hub)
	c2 := createTestClient(hub)
	registerClient(hub, c1)
	registerClient(hub, c2)

	events := testEvents(3)
	hub.BroadcastLogs(events)

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != MessageTypeLogs {
				t.Errorf("expected logs message, got %q", msg.Type)
			}
			got, ok := msg.Data.([]models.FailedLogin)
			if !ok {
				t.Fatalf("unexpected data type %T", msg.Data)
			}
			if len(got) != 3 {
				t.Errorf("expected 3 events, got %d", len(got))
			}
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHubBroadcastLogsEmptyIsNoop(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	hub.BroadcastLogs(nil)
	time.Sleep(20 * time.Millisecond)

	select {
	case msg := <-client.send:
		t.Errorf("expected no message for empty broadcast, got %v", msg)
	default:
	}
}

func TestHubBroadcastStatsUpdate(t *testing.T) {
	hub := setupHub(t)

	client := createTestClient(hub)
	registerClient(hub, client)

	hub.BroadcastStatsUpdate(1234)

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeStatsUpdate {
			t.Errorf("expected stats_update, got %q", msg.Type)
		}
		data, ok := msg.Data.(StatsUpdateData)
		if !ok {
			t.Fatalf("unexpected data type %T", msg.Data)
		}
		if data.TotalCount != 1234 {
			t.Errorf("expected total 1234, got %d", data.TotalCount)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not receive stats update")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := setupHub(t)

	slow := createTestClient(hub)
	slow.send = make(chan Message) // unbuffered, nothing reads it
	registerClient(hub, slow)

	healthy := createTestClient(hub)
	registerClient(hub, healthy)

	hub.BroadcastLogs(testEvents(1))
	time.Sleep(50 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("expected slow client dropped, count = %d", hub.ClientCount())
	}

	select {
	case msg := <-healthy.send:
		if msg.Type != MessageTypeLogs {
			t.Errorf("expected logs message, got %q", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("healthy client did not receive broadcast")
	}
}

func TestHubServeStopsOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()

	client := createTestClient(hub)
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected all clients closed on shutdown, got %d", hub.ClientCount())
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypeLogs, Data: testEvents(1)})
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty JSON")
	}
}
