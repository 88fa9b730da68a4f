// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/006mi4/gotale/internal/models"
)

// startHub runs the hub loop for the duration of the test.
func startHub(t *testing.T) (*Hub, context.CancelFunc, chan error) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()
	return hub, cancel, errCh
}

func register(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	select {
	case hub.Register <- client:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept registration")
	}
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case msg := <-client.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return Message{}
	}
}

func expectNone(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoutesBySubscription(t *testing.T) {
	hub, cancel, _ := startHub(t)
	defer cancel()

	watcher := NewClient(hub, nil)
	watcher.Subscribe(1)
	other := NewClient(hub, nil)
	other.Subscribe(2)
	register(t, hub, watcher)
	register(t, hub, other)

	hub.Publish(models.MessageConsoleOutput, 1, "line")

	msg := receive(t, watcher)
	if msg.Type != models.MessageConsoleOutput || msg.InstanceID != 1 {
		t.Errorf("message = %+v", msg)
	}
	expectNone(t, other)
}

func TestHubBroadcastsGlobalMessages(t *testing.T) {
	hub, cancel, _ := startHub(t)
	defer cancel()

	a := NewClient(hub, nil)
	b := NewClient(hub, nil)
	register(t, hub, a)
	register(t, hub, b)

	// Instance 0 means everyone, subscriptions notwithstanding.
	hub.Publish(models.MessageInstallProgress, 0, "snapshot")

	if msg := receive(t, a); msg.Type != models.MessageInstallProgress {
		t.Errorf("a received %+v", msg)
	}
	if msg := receive(t, b); msg.Type != models.MessageInstallProgress {
		t.Errorf("b received %+v", msg)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub, cancel, _ := startHub(t)
	defer cancel()

	client := NewClient(hub, nil)
	client.Subscribe(1)
	register(t, hub, client)

	hub.Publish(models.MessageConsoleOutput, 1, "first")
	receive(t, client)

	client.Unsubscribe(1)
	hub.Publish(models.MessageConsoleOutput, 1, "second")
	expectNone(t, client)
}

func TestHubClientCount(t *testing.T) {
	hub, cancel, _ := startHub(t)
	defer cancel()

	if got := hub.GetClientCount(); got != 0 {
		t.Fatalf("initial count = %d", got)
	}

	client := NewClient(hub, nil)
	register(t, hub, client)

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.GetClientCount(); got != 1 {
		t.Errorf("count after register = %d", got)
	}

	select {
	case hub.Unregister <- client:
	case <-time.After(time.Second):
		t.Fatal("hub did not accept unregistration")
	}
	deadline = time.Now().Add(time.Second)
	for hub.GetClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("count after unregister = %d", got)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, cancel, errCh := startHub(t)

	client := NewClient(hub, nil)
	register(t, hub, client)

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// The send channel is closed so the write pump unwinds.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("received a message instead of a close")
		}
	case <-time.After(time.Second):
		t.Fatal("client send channel not closed")
	}
}
