package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	message := RealtimeMessage{
		UserID:      "user-1",
		EventType:   "metric_change",
		GoalID:      "goal-1",
		GoalType:    "organic-traffic",
		Title:       "Goal Progress Changed",
		ChangeDelta: 12.5,
		Timestamp:   time.Now().UTC(),
	}
	dispatcher.Publish(message)

	select {
	case received := <-stream:
		if received.GoalID != "goal-1" || received.EventType != "metric_change" {
			t.Fatalf("unexpected message %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a published message")
	}
}

func TestRealtimeDispatcherIsolatesUsers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "user-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-3",
		EventType: "milestone",
		GoalID:    "goal-9",
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-otherStream:
		if received.GoalID != "goal-9" {
			t.Fatalf("unexpected message %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the owning user to receive the message")
	}

	select {
	case received := <-userStream:
		t.Fatalf("unexpected cross-user delivery %+v", received)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeDispatcherDropsMessagesWithoutUser(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(RealtimeMessage{EventType: "metric_change"})

	select {
	case received := <-stream:
		t.Fatalf("unexpected delivery %+v", received)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeDispatcherCleanupStopsDelivery(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	cleanup()

	dispatcher.Publish(RealtimeMessage{
		UserID:    "user-1",
		EventType: "metric_change",
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		t.Fatalf("expected no delivery after cleanup, got %+v", received)
	case <-time.After(50 * time.Millisecond):
	}
}
