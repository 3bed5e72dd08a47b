package camera

import (
	"errors"
	"testing"
)

func TestEventHub_DropsOldestWhenFull(t *testing.T) {
	hub := newEventHub()
	events, unsubscribe := hub.subscribe(2)
	defer unsubscribe()

	hub.publish(Event{Type: EventStateChanged, To: StatusStarting})
	hub.publish(Event{Type: EventStateChanged, To: StatusActive})
	hub.publish(Event{Type: EventStateChanged, To: StatusCapturing})

	first := <-events
	second := <-events
	if first.To != StatusActive || second.To != StatusCapturing {
		t.Errorf("Expected newest events, got %s and %s", first.To, second.To)
	}
	if first.Time.IsZero() {
		t.Error("Expected event time to be set")
	}
}

func TestEventHub_Unsubscribe(t *testing.T) {
	hub := newEventHub()
	events, unsubscribe := hub.subscribe(1)

	unsubscribe()
	unsubscribe() // 2回目は何もしない

	if _, ok := <-events; ok {
		t.Error("Expected channel to be closed")
	}

	// 解除後の配信でパニックしないこと
	hub.publish(Event{Type: EventFrameCaptured})
}

func TestEvent_ErrorMessage(t *testing.T) {
	if msg := (Event{}).ErrorMessage(); msg != "" {
		t.Errorf("Expected empty message, got %s", msg)
	}

	merr := NewMediaError(CategoryDeviceBusy, "/dev/video0", errors.New("busy"))
	if msg := (Event{Err: merr}).ErrorMessage(); msg != merr.Message() {
		t.Errorf("Expected user message, got %s", msg)
	}

	if msg := (Event{Err: errors.New("boom")}).ErrorMessage(); msg != "boom" {
		t.Errorf("Expected 'boom', got %s", msg)
	}
}
