package events

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}

	b.Unsubscribe(ch2)
	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterPublish(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Status: StatusDownloading, Hash: "abc", Op: "download"})

	select {
	case received := <-ch:
		if received.Status != StatusDownloading {
			t.Errorf("expected status %s, got %s", StatusDownloading, received.Status)
		}
		if received.Hash != "abc" {
			t.Errorf("expected hash abc, got %s", received.Hash)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterHandlersSeeEveryEventInOrder(t *testing.T) {
	b := NewBroadcaster()
	var mu sync.Mutex
	var got []string
	b.OnEvent(func(e Event) {
		mu.Lock()
		got = append(got, e.Status)
		mu.Unlock()
	})

	// Far more than a channel subscriber's buffer.
	for i := 0; i < 200; i++ {
		b.Publish(Event{Status: StatusDownloading})
	}
	b.Publish(Event{Status: StatusFinished})

	if len(got) != 201 {
		t.Fatalf("expected 201 events, got %d", len(got))
	}
	if got[200] != StatusFinished {
		t.Errorf("expected last event finished, got %s", got[200])
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Status: StatusDownloading})
	}

	if len(ch) != cap(ch) {
		t.Errorf("expected full buffer of %d, got %d", cap(ch), len(ch))
	}
}

func TestMarshalEvent(t *testing.T) {
	e := Event{Status: StatusFailed, Message: "nothing to update", Err: errors.New("boom")}
	b := NewBroadcaster()
	var published Event
	b.OnEvent(func(ev Event) { published = ev })
	b.Publish(e)

	data, err := MarshalEvent(published)
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"status":"failed"`) || !strings.Contains(s, `"error":"boom"`) {
		t.Errorf("unexpected JSON: %s", s)
	}
}
