package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	ch1 := b.Subscribe("acme")
	ch2 := b.Subscribe("globex")

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
	ch := b.Subscribe("acme")
	defer b.Unsubscribe(ch)

	b.Publish(Event{
		Type:      EventCreate,
		Tenant:    "acme",
		Path:      "/data/users/abc-1",
		Operation: "create",
		Size:      14,
	})

	select {
	case received := <-ch:
		if received.Type != EventCreate {
			t.Errorf("expected type %s, got %s", EventCreate, received.Type)
		}
		if received.Path != "/data/users/abc-1" {
			t.Errorf("expected path /data/users/abc-1, got %s", received.Path)
		}
		if received.Timestamp == 0 {
			t.Error("expected non-zero timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcasterIsolatesTenants(t *testing.T) {
	b := NewBroadcaster()
	acme := b.Subscribe("acme")
	globex := b.Subscribe("globex")
	defer b.Unsubscribe(acme)
	defer b.Unsubscribe(globex)

	b.Publish(Event{Type: EventUpdate, Tenant: "acme", Path: "/data/users/1/name"})

	select {
	case <-acme:
	case <-time.After(time.Second):
		t.Fatal("acme subscriber timed out")
	}
	select {
	case e := <-globex:
		t.Fatalf("globex subscriber received %s event for another tenant", e.Type)
	default:
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe("acme")
	defer b.Unsubscribe(ch)

	// Fill the channel buffer (64)
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventCreate, Tenant: "acme", Path: "/data/logs/1"})
	}

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			goto done
		}
	}
done:
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestMarshalEvent(t *testing.T) {
	e := Event{
		Type:      EventDelete,
		Tenant:    "acme",
		Path:      "/data/users/abc-1",
		Operation: "soft_delete",
		Timestamp: 1234567890,
	}
	data, err := MarshalEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["operation"] != "soft_delete" {
		t.Errorf("expected operation soft_delete, got %v", back["operation"])
	}
}
