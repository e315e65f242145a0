package broadcaster

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/qtune/pkg/qtune/validate"
)

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub.Events:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event not received")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/work/configs/")
	require.NotNil(t, sub)
	_, err := uuid.Parse(sub.ID)
	assert.NoError(t, err)
	assert.Equal(t, "/work/configs", sub.Root)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestPublishMatchesRoot(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/work/configs")
	report := &validate.Report{Path: "/work/configs/a.yaml"}

	b.Publish(&Event{Type: EventValidated, Path: "/work/configs/a.yaml", Report: report, SnapshotID: "s1"})
	ev := receive(t, sub)
	assert.Equal(t, EventValidated, ev.Type)
	assert.Same(t, report, ev.Report)
	assert.Equal(t, "s1", ev.SnapshotID)
	assert.False(t, ev.Time.IsZero())

	b.Publish(&Event{Type: EventValidated, Path: "/work/configs-old/a.yaml"})
	b.Publish(&Event{Type: EventValidated, Path: "/elsewhere/a.yaml"})
	assertNoEvent(t, sub)
}

func TestPublishRootSlash(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/")
	b.Publish(&Event{Type: EventRemoved, Path: "/x.yaml"})
	assert.Equal(t, EventRemoved, receive(t, sub).Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/w")
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(&Event{Path: "/w/a.yaml"})
	}
	assert.Equal(t, int64(5), sub.Dropped())
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	sub := b.Subscribe("/w")
	b.Unsubscribe(sub.ID)

	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Unsubscribe(sub.ID)
}

func TestClose(t *testing.T) {
	b := New()
	sub := b.Subscribe("/w")

	b.Close()
	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Nil(t, b.Subscribe("/w"))

	b.Publish(&Event{Path: "/w/a.yaml"})
	b.Close()
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "validated", EventValidated.String())
	assert.Equal(t, "removed", EventRemoved.String())
	assert.Equal(t, "unknown", EventType(9).String())
}
