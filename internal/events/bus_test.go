package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish("orchestrator", "srv-1", ReasonJobDone, "install complete", nil)

	select {
	case evt := <-ch:
		require.Equal(t, ReasonJobDone, evt.Reason)
		require.Equal(t, TypeNormal, evt.Type)
		require.Equal(t, "srv-1", evt.ServerID)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestBusClassifiesWarningReasons(t *testing.T) {
	b := NewBus()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish("supervisor", "srv-2", ReasonServerFailed, "gave up restarting", nil)

	evt := <-ch
	require.Equal(t, TypeWarning, evt.Type)
}

func TestBusFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish("variety", "", ReasonVarietyLow, "ratio below watermark", nil)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			require.Equal(t, ReasonVarietyLow, evt.Reason)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestBusPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	_, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			b.Publish("test", "", ReasonJobQueued, "tick", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestBusUnsubscribeRemovesListener(t *testing.T) {
	b := NewBus()
	_, unsubscribe := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	unsubscribe()
	require.Equal(t, 0, b.SubscriberCount())
}
