package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishMatchesWildcardPattern(t *testing.T) {
	b := New(4)
	ch := b.Subscribe("sub1", "context.*")

	b.Publish("context.created", "internal", map[string]any{"id": "c1"})
	b.Publish("proxy.rotated", "internal", nil)

	select {
	case ev := <-ch:
		require.Equal(t, "context.created", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected event not received")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsOnFullMailboxWithoutBlocking(t *testing.T) {
	b := New(1)
	_ = b.Subscribe("sub1", "*")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("page.navigated", "internal", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber mailbox")
	}
}

func TestUnsubscribeClosesMailbox(t *testing.T) {
	b := New(2)
	ch := b.Subscribe("sub1", "*")
	b.Unsubscribe("sub1")

	_, open := <-ch
	require.False(t, open)
}
