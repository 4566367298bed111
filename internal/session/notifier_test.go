// ABOUTME: Tests for the conversation change notifier
// ABOUTME: Covers targeted and wildcard delivery, slow subscribers, and cleanup

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_PublishToSubscriber(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, _ := n.Subscribe(context.Background(), "conv-1")

	n.Publish(Change{Kind: ChangeMessageAppended, ConversationID: "conv-1", MessageID: "msg-1"})

	select {
	case change := <-ch:
		assert.Equal(t, ChangeMessageAppended, change.Kind)
		assert.Equal(t, "conv-1", change.ConversationID)
		assert.Equal(t, "msg-1", change.MessageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestNotifier_DoesNotDeliverOtherConversations(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, _ := n.Subscribe(context.Background(), "conv-1")

	n.Publish(Change{Kind: ChangeCreated, ConversationID: "conv-2"})

	select {
	case change := <-ch:
		t.Fatalf("unexpected change delivered: %+v", change)
	case <-time.After(50 * time.Millisecond):
		// No delivery, as expected
	}
}

func TestNotifier_WildcardReceivesEverything(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, _ := n.Subscribe(context.Background(), AllConversations)

	n.Publish(Change{Kind: ChangeCreated, ConversationID: "conv-1"})
	n.Publish(Change{Kind: ChangeDeleted, ConversationID: "conv-2"})

	got := make([]Change, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case change := <-ch:
			got = append(got, change)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for changes")
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, "conv-1", got[0].ConversationID)
	assert.Equal(t, "conv-2", got[1].ConversationID)
}

func TestNotifier_SlowSubscriberDoesNotBlock(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	// Never drained; fill the buffer and keep publishing.
	n.Subscribe(context.Background(), "conv-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			n.Publish(Change{Kind: ChangeMessageUpdated, ConversationID: "conv-1"})
		}
		close(done)
	}()

	select {
	case <-done:
		// Publishes completed without blocking
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ch, subID := n.Subscribe(context.Background(), "conv-1")
	n.Unsubscribe("conv-1", subID)

	_, open := <-ch
	assert.False(t, open)
}

func TestNotifier_ContextCancelCleansUp(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := n.Subscribe(ctx, "conv-1")
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestNotifier_PublishRacingUnsubscribe(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	done := make(chan struct{})
	var publishing sync.WaitGroup
	publishing.Add(1)
	go func() {
		defer publishing.Done()
		for {
			select {
			case <-done:
				return
			default:
				n.Publish(Change{Kind: ChangeMessageAppended, ConversationID: "conv-1"})
			}
		}
	}()

	// Churning subscriptions while publishing must never send on a
	// closed channel.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 1000; i++ {
		_, subID := n.Subscribe(ctx, "conv-1")
		n.Unsubscribe("conv-1", subID)
	}

	close(done)
	publishing.Wait()
}
