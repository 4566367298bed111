// ABOUTME: Tests for the CLI wiring between tabs, the stream ingestor, and change events
// ABOUTME: Covers evicted-tab stream teardown and tab retitling from manager notifications

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techtuber101/ASideMission/internal/session"
	"github.com/techtuber101/ASideMission/internal/store"
	"github.com/techtuber101/ASideMission/internal/stream"
	"github.com/techtuber101/ASideMission/internal/tabs"
)

// stubDialer never connects; sessions idle in their backoff until closed.
type stubDialer struct{}

func (stubDialer) Dial(ctx context.Context, conversationID string) (stream.Conn, error) {
	return nil, errors.New("no backend")
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	repo := store.NewMemoryRepository(10)
	manager := session.NewManager(repo, nil, nil, nil)
	ingestor := stream.NewIngestor(stubDialer{}, manager, stream.Options{
		ReconnectBackoff: time.Hour,
		MaxReconnects:    1000,
	}, nil)
	t.Cleanup(ingestor.CloseAll)

	return &app{
		repo:     repo,
		manager:  manager,
		ingestor: ingestor,
		tabsCtl:  tabs.NewController(3, tabs.OrderNewestFirst, nil),
	}
}

func TestApp_CloseEvictedTabTearsDownStream(t *testing.T) {
	a := newTestApp(t)

	s := a.ingestor.Open("conv-evicted")
	_, ok := a.ingestor.Get("conv-evicted")
	require.True(t, ok)

	a.closeEvictedTab(&tabs.Tab{ConversationID: "conv-evicted"})

	_, ok = a.ingestor.Get("conv-evicted")
	assert.False(t, ok)
	assert.Equal(t, stream.StateClosed, s.State())
}

func TestApp_CloseEvictedTabHandlesNil(t *testing.T) {
	a := newTestApp(t)
	a.closeEvictedTab(nil)

	a.ingestor = nil
	a.closeEvictedTab(&tabs.Tab{ConversationID: "conv-1"})
}

func TestApp_RenderLoopAppliesTitleChanges(t *testing.T) {
	a := newTestApp(t)
	a.tabsCtl.Open("conv-1", "New Chat")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan session.Change, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.renderLoop(ctx, changes)
	}()

	changes <- session.Change{
		Kind:           session.ChangeTitleChanged,
		ConversationID: "conv-1",
		Title:          "weather in lisbon",
	}

	deadline := time.After(2 * time.Second)
	for {
		tab, ok := a.tabsCtl.FindByConversation("conv-1")
		require.True(t, ok)
		if tab.Title == "weather in lisbon" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tab title never updated")
		case <-time.After(2 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
