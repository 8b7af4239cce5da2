package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := New()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(Event{Kind: EventChatMessage, ChatMessage: &ChatMessage{ChatID: "chat-1", Content: "hi"}})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Recv():
			require.Equal(t, EventChatMessage, ev.Kind)
			require.Equal(t, "hi", ev.ChatMessage.Content)
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber")
		}
	}
}

func TestCloseUnsubscribesAndIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Close()
	sub.Close() // must not panic

	b.Publish(Event{Kind: EventChatMessage, ChatMessage: &ChatMessage{ChatID: "chat-1"}})

	_, ok := <-sub.Recv()
	require.False(t, ok, "closed subscription's channel should be drained and closed")
}

func TestPublishDropsRatherThanBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 300; i++ {
		b.Publish(Event{Kind: EventAgentStream})
	}
	// No deadlock: Publish must return even once sub's buffered channel fills.
}

func TestFilesChangedPublishesFilesChangedEvent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Close()

	b.FilesChanged("proj-1", []string{"a.go", "b.go"})

	select {
	case ev := <-sub.Recv():
		require.Equal(t, EventFilesChanged, ev.Kind)
		require.Equal(t, "proj-1", ev.FilesChanged.ProjectID)
		require.Equal(t, []string{"a.go", "b.go"}, ev.FilesChanged.Files)
	case <-time.After(time.Second):
		t.Fatal("expected files_changed event")
	}
}

func TestMarshalEncodesKindDiscriminatedEnvelope(t *testing.T) {
	data, err := Marshal(Event{Kind: EventTokenUsage, TokenUsage: &TokenUsage{ChatID: "chat-1", TotalTokens: 42}})
	require.NoError(t, err)
	require.Contains(t, string(data), `"kind":"token_usage"`)
	require.Contains(t, string(data), `"totalTokens":42`)
}
