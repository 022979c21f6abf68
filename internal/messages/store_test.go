package messages

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubSession struct {
	userID model.ID
}

func (s stubSession) Authenticated() bool     { return s.userID != "" }
func (s stubSession) CurrentUserID() model.ID { return s.userID }

var (
	me     = model.User{ID: "u-farmer", Username: "farmer_joe"}
	agro   = model.User{ID: "u-agro", Username: "agronomist"}
	dealer = model.User{ID: "u-dealer", Username: "seed_dealer"}
)

func message(id string, from, to model.User, content string) model.Message {
	sender, receiver := from, to
	return model.Message{ID: model.ID(id), Sender: &sender, Receiver: &receiver, Content: content}
}

func transcriptPayload(messages ...model.Message) map[string]any {
	return map[string]any{"messages": messages, "total": len(messages), "page": 1, "per_page": 50, "pages": 1}
}

func newTestStore(t *testing.T, fake *transporttest.Fake) *Store {
	t.Helper()
	store, err := NewStore(Config{Caller: fake, Session: stubSession{userID: me.ID}})
	require.NoError(t, err)
	return store
}

func TestOpenClearsTranscriptBeforeFetch(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/u-agro", transporttest.JSON(transcriptPayload(message("m-1", agro, me, "Rain tomorrow"))))
	fake.Gate(http.MethodGet, "/messages/u-dealer")
	store := newTestStore(t, fake)

	store.Open(agro.ID)
	require.NoError(t, store.ListMessages(context.Background(), agro.ID, 1))
	require.Len(t, store.Transcript().Messages, 1)

	store.Open(dealer.ID)
	transcript := store.Transcript()
	require.Equal(t, dealer.ID, transcript.Peer)
	require.Empty(t, transcript.Messages)

	done := make(chan error, 1)
	go func() { done <- store.ListMessages(context.Background(), dealer.ID, 1) }()
	fake.Next(t).Respond(transcriptPayload(message("m-9", dealer, me, "Seeds shipped")))
	require.NoError(t, <-done)
	require.Equal(t, model.ID("m-9"), store.Transcript().Messages[0].ID)
}

func TestTranscriptOfPreviousPeerIsDiscarded(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Gate(http.MethodGet, "/messages/u-agro")
	store := newTestStore(t, fake)

	store.Open(agro.ID)
	done := make(chan error, 1)
	go func() { done <- store.ListMessages(context.Background(), agro.ID, 1) }()
	call := fake.Next(t)
	store.Open(dealer.ID)
	call.Respond(transcriptPayload(message("m-1", agro, me, "Rain tomorrow")))
	require.NoError(t, <-done)

	transcript := store.Transcript()
	require.Equal(t, dealer.ID, transcript.Peer)
	require.Empty(t, transcript.Messages)
}

func TestReadingConversationDecrementsRootCounter(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/conversations", transporttest.JSON(map[string]any{"conversations": []model.Conversation{
		{Peer: agro, UnreadCount: 2},
		{Peer: dealer, UnreadCount: 1},
	}}))
	fake.Handle(http.MethodGet, "/messages/unread-count", transporttest.JSON(map[string]int{"unread_count": 3}))
	fake.Handle(http.MethodGet, "/messages/u-agro", transporttest.JSON(transcriptPayload()))
	store := newTestStore(t, fake)
	require.NoError(t, store.ListConversations(context.Background()))
	require.NoError(t, store.UnreadCount(context.Background()))
	require.Equal(t, 3, store.Unread())

	store.Open(agro.ID)
	require.NoError(t, store.ListMessages(context.Background(), agro.ID, 1))

	require.Equal(t, 1, store.Unread())
	conversations := store.Conversations()
	require.Equal(t, 0, conversations[0].UnreadCount)
	require.False(t, conversations[0].Unread())
	require.True(t, conversations[1].Unread())
}

func TestUnreadCounterNeverNegative(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/conversations", transporttest.JSON(map[string]any{"conversations": []model.Conversation{{Peer: agro, UnreadCount: 4}}}))
	fake.Handle(http.MethodGet, "/messages/unread-count", transporttest.JSON(map[string]int{"unread_count": 1}))
	fake.Handle(http.MethodGet, "/messages/u-agro", transporttest.JSON(transcriptPayload()))
	store := newTestStore(t, fake)
	require.NoError(t, store.ListConversations(context.Background()))
	require.NoError(t, store.UnreadCount(context.Background()))

	store.Open(agro.ID)
	require.NoError(t, store.ListMessages(context.Background(), agro.ID, 1))
	require.Equal(t, 0, store.Unread())
}

func TestSendAppendsOnlyOnSuccessForActivePeer(t *testing.T) {
	sent := message("m-2", me, agro, "Thanks")
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/conversations", transporttest.JSON(map[string]any{"conversations": []model.Conversation{
		{Peer: dealer},
		{Peer: agro},
	}}))
	fake.Gate(http.MethodPost, "/messages")
	store := newTestStore(t, fake)
	require.NoError(t, store.ListConversations(context.Background()))
	store.Open(agro.ID)

	done := make(chan error, 1)
	go func() {
		_, err := store.Send(context.Background(), agro.ID, "Thanks")
		done <- err
	}()
	call := fake.Next(t)
	require.Empty(t, store.Transcript().Messages, "no optimistic echo")
	require.Equal(t, map[string]any{"receiver_id": "u-agro", "content": "Thanks"}, toMap(t, call.Request.Body))
	call.Respond(map[string]any{"message": "Message sent", "data": sent})
	require.NoError(t, <-done)

	transcript := store.Transcript()
	require.Len(t, transcript.Messages, 1)
	require.Equal(t, sent.ID, transcript.Messages[0].ID)
	conversations := store.Conversations()
	require.Equal(t, agro.ID, conversations[0].Peer.ID)
	require.Equal(t, sent.ID, conversations[0].LastMessage.ID)
}

func TestSendToInactivePeerOnlyUpdatesPreview(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodPost, "/messages", transporttest.JSON(map[string]any{"data": message("m-3", me, dealer, "Price list?")}))
	store := newTestStore(t, fake)
	store.Open(agro.ID)

	_, err := store.Send(context.Background(), dealer.ID, "Price list?")
	require.NoError(t, err)
	require.Empty(t, store.Transcript().Messages)
	conversations := store.Conversations()
	require.Len(t, conversations, 1)
	require.Equal(t, dealer.ID, conversations[0].Peer.ID)
}

func TestSendFailureAppendsNothing(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodPost, "/messages", transporttest.Fail(http.StatusNotFound, "Receiver not found"))
	store := newTestStore(t, fake)
	store.Open(agro.ID)

	_, err := store.Send(context.Background(), agro.ID, "Hello")
	require.Error(t, err)
	require.Empty(t, store.Transcript().Messages)
	require.Equal(t, state.StatusIdle, store.Status(GroupSend).Status)
}

func TestDeleteKeepsOrderOfRemainingMessages(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/u-agro", transporttest.JSON(transcriptPayload(
		message("m-1", agro, me, "one"),
		message("m-2", me, agro, "two"),
		message("m-3", agro, me, "three"),
	)))
	fake.Handle(http.MethodDelete, "/messages/m-2", transporttest.JSON(map[string]string{"message": "Message deleted"}))
	store := newTestStore(t, fake)
	store.Open(agro.ID)
	require.NoError(t, store.ListMessages(context.Background(), agro.ID, 1))

	require.NoError(t, store.Delete(context.Background(), "m-2"))
	messages := store.Transcript().Messages
	require.Equal(t, []model.ID{"m-1", "m-3"}, []model.ID{messages[0].ID, messages[1].ID})
}

func TestPollUnreadRefreshesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/unread-count", transporttest.JSON(map[string]int{"unread_count": 7}))
	store := newTestStore(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		store.PollUnread(ctx, 5*time.Millisecond)
	}()
	require.Eventually(t, func() bool {
		return fake.Count(http.MethodGet, "/messages/unread-count") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-stopped
	require.Equal(t, 7, store.Unread())
}

func TestClearResetsEverySlice(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/messages/unread-count", transporttest.JSON(map[string]int{"unread_count": 2}))
	store := newTestStore(t, fake)
	require.NoError(t, store.UnreadCount(context.Background()))
	store.Open(agro.ID)

	store.Clear()
	require.Equal(t, 0, store.Unread())
	require.Empty(t, store.ActivePeer())
	require.Empty(t, store.Conversations())
}
