// Package messages holds the conversation index, the transcript of the
// active conversation and the root unread counter. There is no push
// channel: the counter is reconciled by polling.
package messages

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/validation"
	"go.uber.org/zap"
)

// StoreName identifies the message store in change notifications.
const StoreName = "messages"

// Operation groups of the message store.
const (
	GroupConversations state.Group = "messages.conversations"
	GroupTranscript    state.Group = "messages.transcript"
	GroupSend          state.Group = "messages.send"
	GroupDelete        state.Group = "messages.delete"
	GroupUnread        state.Group = "messages.unread"
)

const (
	sliceTranscript = "transcript"

	defaultPageSize     = 50
	defaultPollInterval = 30 * time.Second
)

var errMissingCaller = errors.New("messages: caller required")

// Config describes the dependencies of the message store.
type Config struct {
	Caller    transport.Caller
	Session   state.SessionReader
	Validator *validation.Validator
	Publisher state.Publisher
	Logger    *zap.Logger
	PageSize  int
}

// SendInput is the body of a new message.
type SendInput struct {
	ReceiverID model.ID `json:"receiver_id" validate:"required"`
	Content    string   `json:"content" validate:"required,max=5000"`
}

// Transcript is the active conversation.
type Transcript struct {
	Peer     model.ID
	Messages []model.Message
	Page     model.Page
}

// Store is the message store.
type Store struct {
	core      *state.Core
	caller    transport.Caller
	validator *validation.Validator
	pageSize  int
	logger    *zap.Logger

	// guarded by core
	conversations []model.Conversation
	active        model.ID
	transcript    []model.Message
	page          model.Page
	unread        int
}

// NewStore constructs the message store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Caller == nil {
		return nil, errMissingCaller
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validation.New()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	core := state.NewCore(state.CoreConfig{
		Name:      StoreName,
		Session:   cfg.Session,
		Publisher: cfg.Publisher,
		Logger:    cfg.Logger,
	})
	return &Store{
		core:      core,
		caller:    cfg.Caller,
		validator: validator,
		pageSize:  pageSize,
		logger:    core.Logger(),
	}, nil
}

type conversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
}

type transcriptResponse struct {
	Messages []model.Message `json:"messages"`
	model.Page
}

type sendResponse struct {
	Message model.Message `json:"data"`
}

type unreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

// ListConversations replaces the conversation index.
func (s *Store) ListConversations(ctx context.Context) error {
	ticket, err := s.core.Begin(GroupConversations, state.KindQuery)
	if err != nil {
		return err
	}
	var payload conversationsResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/messages/conversations"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.conversations = model.CloneAll(payload.Conversations)
		if s.conversations == nil {
			s.conversations = []model.Conversation{}
		}
	})
}

// Open makes peerID the active conversation and empties the transcript at
// once so the previous peer's messages never show under the new header.
func (s *Store) Open(peerID model.ID) {
	s.core.Mutate(sliceTranscript, func() {
		s.active = peerID
		s.transcript = nil
		s.page = model.Page{}
	})
}

// Close leaves the active conversation.
func (s *Store) Close() {
	s.Open("")
}

// ListMessages fetches one transcript page with peerID. The result is only
// applied while peerID is still the active conversation. Fetching marks the
// peer's messages read, so the conversation's unread count moves into the
// root counter's decrement.
func (s *Store) ListMessages(ctx context.Context, peerID model.ID, page int) error {
	ticket, err := s.core.Begin(GroupTranscript, state.KindQuery)
	if err != nil {
		return err
	}
	if page <= 0 {
		page = 1
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(s.pageSize))
	var payload transcriptResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/messages/" + peerID.String(), Query: query}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		if s.active != peerID {
			s.logger.Debug("discarded transcript of inactive peer", zap.String("peer_id", peerID.String()))
			return
		}
		s.transcript = model.CloneAll(payload.Messages)
		if s.transcript == nil {
			s.transcript = []model.Message{}
		}
		s.page = payload.Page
		if index := s.conversationIndex(peerID); index >= 0 {
			read := s.conversations[index].UnreadCount
			s.conversations[index].UnreadCount = 0
			s.unread = model.NonNegative(s.unread - read)
		}
	})
}

// Send delivers a message. It is appended to the transcript only after the
// server accepted it, and only if the receiver is still the active peer.
func (s *Store) Send(ctx context.Context, receiverID model.ID, content string) (model.Message, error) {
	input := SendInput{ReceiverID: receiverID, Content: content}
	if err := s.validator.Validate(input); err != nil {
		return model.Message{}, err
	}
	ticket, err := s.core.Begin(GroupSend, state.KindCommand)
	if err != nil {
		return model.Message{}, err
	}
	var payload sendResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/messages", Body: input}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		sent := payload.Message
		if s.active == receiverID {
			s.transcript = append(s.transcript, sent.Clone())
		}
		s.recordPreview(receiverID, sent)
	})
	if settleErr != nil {
		return model.Message{}, settleErr
	}
	return payload.Message.Clone(), nil
}

// Delete removes a message by id; the rest of the transcript keeps its order.
func (s *Store) Delete(ctx context.Context, messageID model.ID) error {
	ticket, err := s.core.Begin(GroupDelete, state.KindCommand)
	if err != nil {
		return err
	}
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodDelete, Path: "/messages/" + messageID.String()}, nil)
	return s.core.Settle(ticket, callErr, func() {
		s.transcript = slices.DeleteFunc(s.transcript, func(message model.Message) bool {
			return message.ID == messageID
		})
	})
}

// UnreadCount replaces the root unread counter with the server's value.
func (s *Store) UnreadCount(ctx context.Context) error {
	ticket, err := s.core.Begin(GroupUnread, state.KindQuery)
	if err != nil {
		return err
	}
	var payload unreadResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/messages/unread-count"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.unread = model.NonNegative(payload.UnreadCount)
	})
}

// PollUnread refreshes the unread counter every interval until ctx is done.
// Failed polls are logged and retried on the next tick; polls without a
// session are skipped.
func (s *Store) PollUnread(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.UnreadCount(ctx)
			switch {
			case err == nil, errors.Is(err, state.ErrNotAuthenticated), ctx.Err() != nil:
			default:
				s.logger.Warn("unread poll failed",
					zap.String("operation", string(GroupUnread)),
					zap.String("reason", "poll"),
					zap.Error(err))
			}
		}
	}
}

// Conversations returns a copy of the conversation index.
func (s *Store) Conversations() []model.Conversation {
	var conversations []model.Conversation
	s.core.View(func() {
		conversations = model.CloneAll(s.conversations)
	})
	return conversations
}

// ActivePeer returns the peer of the open conversation, if any.
func (s *Store) ActivePeer() model.ID {
	var peer model.ID
	s.core.View(func() {
		peer = s.active
	})
	return peer
}

// Transcript returns a copy of the active conversation.
func (s *Store) Transcript() Transcript {
	var transcript Transcript
	s.core.View(func() {
		transcript = Transcript{Peer: s.active, Messages: model.CloneAll(s.transcript), Page: s.page}
	})
	return transcript
}

// Unread returns the root unread counter.
func (s *Store) Unread() int {
	var unread int
	s.core.View(func() {
		unread = s.unread
	})
	return unread
}

// Status returns the request status of group.
func (s *Store) Status(group state.Group) state.OpState {
	return s.core.State(group)
}

// Clear drops every slice and invalidates outstanding requests.
func (s *Store) Clear() {
	s.core.Reset(func() {
		s.conversations = nil
		s.active = ""
		s.transcript = nil
		s.page = model.Page{}
		s.unread = 0
	})
}

func (s *Store) conversationIndex(peerID model.ID) int {
	return slices.IndexFunc(s.conversations, func(conversation model.Conversation) bool {
		return conversation.Peer.ID == peerID
	})
}

// recordPreview moves the conversation with peerID to the top with sent as
// its last message, creating it when the receiver is known.
func (s *Store) recordPreview(peerID model.ID, sent model.Message) {
	last := sent.Clone()
	conversation := model.Conversation{LastMessage: &last, LastUpdated: sent.CreatedAt}
	if index := s.conversationIndex(peerID); index >= 0 {
		conversation.Peer = s.conversations[index].Peer
		conversation.UnreadCount = s.conversations[index].UnreadCount
		s.conversations = slices.Delete(s.conversations, index, index+1)
	} else if sent.Receiver != nil {
		conversation.Peer = *sent.Receiver
	} else {
		return
	}
	s.conversations = slices.Insert(s.conversations, 0, conversation)
}
