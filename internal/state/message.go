package state

import (
	"context"

	"github.com/matheus3301/partyline/internal/gateway"
	"github.com/matheus3301/partyline/internal/model"
)

// MessageStore caches the chat of the party being viewed.
type MessageStore struct {
	*Store[model.Message]
	auth *AuthStore
}

// NewMessageStore creates an empty message store.
func NewMessageStore(deps Deps, auth *AuthStore) *MessageStore {
	return &MessageStore{Store: NewStore[model.Message]("message", "messages", deps), auth: auth}
}

// Messages returns the cached messages, newest first.
func (s *MessageStore) Messages() []model.Message {
	return s.List()
}

// FetchMessages replaces the cache with the chat of a party.
func (s *MessageStore) FetchMessages(ctx context.Context, partyID string) error {
	return s.run("fetchMessages", func() error {
		msgs, err := s.deps.Gateway.Messages().List(ctx, gateway.Where("party_id", partyID))
		if err != nil {
			return err
		}
		s.SetAll(msgs)
		return nil
	})
}

// SendMessage posts body to a party chat.
func (s *MessageStore) SendMessage(ctx context.Context, partyID, body string) (model.Message, error) {
	var msg model.Message
	err := s.run("sendMessage", func() error {
		user, err := s.auth.RequireUser()
		if err != nil {
			return err
		}
		msg, err = s.deps.Gateway.Messages().Create(ctx, model.Message{
			PartyID: partyID,
			UserID:  user.ID,
			Body:    body,
		})
		if err != nil {
			return err
		}
		s.Prepend(msg)
		return nil
	})
	return msg, err
}

// Subscribe follows a party chat. It returns nil when the feed cannot be
// registered.
func (s *MessageStore) Subscribe(ctx context.Context, partyID string, cb func(gateway.Change[model.Message])) gateway.Subscription {
	return s.subscribe(ctx, s.deps.Gateway.Messages(), gateway.Where("party_id", partyID), cb)
}
