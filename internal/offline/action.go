// Package offline buffers mutating actions that could not reach the gateway
// and replays them, in the order they were made, once it is reachable again.
package offline

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/partyline/internal/model"
)

// Type names a queued action. The set is closed.
type Type string

const (
	TypeCreateParty Type = "createParty"
	TypeJoinParty   Type = "joinParty"
	TypeUploadPhoto Type = "uploadPhoto"
	TypeLikePhoto   Type = "likePhoto"
	TypeSendMessage Type = "sendMessage"
	TypeAddFriend   Type = "addFriend"
)

// Action is a mutation that can be queued. Implemented only by the payload
// types in this package.
type Action interface {
	Type() Type
	sealed()
}

// CreateParty hosts a new party.
type CreateParty struct {
	Party model.Party `json:"party"`
}

// JoinParty registers the current user as attending a party.
type JoinParty struct {
	PartyID string `json:"party_id"`
}

// UploadPhoto posts a local image file to a party.
type UploadPhoto struct {
	PartyID string `json:"party_id"`
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

// LikePhoto likes a photo as the current user.
type LikePhoto struct {
	PhotoID string `json:"photo_id"`
}

// SendMessage posts a chat line to a party.
type SendMessage struct {
	PartyID string `json:"party_id"`
	Body    string `json:"body"`
}

// AddFriend sends a friend request.
type AddFriend struct {
	FriendID string `json:"friend_id"`
}

func (CreateParty) Type() Type { return TypeCreateParty }
func (JoinParty) Type() Type   { return TypeJoinParty }
func (UploadPhoto) Type() Type { return TypeUploadPhoto }
func (LikePhoto) Type() Type   { return TypeLikePhoto }
func (SendMessage) Type() Type { return TypeSendMessage }
func (AddFriend) Type() Type   { return TypeAddFriend }

func (CreateParty) sealed() {}
func (JoinParty) sealed()   {}
func (UploadPhoto) sealed() {}
func (LikePhoto) sealed()   {}
func (SendMessage) sealed() {}
func (AddFriend) sealed()   {}

func decodeAction(t Type, data json.RawMessage) (Action, error) {
	switch t {
	case TypeCreateParty:
		return decodeAs[CreateParty](data)
	case TypeJoinParty:
		return decodeAs[JoinParty](data)
	case TypeUploadPhoto:
		return decodeAs[UploadPhoto](data)
	case TypeLikePhoto:
		return decodeAs[LikePhoto](data)
	case TypeSendMessage:
		return decodeAs[SendMessage](data)
	case TypeAddFriend:
		return decodeAs[AddFriend](data)
	}
	return nil, fmt.Errorf("unknown action type %q", t)
}

func decodeAs[A Action](data json.RawMessage) (Action, error) {
	var a A
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", a.Type(), err)
	}
	return a, nil
}
