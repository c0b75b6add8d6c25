package offline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Item is one queued action.
type Item struct {
	ID        string
	Action    Action
	Timestamp int64 // unix ms
	Attempts  int
	LastError string
}

// Type returns the action type of the item.
func (i Item) Type() Type {
	if i.Action == nil {
		return ""
	}
	return i.Action.Type()
}

type itemJSON struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

func (i Item) MarshalJSON() ([]byte, error) {
	if i.Action == nil {
		return nil, errors.New("queue item has no action")
	}
	data, err := json.Marshal(i.Action)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", i.Action.Type(), err)
	}
	return json.Marshal(itemJSON{
		ID:        i.ID,
		Type:      i.Action.Type(),
		Data:      data,
		Timestamp: i.Timestamp,
		Attempts:  i.Attempts,
		LastError: i.LastError,
	})
}

func (i *Item) UnmarshalJSON(b []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	action, err := decodeAction(raw.Type, raw.Data)
	if err != nil {
		return fmt.Errorf("queue item %s: %w", raw.ID, err)
	}
	*i = Item{
		ID:        raw.ID,
		Action:    action,
		Timestamp: raw.Timestamp,
		Attempts:  raw.Attempts,
		LastError: raw.LastError,
	}
	return nil
}
