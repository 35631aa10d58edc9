package mq

import (
	"context"
	"encoding/json"
)

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}

// Account event types carried on the queue.
const (
	EventRevokeSessions = "revoke_sessions"
	EventPurgeUser      = "purge_user"
)

// AccountEvent asks every instance to act on a user account: kick the
// user's live sessions, or purge their data after account deletion.
type AccountEvent struct {
	Type   string `json:"type"`
	UserId string `json:"userId"`
}

func (e AccountEvent) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodeAccountEvent(body string) (AccountEvent, error) {
	var e AccountEvent
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return AccountEvent{}, err
	}
	return e, nil
}
