package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	cachemocks "github.com/zlnvch/codeverse/cache/mocks"
	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/worker"
)

func setupHub(t *testing.T) (*Hub, *cachemocks.MockCache) {
	mockCache := new(cachemocks.MockCache)
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	hub, err := NewHub(mockCache, zap.NewNop())
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return hub, mockCache
}

// newTestClient builds a client that is not backed by a real connection;
// tests read its Send channel directly instead of running the pumps.
func newTestClient(hub *Hub, userId string) *Client {
	client := NewClient(hub, nil, zap.NewNop(), nil)
	client.user = models.User{Id: userId, Username: userId}
	client.joined = true
	return client
}

func recvEvent(t *testing.T, client *Client) eventMessage {
	t.Helper()
	select {
	case raw := <-client.Send:
		var msg eventMessage
		assert.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventMessage{}
	}
}

func TestHubPublishFanOut(t *testing.T) {
	hub, _ := setupHub(t)

	s1 := newTestClient(hub, "u1")
	s2 := newTestClient(hub, "u2")
	hub.Open(s1)
	hub.Open(s2)

	topic := DocumentChangedTopic("d1")
	hub.Subscribe(s1, topic)
	hub.Subscribe(s2, topic)

	hub.Publish(topic, []byte(`{"operation":"insert"}`), s1, false)

	// The publisher is a subscriber too unless it opts out
	for _, client := range []*Client{s1, s2} {
		msg := recvEvent(t, client)
		assert.Equal(t, "event", msg.Type)
		assert.Equal(t, topic, msg.Data.Topic)
		assert.JSONEq(t, `{"operation":"insert"}`, string(msg.Data.Payload))
	}
}

func TestHubPublishExcludesSender(t *testing.T) {
	hub, _ := setupHub(t)

	s1 := newTestClient(hub, "u1")
	s2 := newTestClient(hub, "u2")
	hub.Open(s1)
	hub.Open(s2)

	topic := CursorMovedTopic("d1")
	hub.Subscribe(s1, topic)
	hub.Subscribe(s2, topic)

	hub.Publish(topic, []byte(`{"position":7}`), s1, true)

	msg := recvEvent(t, s2)
	assert.Equal(t, topic, msg.Data.Topic)

	// Fan-out for this publish finished before s2 received, so the
	// sender's queue is settled.
	assert.Empty(t, s1.Send)
}

func TestHubCloseStopsDelivery(t *testing.T) {
	hub, _ := setupHub(t)

	s1 := newTestClient(hub, "u1")
	s2 := newTestClient(hub, "u2")
	hub.Open(s1)
	hub.Open(s2)

	topic := DocumentChangedTopic("d1")
	hub.Subscribe(s1, topic)
	hub.Subscribe(s2, topic)

	hub.Close(s2)
	hub.Publish(topic, []byte(`{}`), nil, false)

	msg := recvEvent(t, s1)
	assert.Equal(t, topic, msg.Data.Topic)
	assert.Empty(t, s2.Send)
}

func TestHubUnsubscribe(t *testing.T) {
	hub, _ := setupHub(t)

	s1 := newTestClient(hub, "u1")
	hub.Open(s1)

	topic := DocumentChangedTopic("d1")
	hub.Subscribe(s1, topic)
	hub.Unsubscribe(s1, topic)
	hub.Subscribe(s1, DocumentChangedTopic("d2"))

	hub.Publish(topic, []byte(`{}`), nil, false)
	hub.Publish(DocumentChangedTopic("d2"), []byte(`{}`), nil, false)

	msg := recvEvent(t, s1)
	assert.Equal(t, DocumentChangedTopic("d2"), msg.Data.Topic)
	assert.Empty(t, s1.Send)
}

func TestHubWildcardSubscription(t *testing.T) {
	hub, _ := setupHub(t)

	s1 := newTestClient(hub, "u1")
	hub.Open(s1)
	hub.Subscribe(s1, "code.document.*.changed")

	hub.Publish(DocumentChangedTopic("d1"), []byte(`{}`), nil, false)
	hub.Publish(CursorMovedTopic("d1"), []byte(`{}`), nil, false)
	hub.Publish(DocumentChangedTopic("d2"), []byte(`{}`), nil, false)

	// Delivery keeps publish order; the cursor event does not match
	msg := recvEvent(t, s1)
	assert.Equal(t, DocumentChangedTopic("d1"), msg.Data.Topic)
	msg = recvEvent(t, s1)
	assert.Equal(t, DocumentChangedTopic("d2"), msg.Data.Topic)
	assert.Empty(t, s1.Send)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub, _ := setupHub(t)

	slow := newTestClient(hub, "u1")
	sentinel := newTestClient(hub, "u2")
	hub.Open(slow)
	hub.Open(sentinel)

	topic := DocumentChangedTopic("d1")
	hub.Subscribe(slow, topic)
	hub.Subscribe(sentinel, DocumentChangedTopic("d2"))

	// Overflow the outbound buffer; the excess is dropped, never blocking
	// the hub.
	sendBuffer := cap(slow.Send)
	for i := 0; i < sendBuffer+5; i++ {
		hub.Publish(topic, []byte(fmt.Sprintf(`{"seq":%d}`, i)), nil, false)
	}
	hub.Publish(DocumentChangedTopic("d2"), []byte(`{}`), nil, false)

	recvEvent(t, sentinel)
	assert.Len(t, slow.Send, sendBuffer)

	// The oldest events survived
	msg := recvEvent(t, slow)
	assert.JSONEq(t, `{"seq":0}`, string(msg.Data.Payload))
}

func TestHubLogoutClosesAllUserSessions(t *testing.T) {
	hub, _ := setupHub(t)

	c1 := newTestClient(hub, "u1")
	c2 := newTestClient(hub, "u1")
	other := newTestClient(hub, "u2")
	hub.Open(c1)
	hub.Open(c2)
	hub.Open(other)

	topic := DocumentChangedTopic("d1")
	hub.Subscribe(c1, topic)
	hub.Subscribe(c2, topic)
	hub.Subscribe(other, topic)

	hub.Logout("u1")
	hub.Publish(topic, []byte(`{}`), nil, false)

	recvEvent(t, other)
	assert.Empty(t, c1.Send)
	assert.Empty(t, c2.Send)
	assert.Error(t, c1.ctx.Err())
	assert.Error(t, c2.ctx.Err())
	assert.NoError(t, other.ctx.Err())
}

func TestHubMaxConnectionsPerUser(t *testing.T) {
	hub, _ := setupHub(t)

	clients := make([]*Client, maxConnectionsPerUser+1)
	for i := range clients {
		clients[i] = newTestClient(hub, "u1")
		hub.Open(clients[i])
	}

	sentinel := newTestClient(hub, "u2")
	hub.Open(sentinel)
	hub.Subscribe(sentinel, DocumentChangedTopic("d1"))
	hub.Publish(DocumentChangedTopic("d1"), []byte(`{}`), nil, false)
	recvEvent(t, sentinel)

	for _, client := range clients[:maxConnectionsPerUser] {
		assert.NoError(t, client.ctx.Err())
	}
	assert.Error(t, clients[maxConnectionsPerUser].ctx.Err())
}

func TestHubRelayEnvelope(t *testing.T) {
	mockCache := new(cachemocks.MockCache)
	hub, err := NewHub(mockCache, zap.NewNop())
	assert.NoError(t, err)

	published := make(chan []byte, 1)
	mockCache.On("Publish", mock.Anything, relayChannelPrefix+DocumentChangedTopic("d1"), mock.Anything).
		Run(func(args mock.Arguments) {
			published <- args.Get(2).([]byte)
		}).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	hub.Publish(DocumentChangedTopic("d1"), []byte(`{"operation":"insert"}`), nil, false)

	select {
	case body := <-published:
		var envelope relayEnvelope
		assert.NoError(t, json.Unmarshal(body, &envelope))
		assert.Equal(t, hub.instanceId, envelope.Origin)
		assert.Equal(t, DocumentChangedTopic("d1"), envelope.Topic)
		assert.JSONEq(t, `{"operation":"insert"}`, string(envelope.Payload))
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for relay publish")
	}
}

func TestHubRelaySkipsOwnOrigin(t *testing.T) {
	mockCache := new(cachemocks.MockCache)
	hub, err := NewHub(mockCache, zap.NewNop())
	assert.NoError(t, err)

	var relayHandler func(channel string, message []byte)
	mockCache.On("PSubscribe", mock.Anything, relayChannelPattern, mock.Anything).
		Run(func(args mock.Arguments) {
			relayHandler = args.Get(2).(func(channel string, message []byte))
		}).Return(nil)
	mockCache.On("Subscribe", mock.Anything, worker.UserLoggedOutChannel, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	assert.NoError(t, hub.InitSubscriptions(ctx))
	go hub.Run(ctx)

	s1 := newTestClient(hub, "u1")
	hub.Open(s1)
	topic := DocumentChangedTopic("d1")
	hub.Subscribe(s1, topic)

	ownEcho, _ := json.Marshal(relayEnvelope{Origin: hub.instanceId, Topic: topic, Payload: []byte(`{"from":"self"}`)})
	remote, _ := json.Marshal(relayEnvelope{Origin: "other-instance", Topic: topic, Payload: []byte(`{"from":"remote"}`)})

	relayHandler(relayChannelPrefix+topic, ownEcho)
	relayHandler(relayChannelPrefix+topic, remote)

	msg := recvEvent(t, s1)
	assert.JSONEq(t, `{"from":"remote"}`, string(msg.Data.Payload))
	assert.Empty(t, s1.Send)
}

func TestHubCallRPC(t *testing.T) {
	mockCache := new(cachemocks.MockCache)
	hub, err := NewHub(mockCache, zap.NewNop())
	assert.NoError(t, err)

	hub.RegisterRPC("echo", func(ctx context.Context, caller models.User, args json.RawMessage) (any, error) {
		return map[string]string{"caller": caller.Id, "args": string(args)}, nil
	})

	result, err := hub.CallRPC(context.Background(), models.User{Id: "u1"}, "echo", json.RawMessage(`{"x":1}`))
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"caller": "u1", "args": `{"x":1}`}, result)

	_, err = hub.CallRPC(context.Background(), models.User{Id: "u1"}, "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownProcedure)
}
