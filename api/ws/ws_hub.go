package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/cache"
	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/worker"
)

// RPCHandler serves a request/response procedure invoked over the
// websocket, distinct from the publish/subscribe path.
type RPCHandler func(ctx context.Context, caller models.User, args json.RawMessage) (any, error)

var ErrUnknownProcedure = errors.New("unknown procedure")

type hubEventKind int

const (
	eventOpen hubEventKind = iota
	eventClose
	eventSubscribe
	eventUnsubscribe
	eventPublish
	eventLogout
)

type hubEvent struct {
	kind          hubEventKind
	client        *Client
	pattern       string
	topic         string
	payload       []byte
	excludeSender bool
	relay         bool
	userId        string
}

type relayMessage struct {
	channel string
	body    []byte
}

// relayEnvelope carries a published event between instances over the cache
// pub/sub. Origin lets the publishing instance skip its own echo.
type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type eventData struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type eventMessage struct {
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

// Hub owns all broker state: the pattern to subscriber mapping, the per
// user connection sets and the joined-client set. Every mutation and every
// fan-out flows through the single events channel and is applied by the
// Run goroutine, so a publish always sees a consistent subscriber snapshot
// and subscribe/unsubscribe are atomic with respect to concurrent
// publishes.
type Hub struct {
	codeverseCache   cache.CodeverseCache
	logger           *zap.Logger
	instanceId       string
	events           chan hubEvent
	relayCh          chan relayMessage
	patternToClients map[string]map[*Client]struct{}
	userToClients    map[string]map[*Client]struct{}
	procedures       map[string]RPCHandler
}

func NewHub(codeverseCache cache.CodeverseCache, logger *zap.Logger) (*Hub, error) {
	instanceId, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &Hub{
		codeverseCache:   codeverseCache,
		logger:           logger,
		instanceId:       instanceId.String(),
		events:           make(chan hubEvent, 1024),
		relayCh:          make(chan relayMessage, 1024),
		patternToClients: make(map[string]map[*Client]struct{}),
		userToClients:    make(map[string]map[*Client]struct{}),
		procedures:       make(map[string]RPCHandler),
	}, nil
}

const (
	maxConnectionsPerUser         = 3
	maxSubscriptionsPerConnection = 50

	relayChannelPrefix  = "rt:"
	relayChannelPattern = "rt:code.*"
)

// RegisterRPC registers a named procedure. Must be called before Run; the
// registry is read-only afterwards so calls need no locking.
func (h *Hub) RegisterRPC(name string, handler RPCHandler) {
	h.procedures[name] = handler
}

func (h *Hub) CallRPC(ctx context.Context, caller models.User, name string, args json.RawMessage) (any, error) {
	handler, ok := h.procedures[name]
	if !ok {
		return nil, ErrUnknownProcedure
	}
	return handler(ctx, caller, args)
}

// Open admits an authenticated client to the hub.
func (h *Hub) Open(client *Client) {
	h.events <- hubEvent{kind: eventOpen, client: client}
}

// Close tears down a client and all of its subscriptions atomically.
func (h *Hub) Close(client *Client) {
	h.events <- hubEvent{kind: eventClose, client: client}
}

func (h *Hub) Subscribe(client *Client, pattern string) {
	h.events <- hubEvent{kind: eventSubscribe, client: client, pattern: pattern}
}

func (h *Hub) Unsubscribe(client *Client, pattern string) {
	h.events <- hubEvent{kind: eventUnsubscribe, client: client, pattern: pattern}
}

// Publish fans payload out to every subscriber whose pattern matches
// topic, skipping sender when excludeSender is set, and relays the event
// to the other instances.
func (h *Hub) Publish(topic string, payload []byte, sender *Client, excludeSender bool) {
	h.events <- hubEvent{
		kind:          eventPublish,
		topic:         topic,
		payload:       payload,
		client:        sender,
		excludeSender: excludeSender,
		relay:         true,
	}
}

// Logout closes every local session of the user.
func (h *Hub) Logout(userId string) {
	h.events <- hubEvent{kind: eventLogout, userId: userId}
}

func (h *Hub) Run(shutdownCtx context.Context) {
	go h.runRelay(shutdownCtx)

	for {
		select {
		case event := <-h.events:
			h.handleEvent(event)

		case <-shutdownCtx.Done():
			return
		}
	}
}

func (h *Hub) handleEvent(event hubEvent) {
	switch event.kind {
	case eventOpen:
		client := event.client
		if _, ok := h.userToClients[client.user.Id]; !ok {
			h.userToClients[client.user.Id] = make(map[*Client]struct{})
		}

		if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
			h.logger.Info("user reached max connections",
				zap.String("userId", client.user.Id),
				zap.Int("max", maxConnectionsPerUser))
			client.CloseConn()
			return
		}

		h.userToClients[client.user.Id][client] = struct{}{}

	case eventClose:
		h.removeClient(event.client)

	case eventSubscribe:
		client := event.client
		if len(client.subscribedPatterns) >= maxSubscriptionsPerConnection {
			h.logger.Info("connection reached max subscriptions",
				zap.String("userId", client.user.Id),
				zap.Int("max", maxSubscriptionsPerConnection))
			return
		}
		if h.patternToClients[event.pattern] == nil {
			h.patternToClients[event.pattern] = make(map[*Client]struct{})
		}
		h.patternToClients[event.pattern][client] = struct{}{}
		client.subscribedPatterns[event.pattern] = struct{}{}

	case eventUnsubscribe:
		delete(h.patternToClients[event.pattern], event.client)
		delete(event.client.subscribedPatterns, event.pattern)
		if len(h.patternToClients[event.pattern]) == 0 {
			delete(h.patternToClients, event.pattern)
		}

	case eventPublish:
		h.fanOut(event)

	case eventLogout:
		if clients, ok := h.userToClients[event.userId]; ok {
			for client := range clients {
				h.removeClient(client)
				client.CloseConn()
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	for pattern := range client.subscribedPatterns {
		delete(h.patternToClients[pattern], client)
		if len(h.patternToClients[pattern]) == 0 {
			delete(h.patternToClients, pattern)
		}
	}
	client.subscribedPatterns = make(map[string]struct{})

	delete(h.userToClients[client.user.Id], client)
	if len(h.userToClients[client.user.Id]) == 0 {
		delete(h.userToClients, client.user.Id)
	}
}

func (h *Hub) fanOut(event hubEvent) {
	message, err := json.Marshal(eventMessage{
		Type: "event",
		Data: eventData{Topic: event.topic, Payload: event.payload},
	})
	if err != nil {
		h.logger.Error("failed to marshal event message", zap.Error(err))
		return
	}

	for pattern, clients := range h.patternToClients {
		if !MatchTopic(pattern, event.topic) {
			continue
		}
		for client := range clients {
			if event.excludeSender && client == event.client {
				continue
			}
			// Best-effort delivery: a client whose outbound buffer is full
			// drops this event rather than stalling fan-out to others.
			if !client.trySend(message) {
				h.logger.Debug("dropped event for slow subscriber",
					zap.String("topic", event.topic),
					zap.String("userId", client.user.Id))
			}
		}
	}

	if !event.relay {
		return
	}

	envelope, err := json.Marshal(relayEnvelope{
		Origin:  h.instanceId,
		Topic:   event.topic,
		Payload: event.payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal relay envelope", zap.Error(err))
		return
	}

	select {
	case h.relayCh <- relayMessage{channel: relayChannelPrefix + event.topic, body: envelope}:
	default:
		h.logger.Warn("relay backlog full, dropping event", zap.String("topic", event.topic))
	}
}

// runRelay publishes relay envelopes sequentially so the stream a remote
// subscriber sees keeps the local publish order.
func (h *Hub) runRelay(shutdownCtx context.Context) {
	for {
		select {
		case msg := <-h.relayCh:
			if err := h.codeverseCache.Publish(shutdownCtx, msg.channel, msg.body); err != nil {
				h.logger.Warn("relay publish failed", zap.String("channel", msg.channel), zap.Error(err))
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}

// InitSubscriptions wires the hub to the cache pub/sub: the realtime relay
// pattern for events published by other instances, and the session
// teardown channel.
func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.codeverseCache.PSubscribe(shutdownCtx, relayChannelPattern, func(channel string, message []byte) {
		var envelope relayEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			h.logger.Warn("undecodable relay envelope", zap.String("channel", channel), zap.Error(err))
			return
		}
		if envelope.Origin == h.instanceId {
			return
		}
		h.events <- hubEvent{
			kind:    eventPublish,
			topic:   envelope.Topic,
			payload: envelope.Payload,
		}
	})
	if err != nil {
		return err
	}

	return h.codeverseCache.Subscribe(shutdownCtx, worker.UserLoggedOutChannel, func(message []byte) {
		var loggedOutMsg worker.UserLoggedOutMessage
		if err := json.Unmarshal(message, &loggedOutMsg); err != nil {
			h.logger.Warn("undecodable logout message", zap.Error(err))
			return
		}
		h.Logout(loggedOutMsg.UserId)
	})
}
