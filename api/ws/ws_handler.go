package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
	Logger  *zap.Logger
}

func NewHandler(svc *service.Service, hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
		Logger:  logger,
	}
}

func (h *Handler) NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
		Subprotocols: []string{"codeverse-v1"},
	}
}

// ServeWS upgrades the connection and starts the client pumps. The session
// is not authenticated yet; the client must send a join message first, and
// everything else is rejected until it does.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug("failed to upgrade ws connection", zap.Error(err))
		return
	}

	client := NewClient(h.Hub, conn, h.Logger, h.HandleWsMessage)

	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinMessage struct {
	Token string `json:"token"`
}

type topicMessage struct {
	Topic      string `json:"topic"`
	DocumentId string `json:"documentId"`
}

type updateMessage struct {
	DocumentId    string          `json:"documentId"`
	Operation     models.ChangeOp `json:"operation"`
	Position      models.Position `json:"position"`
	Text          string          `json:"text"`
	Content       string          `json:"content"`
	ExcludeSender bool            `json:"excludeSender"`
}

type cursorMessage struct {
	DocumentId string          `json:"documentId"`
	Position   models.Position `json:"position"`
}

type callMessage struct {
	Procedure string          `json:"procedure"`
	Args      json.RawMessage `json:"args"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		h.Logger.Debug("invalid ws message", zap.Error(err))
		return
	}

	if !client.joined && msg.Type != "join" {
		h.reply(client, responseMessage{
			Type: msg.Type + "_response",
			Data: map[string]any{"success": false, "error": "not joined"},
		})
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "join":
		var joinMsg joinMessage
		if err := json.Unmarshal(msg.Data, &joinMsg); err != nil {
			h.Logger.Debug("invalid join data", zap.Error(err))
			return
		}
		resp = h.handleJoin(client, joinMsg)

	case "subscribe":
		var topicMsg topicMessage
		if err := json.Unmarshal(msg.Data, &topicMsg); err != nil {
			h.Logger.Debug("invalid subscribe data", zap.Error(err))
			return
		}
		resp = h.handleSubscribe(client, topicMsg)

	case "unsubscribe":
		var topicMsg topicMessage
		if err := json.Unmarshal(msg.Data, &topicMsg); err != nil {
			h.Logger.Debug("invalid unsubscribe data", zap.Error(err))
			return
		}
		resp = h.handleUnsubscribe(client, topicMsg)

	case "update":
		var updateMsg updateMessage
		if err := json.Unmarshal(msg.Data, &updateMsg); err != nil {
			h.Logger.Debug("invalid update data", zap.Error(err))
			return
		}
		resp = h.handleUpdate(client, updateMsg)

	case "cursor":
		var cursorMsg cursorMessage
		if err := json.Unmarshal(msg.Data, &cursorMsg); err != nil {
			h.Logger.Debug("invalid cursor data", zap.Error(err))
			return
		}
		resp = h.handleCursor(client, cursorMsg)

	case "call":
		var callMsg callMessage
		if err := json.Unmarshal(msg.Data, &callMsg); err != nil {
			h.Logger.Debug("invalid call data", zap.Error(err))
			return
		}
		resp = h.handleCall(client, callMsg)

	default:
		h.Logger.Debug("unknown ws message type", zap.String("type", msg.Type))
	}

	if resp.Type != "" {
		h.reply(client, resp)
	}
}

func (h *Handler) reply(client *Client, resp responseMessage) {
	respBytes, err := json.Marshal(resp)
	if err != nil {
		h.Logger.Error("error marshaling ws response", zap.Error(err))
		return
	}
	client.trySend(respBytes)
}

func (h *Handler) handleJoin(client *Client, joinMsg joinMessage) responseMessage {
	resp := responseMessage{
		Type: "join_response",
	}

	if client.joined {
		resp.Data = map[string]any{"success": false, "error": "already joined"}
		return resp
	}

	user, err := h.Service.Authenticate(context.Background(), joinMsg.Token)
	if err != nil {
		resp.Data = map[string]any{"success": false, "error": "unauthenticated"}
		return resp
	}

	client.user = user
	client.joined = true
	h.Hub.Open(client)

	resp.Data = map[string]any{"success": true, "userId": user.Id, "username": user.Username}
	return resp
}

// checkAccess verifies the client may read/write the document, caching
// positive results for the rest of the session.
func (h *Handler) checkAccess(client *Client, docId string) error {
	if _, ok := client.canAccessDocs[docId]; ok {
		return nil
	}

	doc, err := h.Service.GetDocument(context.Background(), client.user, docId)
	if err != nil {
		return err
	}

	if !service.CanWrite(client.user, doc) {
		return service.ErrNotAuthorized
	}

	client.canAccessDocs[docId] = struct{}{}
	return nil
}

func (h *Handler) handleSubscribe(client *Client, topicMsg topicMessage) responseMessage {
	resp := responseMessage{
		Type: "subscribe_response",
	}

	topic, docId, err := ResolveSubscribeTopic(topicMsg.Topic, topicMsg.DocumentId)
	if err != nil {
		resp.Data = map[string]any{"success": false, "topic": topicMsg.Topic, "error": err.Error()}
		return resp
	}

	if err := h.checkAccess(client, docId); err != nil {
		resp.Data = map[string]any{"success": false, "topic": topicMsg.Topic, "error": wsError(err)}
		return resp
	}

	h.Hub.Subscribe(client, topic)
	resp.Data = map[string]any{"success": true, "topic": topic, "documentId": docId}

	return resp
}

func (h *Handler) handleUnsubscribe(client *Client, topicMsg topicMessage) responseMessage {
	resp := responseMessage{
		Type: "unsubscribe_response",
	}

	topic, docId, err := ResolveSubscribeTopic(topicMsg.Topic, topicMsg.DocumentId)
	if err != nil {
		resp.Data = map[string]any{"success": false, "topic": topicMsg.Topic, "error": err.Error()}
		return resp
	}

	h.Hub.Unsubscribe(client, topic)
	resp.Data = map[string]any{"success": true, "topic": topic, "documentId": docId}

	return resp
}

func (h *Handler) handleUpdate(client *Client, updateMsg updateMessage) responseMessage {
	resp := responseMessage{
		Type: "update_response",
	}

	if updateMsg.Operation != models.OpInsert && updateMsg.Operation != models.OpDelete {
		resp.Data = map[string]any{"success": false, "documentId": updateMsg.DocumentId, "error": "invalid operation"}
		return resp
	}

	if err := h.checkAccess(client, updateMsg.DocumentId); err != nil {
		resp.Data = map[string]any{"success": false, "documentId": updateMsg.DocumentId, "error": wsError(err)}
		return resp
	}

	event := models.ChangeEvent{
		UserId:    client.user.Id,
		Operation: updateMsg.Operation,
		Position:  updateMsg.Position,
		Text:      updateMsg.Text,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		resp.Data = map[string]any{"success": false, "documentId": updateMsg.DocumentId, "error": "internal error"}
		return resp
	}

	h.Hub.Publish(DocumentChangedTopic(updateMsg.DocumentId), payload, client, updateMsg.ExcludeSender)

	// An update may carry a full content snapshot for persistence.
	if updateMsg.Content != "" {
		if err := h.Service.StageContent(context.Background(), updateMsg.DocumentId, updateMsg.Content); err != nil {
			resp.Data = map[string]any{"success": false, "documentId": updateMsg.DocumentId, "error": wsError(err)}
			return resp
		}
	}

	resp.Data = map[string]any{"success": true, "documentId": updateMsg.DocumentId}
	return resp
}

// Cursor publishes are fire-and-forget; only failures get a reply. The
// sender is always excluded from its own cursor events.
func (h *Handler) handleCursor(client *Client, cursorMsg cursorMessage) responseMessage {
	if err := h.checkAccess(client, cursorMsg.DocumentId); err != nil {
		return responseMessage{
			Type: "cursor_response",
			Data: map[string]any{"success": false, "documentId": cursorMsg.DocumentId, "error": wsError(err)},
		}
	}

	event := models.CursorEvent{
		UserId:      client.user.Id,
		Position:    cursorMsg.Position,
		DisplayName: client.user.Username,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return responseMessage{
			Type: "cursor_response",
			Data: map[string]any{"success": false, "documentId": cursorMsg.DocumentId, "error": "internal error"},
		}
	}

	h.Hub.Publish(CursorMovedTopic(cursorMsg.DocumentId), payload, client, true)
	return responseMessage{}
}

func (h *Handler) handleCall(client *Client, callMsg callMessage) responseMessage {
	resp := responseMessage{
		Type: "call_response",
	}

	result, err := h.Hub.CallRPC(context.Background(), client.user, callMsg.Procedure, callMsg.Args)
	if err != nil {
		resp.Data = map[string]any{"success": false, "procedure": callMsg.Procedure, "error": wsError(err)}
		return resp
	}

	resp.Data = map[string]any{"success": true, "procedure": callMsg.Procedure, "result": result}
	return resp
}

// wsError maps service errors to stable client-facing strings without
// leaking which check failed inside authentication.
func wsError(err error) string {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, service.ErrNotAuthorized):
		return "not authorized"
	case errors.Is(err, service.ErrNotFound):
		return "not found"
	case errors.Is(err, service.ErrInvalid):
		return "invalid request"
	case errors.Is(err, ErrUnknownProcedure):
		return "unknown procedure"
	default:
		return "internal error"
	}
}
