package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/zlnvch/codeverse/models"
	"github.com/zlnvch/codeverse/service"
	storemocks "github.com/zlnvch/codeverse/store/mocks"
	"github.com/zlnvch/codeverse/worker"
)

func setupHandler(t *testing.T) (*Handler, *storemocks.MockStore) {
	hub, mockCache := setupHub(t)
	mockStore := new(storemocks.MockStore)
	mockCache.On("SetDocumentContent", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		nil,
		worker.NewDocSaver(mockStore, zap.NewNop(), 60000),
		nil,
		[]byte("secret"),
		30*time.Minute,
		168*time.Hour,
		zap.NewNop(),
	)
	assert.NoError(t, err)

	return NewHandler(svc, hub, zap.NewNop()), mockStore
}

func wsMsg(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	dataBytes, err := json.Marshal(data)
	assert.NoError(t, err)
	raw, err := json.Marshal(message{Type: msgType, Data: dataBytes})
	assert.NoError(t, err)
	return raw
}

type reply struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func recvReply(t *testing.T, client *Client) reply {
	t.Helper()
	select {
	case raw := <-client.Send:
		var r reply
		assert.NoError(t, json.Unmarshal(raw, &r))
		return r
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for reply")
		return reply{}
	}
}

func joinClient(t *testing.T, h *Handler, mockStore *storemocks.MockStore, user models.User) *Client {
	t.Helper()
	client := NewClient(h.Hub, nil, zap.NewNop(), h.HandleWsMessage)

	token, err := h.Service.IssueAccessToken(user, 0)
	assert.NoError(t, err)
	mockStore.On("GetUserByUsername", mock.Anything, user.Username).Return(user, nil)

	h.HandleWsMessage(client, 1, wsMsg(t, "join", joinMessage{Token: token}))
	r := recvReply(t, client)
	assert.Equal(t, "join_response", r.Type)
	assert.Equal(t, true, r.Data["success"])

	return client
}

func TestHandlerRejectsBeforeJoin(t *testing.T) {
	h, _ := setupHandler(t)
	client := NewClient(h.Hub, nil, zap.NewNop(), h.HandleWsMessage)

	h.HandleWsMessage(client, 1, wsMsg(t, "subscribe", topicMessage{Topic: DocumentUpdateAlias, DocumentId: "d1"}))

	r := recvReply(t, client)
	assert.Equal(t, "subscribe_response", r.Type)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "not joined", r.Data["error"])
}

func TestHandlerJoin(t *testing.T) {
	h, mockStore := setupHandler(t)

	user := models.User{Id: "u1", Username: "alice"}
	client := joinClient(t, h, mockStore, user)
	assert.Equal(t, "u1", client.user.Id)

	// Joining twice is rejected
	h.HandleWsMessage(client, 1, wsMsg(t, "join", joinMessage{Token: "whatever"}))
	r := recvReply(t, client)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "already joined", r.Data["error"])
}

func TestHandlerJoinBadToken(t *testing.T) {
	h, _ := setupHandler(t)
	client := NewClient(h.Hub, nil, zap.NewNop(), h.HandleWsMessage)

	h.HandleWsMessage(client, 1, wsMsg(t, "join", joinMessage{Token: "not-a-token"}))

	r := recvReply(t, client)
	assert.Equal(t, "join_response", r.Type)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "unauthenticated", r.Data["error"])
}

func TestHandlerSubscribeAuthorization(t *testing.T) {
	h, mockStore := setupHandler(t)

	doc := models.Document{Id: "d1", OwnerId: "owner", SharedWith: []string{"grantee"}}
	mockStore.On("GetDocument", mock.Anything, "d1").Return(doc, nil)

	grantee := joinClient(t, h, mockStore, models.User{Id: "grantee", Username: "bob"})
	h.HandleWsMessage(grantee, 1, wsMsg(t, "subscribe", topicMessage{Topic: DocumentUpdateAlias, DocumentId: "d1"}))
	r := recvReply(t, grantee)
	assert.Equal(t, true, r.Data["success"])
	assert.Equal(t, DocumentChangedTopic("d1"), r.Data["topic"])

	// An unrelated user is rejected and never registered
	stranger := joinClient(t, h, mockStore, models.User{Id: "stranger", Username: "eve"})
	h.HandleWsMessage(stranger, 1, wsMsg(t, "subscribe", topicMessage{Topic: DocumentUpdateAlias, DocumentId: "d1"}))
	r = recvReply(t, stranger)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "not authorized", r.Data["error"])

	h.Hub.Publish(DocumentChangedTopic("d1"), []byte(`{}`), nil, false)
	recvEvent(t, grantee)
	assert.Empty(t, stranger.Send)
}

func TestHandlerUpdatePublishesChangeEvent(t *testing.T) {
	h, mockStore := setupHandler(t)

	doc := models.Document{Id: "d1", OwnerId: "u1", SharedWith: []string{"u2"}}
	mockStore.On("GetDocument", mock.Anything, "d1").Return(doc, nil)

	editor := joinClient(t, h, mockStore, models.User{Id: "u1", Username: "alice"})
	watcher := joinClient(t, h, mockStore, models.User{Id: "u2", Username: "bob"})

	h.HandleWsMessage(watcher, 1, wsMsg(t, "subscribe", topicMessage{Topic: DocumentUpdateAlias, DocumentId: "d1"}))
	recvReply(t, watcher)

	h.HandleWsMessage(editor, 1, wsMsg(t, "update", updateMessage{
		DocumentId: "d1",
		Operation:  models.OpInsert,
		Position:   models.Position{Line: 3, Column: 7},
		Text:       "x",
	}))

	r := recvReply(t, editor)
	assert.Equal(t, "update_response", r.Type)
	assert.Equal(t, true, r.Data["success"])

	msg := recvEvent(t, watcher)
	assert.Equal(t, DocumentChangedTopic("d1"), msg.Data.Topic)

	var event models.ChangeEvent
	assert.NoError(t, json.Unmarshal(msg.Data.Payload, &event))
	assert.Equal(t, "u1", event.UserId)
	assert.Equal(t, models.OpInsert, event.Operation)
	assert.Equal(t, 3, event.Position.Line)
	assert.Equal(t, 7, event.Position.Column)
	assert.Equal(t, "x", event.Text)
}

func TestHandlerUpdateInvalidOperation(t *testing.T) {
	h, mockStore := setupHandler(t)

	editor := joinClient(t, h, mockStore, models.User{Id: "u1", Username: "alice"})

	h.HandleWsMessage(editor, 1, wsMsg(t, "update", updateMessage{
		DocumentId: "d1",
		Operation:  "replace",
	}))

	r := recvReply(t, editor)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "invalid operation", r.Data["error"])
}

func TestHandlerCursorExcludesSender(t *testing.T) {
	h, mockStore := setupHandler(t)

	doc := models.Document{Id: "d1", OwnerId: "u1", SharedWith: []string{"u2"}}
	mockStore.On("GetDocument", mock.Anything, "d1").Return(doc, nil)

	mover := joinClient(t, h, mockStore, models.User{Id: "u1", Username: "alice"})
	watcher := joinClient(t, h, mockStore, models.User{Id: "u2", Username: "bob"})

	for _, client := range []*Client{mover, watcher} {
		h.HandleWsMessage(client, 1, wsMsg(t, "subscribe", topicMessage{Topic: CursorUpdateAlias, DocumentId: "d1"}))
		recvReply(t, client)
	}

	h.HandleWsMessage(mover, 1, wsMsg(t, "cursor", cursorMessage{
		DocumentId: "d1",
		Position:   models.Position{Line: 1, Column: 2},
	}))

	msg := recvEvent(t, watcher)
	assert.Equal(t, CursorMovedTopic("d1"), msg.Data.Topic)

	var event models.CursorEvent
	assert.NoError(t, json.Unmarshal(msg.Data.Payload, &event))
	assert.Equal(t, "u1", event.UserId)
	assert.Equal(t, "alice", event.DisplayName)

	// Cursor events never echo, and a successful cursor publish gets no reply
	assert.Empty(t, mover.Send)
}

func TestHandlerCallUnknownProcedure(t *testing.T) {
	h, mockStore := setupHandler(t)

	client := joinClient(t, h, mockStore, models.User{Id: "u1", Username: "alice"})

	h.HandleWsMessage(client, 1, wsMsg(t, "call", callMessage{Procedure: "no.such.proc"}))

	r := recvReply(t, client)
	assert.Equal(t, "call_response", r.Type)
	assert.Equal(t, false, r.Data["success"])
	assert.Equal(t, "unknown procedure", r.Data["error"])
}
