package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/auth"
	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

const testSecret = "session-test-secret"

func newSessionServer(t *testing.T, messages *mocks.MessageRepositoryMock, memberships *mocks.MembershipRepositoryMock) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	session := NewSessionHandler(hub, auth.NewVerifier(testSecret), messages, memberships)

	router := gin.New()
	router.GET("/ws", session.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func sessionToken(t *testing.T, userID int, username string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       float64(userID),
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func dialSession(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ClientEvent{Event: event, Data: payload}))
}

type serverFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame serverFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func readErrorFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, EventError, frame.Event)
	var data ErrorEvent
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	return data.Error
}

// expectNoFrame poisons the connection on timeout; only call it as the
// final read on a connection.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame serverFrame
	require.Error(t, conn.ReadJSON(&frame), "expected no frame, got %+v", frame)
}

func waitForRoomSize(t *testing.T, hub *Hub, roomID string, size int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.rooms[roomID])
		hub.mu.RUnlock()
		if n == size {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %s never reached %d subscribers", roomID, size)
}

func intPtr(v int) *int { return &v }

func TestHandshakeRejectsBadToken(t *testing.T) {
	srv, _ := newSessionServer(t, &mocks.MessageRepositoryMock{}, &mocks.MembershipRepositoryMock{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	srv, _ := newSessionServer(t, &mocks.MessageRepositoryMock{}, &mocks.MembershipRepositoryMock{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAutoJoinDeliversGroupMessagesWithoutExplicitJoin(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return([]int{7}, nil)
	memberships.On("ListGroupIDsForUser", mock.Anything, 2).Return([]int{7}, nil)

	sent := models.Message{ID: 11, SenderID: 1, GroupID: intPtr(7), Content: "morning", CreatedAt: time.Now(), SenderUsername: "alice"}
	messages.On("Save", mock.Anything, 1, mock.Anything, mock.Anything, "morning").Return(sent, nil).Once()

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))
	bob := dialSession(t, srv, sessionToken(t, 2, "bob"))
	waitForRoomSize(t, hub, GroupRoom(7), 2)

	sendFrame(t, alice, EventSendGroupMessage, SendGroupMessagePayload{GroupID: 7, Content: "morning"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, EventGroupMessage, frame.Event)
		var event MessageEvent
		require.NoError(t, json.Unmarshal(frame.Data, &event))
		assert.Equal(t, 11, event.ID)
		assert.Equal(t, "morning", event.Content)
		require.NotNil(t, event.GroupID)
		assert.Equal(t, 7, *event.GroupID)
	}

	messages.AssertExpectations(t)
}

func TestDirectMessageFanOutEchoesTempID(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, mock.Anything).Return([]int{}, nil)
	memberships.On("UserExists", mock.Anything, 1).Return(true, nil)
	memberships.On("UserExists", mock.Anything, 2).Return(true, nil)

	sent := models.Message{ID: 10, SenderID: 1, RecipientID: intPtr(2), Content: "Hello!", CreatedAt: time.Now(), SenderUsername: "alice"}
	messages.On("Save", mock.Anything, 1, mock.Anything, mock.Anything, "Hello!").Return(sent, nil).Once()

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))
	bob := dialSession(t, srv, sessionToken(t, 2, "bob"))

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{OtherUserID: 2})
	sendFrame(t, bob, EventJoinDM, JoinDMPayload{OtherUserID: 1})
	waitForRoomSize(t, hub, DirectRoom(1, 2), 2)

	sendFrame(t, alice, EventSendDM, SendDMPayload{To: 2, Content: "Hello!", TempID: "abc"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, EventDMMessage, frame.Event)
		var event MessageEvent
		require.NoError(t, json.Unmarshal(frame.Data, &event))
		assert.Equal(t, "Hello!", event.Content)
		assert.Equal(t, 1, event.SenderID)
		assert.Equal(t, "abc", event.TempID)
	}

	messages.AssertExpectations(t)
}

func TestJoinDMRejectsSelfAndUnknownPeer(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, _ := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return([]int{}, nil)
	memberships.On("UserExists", mock.Anything, 99).Return(false, nil)

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{OtherUserID: 1})
	assert.Equal(t, "Invalid or same user ID", readErrorFrame(t, alice))

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{})
	assert.Equal(t, "Invalid or same user ID", readErrorFrame(t, alice))

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{OtherUserID: 99})
	assert.Equal(t, "Recipient does not exist", readErrorFrame(t, alice))
}

func TestJoinGroupSubscribesMembersOnly(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, mock.Anything).Return([]int{}, nil)
	memberships.On("IsGroupMember", mock.Anything, 9, 1).Return(true, nil)
	memberships.On("IsGroupMember", mock.Anything, 9, 2).Return(false, nil)

	member := dialSession(t, srv, sessionToken(t, 1, "alice"))
	outsider := dialSession(t, srv, sessionToken(t, 2, "bob"))

	sendFrame(t, member, EventJoinGroup, JoinGroupPayload{GroupID: 9})
	waitForRoomSize(t, hub, GroupRoom(9), 1)

	sendFrame(t, outsider, EventJoinGroup, JoinGroupPayload{})
	assert.Equal(t, "Group ID required", readErrorFrame(t, outsider))

	sendFrame(t, outsider, EventJoinGroup, JoinGroupPayload{GroupID: 9})
	assert.Equal(t, "Group does not exist or you are not a member", readErrorFrame(t, outsider))

	// the rejected join left no subscription behind
	hub.mu.RLock()
	assert.Len(t, hub.rooms[GroupRoom(9)], 1)
	hub.mu.RUnlock()

	sent := models.Message{ID: 21, SenderID: 1, GroupID: intPtr(9), Content: "anyone here", SenderUsername: "alice"}
	messages.On("Save", mock.Anything, 1, mock.Anything, mock.Anything, "anyone here").Return(sent, nil).Once()

	sendFrame(t, member, EventSendGroupMessage, SendGroupMessagePayload{GroupID: 9, Content: "anyone here"})

	frame := readFrame(t, member)
	require.Equal(t, EventGroupMessage, frame.Event)
	var event MessageEvent
	require.NoError(t, json.Unmarshal(frame.Data, &event))
	assert.Equal(t, 21, event.ID)
	assert.Equal(t, "anyone here", event.Content)

	messages.AssertExpectations(t)
	expectNoFrame(t, outsider)
}

func TestGroupSendByNonMemberFailsOnlyForSender(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return([]int{7}, nil)
	memberships.On("ListGroupIDsForUser", mock.Anything, 3).Return([]int{}, nil)
	messages.On("Save", mock.Anything, 3, mock.Anything, mock.Anything, "hi").
		Return(models.Message{}, repositories.ErrNotGroupMember).Once()

	member := dialSession(t, srv, sessionToken(t, 1, "alice"))
	outsider := dialSession(t, srv, sessionToken(t, 3, "mallory"))
	waitForRoomSize(t, hub, GroupRoom(7), 1)

	sendFrame(t, outsider, EventSendGroupMessage, SendGroupMessagePayload{GroupID: 7, Content: "hi"})

	assert.Equal(t, repositories.ErrNotGroupMember.Error(), readErrorFrame(t, outsider))
	expectNoFrame(t, member)

	messages.AssertExpectations(t)
}

func TestDeleteMessageBroadcastsAndRepeatDeleteFails(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, mock.Anything).Return([]int{}, nil)
	memberships.On("UserExists", mock.Anything, mock.Anything).Return(true, nil)

	deleted := models.Message{ID: 10, SenderID: 1, RecipientID: intPtr(2), Content: "bye"}
	messages.On("Delete", mock.Anything, 10, 1).Return(deleted, nil).Once()
	messages.On("Delete", mock.Anything, 10, 1).Return(models.Message{}, repositories.ErrMessageNotFound).Once()

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))
	bob := dialSession(t, srv, sessionToken(t, 2, "bob"))

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{OtherUserID: 2})
	sendFrame(t, bob, EventJoinDM, JoinDMPayload{OtherUserID: 1})
	waitForRoomSize(t, hub, DirectRoom(1, 2), 2)

	sendFrame(t, alice, EventDeleteMessage, DeleteMessagePayload{MessageID: 10})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		require.Equal(t, EventMessageDeleted, frame.Event)
		var event DeletedEvent
		require.NoError(t, json.Unmarshal(frame.Data, &event))
		assert.Equal(t, 10, event.MessageID)
	}

	sendFrame(t, alice, EventDeleteMessage, DeleteMessagePayload{MessageID: 10})
	assert.Equal(t, "Message not found or you are not the sender", readErrorFrame(t, alice))

	messages.AssertExpectations(t)
}

func TestConnectionSurvivesGroupLookupFailure(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return(([]int)(nil), assert.AnError)
	memberships.On("UserExists", mock.Anything, 2).Return(true, nil)

	sent := models.Message{ID: 12, SenderID: 1, RecipientID: intPtr(2), Content: "still here"}
	messages.On("Save", mock.Anything, 1, mock.Anything, mock.Anything, "still here").Return(sent, nil).Once()

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))
	waitForRoomSize(t, hub, PersonalRoom(1), 1)

	sendFrame(t, alice, EventJoinDM, JoinDMPayload{OtherUserID: 2})
	sendFrame(t, alice, EventSendDM, SendDMPayload{To: 2, Content: "still here"})

	frame := readFrame(t, alice)
	assert.Equal(t, EventDMMessage, frame.Event)

	messages.AssertExpectations(t)
}

func TestDisconnectDropsAllSubscriptions(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, hub := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return([]int{7}, nil)

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))
	waitForRoomSize(t, hub, GroupRoom(7), 1)
	waitForRoomSize(t, hub, PersonalRoom(1), 1)

	alice.Close()

	waitForRoomSize(t, hub, GroupRoom(7), 0)
	waitForRoomSize(t, hub, PersonalRoom(1), 0)
}

func TestMalformedFrameGetsErrorEvent(t *testing.T) {
	messages := new(mocks.MessageRepositoryMock)
	memberships := new(mocks.MembershipRepositoryMock)
	srv, _ := newSessionServer(t, messages, memberships)

	memberships.On("ListGroupIDsForUser", mock.Anything, 1).Return([]int{}, nil)

	alice := dialSession(t, srv, sessionToken(t, 1, "alice"))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "invalid event format", readErrorFrame(t, alice))

	sendFrame(t, alice, "presence", struct{}{})
	assert.Equal(t, "unknown event", readErrorFrame(t, alice))
}
