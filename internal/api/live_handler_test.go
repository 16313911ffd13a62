package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"filecollection/internal/publication"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialLive(t *testing.T, env *testEnv, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if user != "" {
		header.Set("Authorization", "Bearer "+user)
	}
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/websocket"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readLive(t *testing.T, conn *websocket.Conn) publication.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg publication.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLiveHandler_SubscriptionFollowsOwnership(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, 201, env.insert(t, "u1", "a", "a.txt").StatusCode)
	require.Equal(t, 201, env.insert(t, "u2", "b", "b.txt").StatusCode)

	conn := dialLive(t, env, "u1")
	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgSub, ID: "s1", Name: "myData", Params: []string{"u1"}}))

	msg := readLive(t, conn)
	assert.Equal(t, publication.MsgAdded, msg.Msg)
	assert.Equal(t, "a", msg.ID)
	assert.Equal(t, "myData", msg.Collection)

	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgReady, msg.Msg)
	assert.Equal(t, []string{"s1"}, msg.Subs)

	// 新插入的记录实时推送
	require.Equal(t, 201, env.insert(t, "u1", "c", "c.txt").StatusCode)
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgAdded, msg.Msg)
	assert.Equal(t, "c", msg.ID)

	// 他人的记录不推送
	require.Equal(t, 201, env.insert(t, "u2", "d", "d.txt").StatusCode)

	resp := env.do(t, http.MethodDelete, "/gridfs/myData/c", "u1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgRemoved, msg.Msg)
	assert.Equal(t, "c", msg.ID)
}

func TestLiveHandler_LoginSwitchClearsStaleSubscription(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, 201, env.insert(t, "u1", "a", "a.txt").StatusCode)
	require.Equal(t, 201, env.insert(t, "u2", "b", "b.txt").StatusCode)

	conn := dialLive(t, env, "u1")
	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgSub, ID: "s1", Name: "myData", Params: []string{"u1"}}))
	assert.Equal(t, publication.MsgAdded, readLive(t, conn).Msg)
	assert.Equal(t, publication.MsgReady, readLive(t, conn).Msg)

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgLogin, ID: "m1", Token: "u2"}))
	msg := readLive(t, conn)
	assert.Equal(t, publication.MsgRemoved, msg.Msg)
	assert.Equal(t, "a", msg.ID)

	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgResult, msg.Msg)
	require.NotNil(t, msg.UserID)
	assert.Equal(t, "u2", *msg.UserID)

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgSub, ID: "s1", Name: "myData", Params: []string{"u2"}}))
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgAdded, msg.Msg)
	assert.Equal(t, "b", msg.ID)
	assert.Equal(t, publication.MsgReady, readLive(t, conn).Msg)

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgLogout, ID: "m2"}))
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgRemoved, msg.Msg)
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgResult, msg.Msg)
	assert.Nil(t, msg.UserID)
}

func TestLiveHandler_ControlMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := dialLive(t, env, "")

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgPing, ID: "p1"}))
	msg := readLive(t, conn)
	assert.Equal(t, publication.MsgPong, msg.Msg)
	assert.Equal(t, "p1", msg.ID)

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: "method", ID: "x"}))
	assert.Equal(t, publication.MsgError, readLive(t, conn).Msg)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, publication.MsgError, readLive(t, conn).Msg)

	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgSub, ID: "s1", Name: "elsewhere"}))
	msg = readLive(t, conn)
	assert.Equal(t, publication.MsgNoSub, msg.Msg)
	assert.Equal(t, "s1", msg.ID)

	// 匿名订阅得到空结果
	require.NoError(t, conn.WriteJSON(publication.Message{Msg: publication.MsgSub, ID: "s2", Name: "myData", Params: []string{""}}))
	assert.Equal(t, publication.MsgReady, readLive(t, conn).Msg)
}
