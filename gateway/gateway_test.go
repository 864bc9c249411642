package gateway_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botarena/gateway"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// テスト用サーバー: 受け付けた接続を conns に流す
func newTestServer(t *testing.T) (*httptest.Server, <-chan *gateway.WSConn) {
	t.Helper()
	gw := gateway.New(nil, zap.NewNop())
	conns := make(chan *gateway.WSConn, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := gw.Accept(w, r)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)
	return server, conns
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func accepted(t *testing.T, conns <-chan *gateway.WSConn) *gateway.WSConn {
	t.Helper()
	select {
	case conn := <-conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not accepted")
		return nil
	}
}

func TestWSConn_PreservesMessageOrder(t *testing.T) {
	server, conns := newTestServer(t)
	client := dial(t, server)
	conn := accepted(t, conns)
	assert.NotEmpty(t, conn.ID())

	for i := 0; i < 20; i++ {
		require.NoError(t, client.WriteJSON(map[string]int{"n": i}))
	}

	for i := 0; i < 20; i++ {
		select {
		case msg := <-conn.Incoming():
			var body map[string]int
			require.NoError(t, json.Unmarshal(msg.Payload, &body))
			assert.Equal(t, i, body["n"])
			assert.False(t, msg.ReceivedAt.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not received", i)
		}
	}
}

// JSONでないフレームも順序どおりに届き、Malformed で区別できる
func TestWSConn_ForwardsMalformedFrames(t *testing.T) {
	server, conns := newTestServer(t)
	client := dial(t, server)
	conn := accepted(t, conns)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, client.WriteJSON(map[string]string{"ok": "yes"}))

	for _, want := range []struct {
		payload   string
		malformed bool
	}{
		{"{not json", true},
		{`{"ok":"yes"}`, false},
	} {
		select {
		case msg := <-conn.Incoming():
			assert.Equal(t, want.malformed, msg.Malformed)
			assert.Equal(t, want.payload, strings.TrimSpace(string(msg.Payload)))
			assert.False(t, msg.ReceivedAt.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatalf("%q not received", want.payload)
		}
	}
	select {
	case <-conn.Closed():
		t.Fatal("connection closed on a malformed frame")
	default:
	}
}

// LocalConn も WSConn と同じように JSONでない入力を印付きで渡す
func TestLocalConn_FlagsMalformedLikeWSConn(t *testing.T) {
	conn := gateway.NewLocalConn("local")
	conn.DeliverRaw([]byte("{not json"))
	require.NoError(t, conn.Deliver(map[string]string{"ok": "yes"}))

	first := <-conn.Incoming()
	assert.True(t, first.Malformed)
	assert.Equal(t, "{not json", string(first.Payload))
	second := <-conn.Incoming()
	assert.False(t, second.Malformed)
}

func TestWSConn_SendAndCloseFlushes(t *testing.T) {
	server, conns := newTestServer(t)
	client := dial(t, server)
	conn := accepted(t, conns)

	require.NoError(t, conn.Send(map[string]string{"salt": "abc"}))
	require.NoError(t, conn.Send(map[string]string{"authentication": "failed"}))
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // 冪等

	var first, second map[string]string
	require.NoError(t, client.ReadJSON(&first))
	require.NoError(t, client.ReadJSON(&second))
	assert.Equal(t, "abc", first["salt"])
	assert.Equal(t, "failed", second["authentication"])

	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed was not signalled")
	}
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send("late"), gateway.ErrClosed)
}

func TestWSConn_ClientCloseSignalsClosed(t *testing.T) {
	server, conns := newTestServer(t)
	client := dial(t, server)
	conn := accepted(t, conns)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed was not signalled")
	}
	assert.NoError(t, conn.Err())
}

func TestWSConn_AbruptDisconnectIsAnError(t *testing.T) {
	server, conns := newTestServer(t)
	client := dial(t, server)
	conn := accepted(t, conns)

	client.UnderlyingConn().Close()

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("Closed was not signalled")
	}
	assert.Error(t, conn.Err())
}

func TestLocalConn(t *testing.T) {
	conn := gateway.NewLocalConn("local-1")
	require.NoError(t, conn.Deliver(map[string]string{"a": "b"}))

	select {
	case msg := <-conn.Incoming():
		assert.JSONEq(t, `{"a":"b"}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, conn.Send(map[string]int{"x": 1}))
	assert.JSONEq(t, `{"x":1}`, string(<-conn.Sent()))

	conn.Hangup(nil)
	conn.Hangup(assert.AnError)
	assert.True(t, conn.IsClosed())
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send("late"), gateway.ErrClosed)
}
