package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve upgrades one request and hands the server side to fn.
func serve(t *testing.T, fn func(*Connection)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection(uuid.New(), ws)
		conn.Start()
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSendJSONDelivers(t *testing.T) {
	client := serve(t, func(c *Connection) {
		_ = c.SendJSON(map[string]string{"type": "hello"})
		_ = c.SendJSON(map[string]string{"type": "world"})
	})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first, second map[string]string
	require.NoError(t, client.ReadJSON(&first))
	require.NoError(t, client.ReadJSON(&second))
	assert.Equal(t, "hello", first["type"])
	assert.Equal(t, "world", second["type"])
}

func TestCloseSendsCloseFrame(t *testing.T) {
	after := make(chan error, 1)
	client := serve(t, func(c *Connection) {
		c.Close(websocket.ClosePolicyViolation, "session expired")
		c.Close(websocket.CloseNormalClosure, "again")
		c.Wait()
		<-c.Closed()
		after <- c.Send([]byte("late"))
	})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	select {
	case err := <-after:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server side did not finish")
	}
}

func TestFullBufferDisconnects(t *testing.T) {
	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// No write loop, so nothing drains the buffer.
		c := NewConnection(uuid.New(), ws)
		for i := 0; i <= cap(c.send) && err == nil; i++ {
			err = c.Send([]byte("x"))
		}
		result <- err
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrBufferFull)
	case <-time.After(5 * time.Second):
		t.Fatal("server side did not finish")
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
