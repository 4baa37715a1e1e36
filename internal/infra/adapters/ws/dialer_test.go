package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/LiveClass/internal/domain"
	"github.com/qrave1/LiveClass/internal/domain/events"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoServer отвечает на каждое сообщение им же и шлёт мусорный кадр перед первым ответом
func echoServer(t *testing.T, pings *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(data string) error {
			pings.Add(1)
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if err = conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
				return
			}

			if err = conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
}

func TestDialer_SendReceive(t *testing.T) {
	var pings atomic.Int32

	srv := echoServer(t, &pings)
	defer srv.Close()

	conn, err := NewDialer(20*time.Millisecond).Dial(context.Background(), wsURL(srv), "good")
	require.NoError(t, err)
	defer conn.Close()

	msg, err := events.Encode(events.TypeJoinRoom, events.RoomEvent{SessionID: "abc123"})
	require.NoError(t, err)
	require.NoError(t, conn.Send(context.Background(), msg))

	got, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, events.TypeJoinRoom, got.Type)

	var room events.RoomEvent
	require.NoError(t, json.Unmarshal(got.Data, &room))
	assert.Equal(t, "abc123", room.SessionID)

	assert.Eventually(t, func() bool { return pings.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDialer_Unauthorized(t *testing.T) {
	var pings atomic.Int32

	srv := echoServer(t, &pings)
	defer srv.Close()

	_, err := NewDialer(0).Dial(context.Background(), wsURL(srv), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestDialer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := NewDialer(0).Dial(context.Background(), url, "good")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAuthExpired)
}

func TestSignalingConn_CloseUnblocksReceive(t *testing.T) {
	var pings atomic.Int32

	srv := echoServer(t, &pings)
	defer srv.Close()

	conn, err := NewDialer(0).Dial(context.Background(), wsURL(srv), "good")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		errCh <- err
	}()

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive not unblocked by close")
	}

	assert.Error(t, conn.Send(context.Background(), events.Message{Type: events.TypeLeaveRoom}))
}
