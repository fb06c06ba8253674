package wssocket_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hlindberg/mezquit/internal/testutils"
	"github.com/hlindberg/mezquit/streamio"
	"github.com/hlindberg/mezquit/transport/wssocket"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		go func() {
			defer conn.Close()
			for {
				msgType, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(msgType, data); err != nil {
					return
				}
			}
		}()
	}))
}

func Test_Socket_WriteThenRead_RoundTrips(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")

	sock := wssocket.New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sock.Connect(ctx, addr)
	testutils.CheckNotError(err, t)
	defer sock.Close()

	n, err := sock.Write([]byte("hello"))
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(5, n, t)

	deadline := time.Now().Add(2 * time.Second)
	var got []byte
	for time.Now().Before(deadline) {
		chunk, err := sock.Read(16)
		if err == nil && len(chunk) > 0 {
			got = chunk
			break
		}
	}
	testutils.CheckEqual("hello", string(got), t)
}

func Test_Socket_Read_WouldBlock_WhenNothingSent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	addr := "ws" + strings.TrimPrefix(srv.URL, "http")

	sock := wssocket.New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sock.Connect(ctx, addr)
	testutils.CheckNotError(err, t)
	defer sock.Close()

	_, err = sock.Read(16)
	testutils.CheckEqual(true, errors.Is(err, streamio.ErrWouldBlock), t)
}
