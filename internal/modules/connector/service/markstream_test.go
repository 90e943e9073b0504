package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestMarkStreamShutsDownPromptlyOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		// молча читаем subscribe/ping: соединение рвёт клиент по ctx,
		// не сервер
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewMarkStream()
	m.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	ch := m.Stream(ctx, []string{"BTCUSDT"})

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not shut down after context cancellation")
	}
}
