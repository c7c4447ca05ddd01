package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"debatekit/core"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantErr   bool
		wantCalls int32
	}{
		{name: "upgrade", status: 0, wantCalls: 1},
		{name: "unauthorized is not retried", status: http.StatusUnauthorized, wantErr: true, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantErr: true, wantCalls: maxRetries},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if tc.status != 0 {
				w.WriteHeader(tc.status)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.ReadMessage()
			conn.Close()
		}))

		conn, err := Dial(context.Background(), wsURL(srv), nil, core.NewNopLogger())
		if tc.wantErr {
			assert.Error(t, err, tc.name)
		} else {
			require.NoError(t, err, tc.name)
			conn.Close()
		}
		assert.EqualValues(t, tc.wantCalls, calls.Load(), tc.name)
		srv.Close()
	}
}

func TestDial_closesOnContextDone(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	conn, err := Dial(ctx, wsURL(srv), nil, core.NewNopLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read not unblocked by cancel")
	}
}

func TestReadDeadline(t *testing.T) {
	deadline := time.Now().Add(time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	assert.EqualValues(t, deadline, ReadDeadline(ctx))

	fallback := ReadDeadline(context.Background())
	assert.WithinDuration(t, time.Now().Add(DefaultReadTimeout), fallback, time.Second)
}
