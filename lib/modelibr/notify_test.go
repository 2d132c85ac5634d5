package modelibr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubServer accepts the handshake and then writes the given frames.
func hubServer(t *testing.T, frames ...[]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/thumbnailHub", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Contains(t, string(data), `"protocol":"json"`)
		if err = conn.WriteMessage(websocket.TextMessage, []byte("{}\x1e")); err != nil {
			return
		}
		for _, f := range frames {
			if err = conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err = conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func invocation(t *testing.T, args ...any) []byte {
	t.Helper()
	msg := HubMessage{Type: MessageInvocation, Target: TargetThumbnailStatusChanged}
	for _, a := range args {
		raw, err := json.Marshal(a)
		require.NoError(t, err)
		msg.Arguments = append(msg.Arguments, raw)
	}
	data, err := EncodeHubMessage(msg)
	require.NoError(t, err)
	return data
}

func TestClient_SubscribeThumbnails(t *testing.T) {
	t.Run("receives object and positional events", func(t *testing.T) {
		ping, err := EncodeHubMessage(HubMessage{Type: MessagePing})
		require.NoError(t, err)
		obj := invocation(t, ThumbnailEvent{ModelVersionID: 4, Status: ThumbnailProcessing})
		pos := invocation(t, 4, "Ready", "/thumbs/4.webp")

		srv := hubServer(t, ping, append(obj, pos...))
		defer srv.Close()

		c, err := New(srv.URL, WithRetry(0, 0))
		require.NoError(t, err)

		sub, err := c.SubscribeThumbnails(context.Background())
		require.NoError(t, err)
		defer sub.Close()

		var got []ThumbnailEvent
		for len(got) < 2 {
			select {
			case ev := <-sub.Events():
				got = append(got, ev)
			case err := <-sub.Errors():
				t.Fatalf("unexpected error: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("timeout waiting for events")
			}
		}
		assert.Equal(t, 4, got[0].ModelVersionID)
		assert.Equal(t, ThumbnailProcessing, got[0].Status)
		assert.Equal(t, ThumbnailReady, got[1].Status)
		assert.Equal(t, "/thumbs/4.webp", got[1].ThumbnailURL)
	})

	t.Run("other targets are ignored", func(t *testing.T) {
		other, err := EncodeHubMessage(HubMessage{Type: MessageInvocation, Target: "SomethingElse",
			Arguments: []json.RawMessage{json.RawMessage(`1`)}})
		require.NoError(t, err)

		srv := hubServer(t, other, invocation(t, 9, 3))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)
		sub, err := c.SubscribeThumbnails(context.Background())
		require.NoError(t, err)
		defer sub.Close()

		select {
		case ev := <-sub.Events():
			assert.Equal(t, 9, ev.ModelVersionID)
			assert.Equal(t, ThumbnailFailed, ev.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("close frame with error ends subscription", func(t *testing.T) {
		closeMsg, err := EncodeHubMessage(HubMessage{Type: MessageClose, Error: "server shutting down"})
		require.NoError(t, err)

		srv := hubServer(t, closeMsg)
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)
		sub, err := c.SubscribeThumbnails(context.Background())
		require.NoError(t, err)
		defer sub.Close()

		select {
		case err := <-sub.Errors():
			require.Error(t, err)
			assert.Contains(t, err.Error(), "server shutting down")
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for close error")
		}

		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "events channel should be closed")
		case <-time.After(5 * time.Second):
			t.Fatal("events channel not closed")
		}
	})

	t.Run("close stops the subscription", func(t *testing.T) {
		srv := hubServer(t)
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)
		sub, err := c.SubscribeThumbnails(context.Background())
		require.NoError(t, err)

		sub.Close()
		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("events channel not closed after Close")
		}
	})

	t.Run("rejected upgrade maps to sentinel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)
		_, err = c.SubscribeThumbnails(context.Background())
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejected upgrade keeps backend body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("hub warming up"))
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		require.NoError(t, err)
		_, err = c.SubscribeThumbnails(context.Background())
		var respErr *ResponseError
		require.ErrorAs(t, err, &respErr)
		assert.Equal(t, http.StatusServiceUnavailable, respErr.StatusCode)
		assert.Equal(t, "hub warming up", respErr.Body)
	})
}

func TestDecodeThumbnailEvent(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    ThumbnailEvent
		wantErr string
	}{
		{name: "object", args: []string{`{"modelVersionId":3,"status":"Ready","thumbnailUrl":"/t/3"}`},
			want: ThumbnailEvent{ModelVersionID: 3, Status: ThumbnailReady, ThumbnailURL: "/t/3"}},
		{name: "object with numeric status", args: []string{`{"modelVersionId":3,"status":1}`},
			want: ThumbnailEvent{ModelVersionID: 3, Status: ThumbnailProcessing}},
		{name: "positional", args: []string{`3`, `"Failed"`}, want: ThumbnailEvent{ModelVersionID: 3, Status: ThumbnailFailed}},
		{name: "no arguments", wantErr: "without arguments"},
		{name: "missing status", args: []string{`3`}, wantErr: "needs version and status"},
		{name: "bad status", args: []string{`3`, `"Exploded"`}, wantErr: "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := make([]json.RawMessage, 0, len(tt.args))
			for _, a := range tt.args {
				args = append(args, json.RawMessage(a))
			}
			ev, err := decodeThumbnailEvent(args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ModelVersionID, ev.ModelVersionID)
			assert.Equal(t, tt.want.Status, ev.Status)
			assert.Equal(t, tt.want.ThumbnailURL, ev.ThumbnailURL)
		})
	}
}

func TestSplitFrames(t *testing.T) {
	assert.Nil(t, splitFrames([]byte("\x1e")))
	frames := splitFrames([]byte("{\"type\":6}\x1e{\"type\":1}\x1e"))
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":6}`, string(frames[0]))
}
