package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventServer sends one fingerprint event per connection and then closes,
// so every event after the first requires a reconnect.
func eventServer(t *testing.T, conns *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		n := conns.Add(1)
		ev := Event{Type: EventFingerprint, Fingerprint: "fp" + string(rune('0'+n)), At: time.Now()}
		if err := wsjson.Write(r.Context(), conn, ev); err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientReceivesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := eventServer(t, &conns)
	defer srv.Close()

	var mu sync.Mutex
	var got []string

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		URL:     wsURL(srv),
		Backoff: 5 * time.Millisecond,
		OnEvent: func(_ context.Context, ev Event) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, EventFingerprint, ev.Type)
			got = append(got, ev.Fingerprint)
		},
	}

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "fp1", got[0])
	assert.Equal(t, "fp2", got[1])
}

func TestClientRetriesUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client := &Client{URL: url, Backoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}
	err := client.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionWrapsDialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := &Client{URL: wsURL(srv)}
	received, err := client.session(context.Background())
	assert.False(t, received)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_FAILED")
}
