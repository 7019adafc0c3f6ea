// Package push carries fingerprint change notifications from a verdrift
// server to headless monitors over a websocket.
package push

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/verdrift/internal/errors"
	"github.com/conneroisu/verdrift/internal/logging"
)

// EventFingerprint is sent whenever the served bundle fingerprint changes
// and once to every new subscriber.
const EventFingerprint = "fingerprint"

// Event is the message written to subscribers.
type Event struct {
	Type        string    `json:"type"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Version     string    `json:"version,omitempty"`
	At          time.Time `json:"at"`
}

const (
	defaultBackoff    = time.Second
	defaultMaxBackoff = 30 * time.Second
	readLimit         = 4096
)

// Client subscribes to an events endpoint and hands each event to OnEvent.
type Client struct {
	URL        string
	OnEvent    func(ctx context.Context, ev Event)
	Logger     logging.Logger
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Run keeps a subscription open until ctx is done, reconnecting with
// exponential backoff. It only returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("push")

	backoff := c.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	wait := backoff
	for {
		received, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			wait = backoff
		}
		logger.Warn(ctx, err, "Event stream disconnected", "url", c.URL, "retry_in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// session reads events from one connection. It reports whether any event
// arrived so Run can reset its backoff.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, c.URL, nil)
	if err != nil {
		return false, errors.ErrFetchFailed(c.URL, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	received := false
	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return received, err
		}
		received = true
		if c.OnEvent != nil {
			c.OnEvent(ctx, ev)
		}
	}
}
