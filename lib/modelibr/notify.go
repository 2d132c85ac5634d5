package modelibr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// hub protocol constants, JSON flavour of the SignalR hub protocol
const (
	recordSeparator = 0x1e

	// hub message types
	MessageInvocation = 1
	MessagePing       = 6
	MessageClose      = 7

	// TargetThumbnailStatusChanged is the hub method the server invokes on status transitions.
	TargetThumbnailStatusChanged = "ThumbnailStatusChanged"

	handshakeTimeout = 10 * time.Second
)

// ThumbnailEvent is a thumbnail status transition pushed by the server.
type ThumbnailEvent struct {
	ModelVersionID int             `json:"modelVersionId"`
	Status         ThumbnailStatus `json:"status"`
	ThumbnailURL   string          `json:"thumbnailUrl,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HubMessage is a single hub protocol frame.
type HubMessage struct {
	Type      int               `json:"type"`
	Target    string            `json:"target,omitempty"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Subscription manages a hub connection for thumbnail status events.
type Subscription struct {
	events chan ThumbnailEvent
	errors chan error
	cancel context.CancelFunc
}

// Events returns the channel for receiving events.
func (s *Subscription) Events() <-chan ThumbnailEvent {
	return s.events
}

// Errors returns the channel for receiving connection errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close terminates the subscription and releases resources.
func (s *Subscription) Close() {
	s.cancel()
}

// HubURL returns the websocket URL of the thumbnail hub.
func (c *Client) HubURL() string {
	u := c.baseURL + c.hubPath
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// SubscribeThumbnails connects to the thumbnail hub and streams status changes.
// The subscription remains active until context is canceled or Close is called.
func (c *Client) SubscribeThumbnails(ctx context.Context) (*Subscription, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.HubURL(), header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
			if rerr := c.checkResponse(resp); rerr != nil {
				return nil, fmt.Errorf("dial hub: %w", rerr)
			}
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	pending, err := handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// create cancellable context so Close() can terminate the connection
	ctx, cancel := context.WithCancel(ctx)

	sub := &Subscription{
		events: make(chan ThumbnailEvent, 16), // buffered to prevent blocking on slow consumers
		errors: make(chan error, 1),           // single buffer for connection errors
		cancel: cancel,
	}

	// closing the connection unblocks ReadMessage in the read loop
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(sub.events)
		defer close(sub.errors)
		defer cancel()

		frames := pending
		for {
			for _, frame := range frames {
				if stop := sub.dispatch(ctx, frame); stop {
					return
				}
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				// only send error if not canceled (normal Close)
				if ctx.Err() == nil {
					sub.sendErr(fmt.Errorf("read hub: %w", err))
				}
				return
			}
			frames = splitFrames(data)
		}
	}()

	return sub, nil
}

// dispatch handles one frame, returns true when the connection must stop.
func (s *Subscription) dispatch(ctx context.Context, frame []byte) bool {
	var msg HubMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.sendErr(fmt.Errorf("parse hub message: %w", err))
		return false
	}

	switch msg.Type {
	case MessagePing:
		return false
	case MessageClose:
		if msg.Error != "" {
			s.sendErr(fmt.Errorf("hub closed: %s", msg.Error))
		}
		return true
	case MessageInvocation:
		if msg.Target != TargetThumbnailStatusChanged {
			return false
		}
		ev, err := decodeThumbnailEvent(msg.Arguments)
		if err != nil {
			s.sendErr(err)
			return false
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return true
		}
	}
	return false
}

func (s *Subscription) sendErr(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

// handshake negotiates the JSON protocol and returns frames that arrived along with the reply.
func handshake(conn *websocket.Conn) ([][]byte, error) {
	req, err := json.Marshal(struct {
		Protocol string `json:"protocol"`
		Version  int    `json:"version"`
	}{Protocol: "json", Version: 1})
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, append(req, recordSeparator)); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, errors.New("empty handshake response")
	}
	var reply struct {
		Error string `json:"error"`
	}
	if err = json.Unmarshal(frames[0], &reply); err != nil {
		return nil, fmt.Errorf("parse handshake: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("handshake rejected: %s", reply.Error)
	}
	return frames[1:], nil
}

// decodeThumbnailEvent accepts either a single object argument or
// positional (modelVersionId, status[, thumbnailUrl]) arguments.
func decodeThumbnailEvent(args []json.RawMessage) (ThumbnailEvent, error) {
	if len(args) == 0 {
		return ThumbnailEvent{}, errors.New("thumbnail event without arguments")
	}

	var ev ThumbnailEvent
	if bytes.HasPrefix(bytes.TrimSpace(args[0]), []byte("{")) {
		if err := json.Unmarshal(args[0], &ev); err != nil {
			return ThumbnailEvent{}, fmt.Errorf("parse thumbnail event: %w", err)
		}
		return ev, nil
	}

	if len(args) < 2 {
		return ThumbnailEvent{}, fmt.Errorf("thumbnail event needs version and status, got %d arguments", len(args))
	}
	if err := json.Unmarshal(args[0], &ev.ModelVersionID); err != nil {
		return ThumbnailEvent{}, fmt.Errorf("parse thumbnail event version: %w", err)
	}
	if err := json.Unmarshal(args[1], &ev.Status); err != nil {
		return ThumbnailEvent{}, fmt.Errorf("parse thumbnail event status: %w", err)
	}
	if len(args) > 2 {
		_ = json.Unmarshal(args[2], &ev.ThumbnailURL)
	}
	ev.Timestamp = time.Now().UTC()
	return ev, nil
}

// splitFrames cuts a websocket payload into record-separated frames.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		frames = append(frames, part)
	}
	return frames
}

// EncodeHubMessage encodes a frame with the trailing record separator.
func EncodeHubMessage(msg HubMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode hub message: %w", err)
	}
	return append(data, recordSeparator), nil
}
