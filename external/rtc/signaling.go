package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

const (
	msgJoin        = "join"
	msgJoined      = "joined"
	msgPublish     = "publish"
	msgSubscribe   = "subscribe"
	msgAnswer      = "answer"
	msgLeave       = "leave"
	msgError       = "error"
	msgPublished   = "user-published"
	msgUnpublished = "user-unpublished"
	msgUserLeft    = "user-left"

	signalingEventBuffer = 32
)

var errSignalingClosed = errors.New("signaling channel closed")

// envelope is the single frame shape on the signaling socket. Requests and
// their replies share an id; server events carry none.
type envelope struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type joinRequest struct {
	AppID   string `json:"appId"`
	Channel string `json:"channel"`
	Token   string `json:"token"`
}

type joinedReply struct {
	UID string `json:"uid"`
}

type publishRequest struct {
	SDP string `json:"sdp"`
}

type subscribeRequest struct {
	UID  string `json:"uid"`
	Kind string `json:"kind"`
	SDP  string `json:"sdp"`
}

type answerReply struct {
	SDP string `json:"sdp"`
}

type userEvent struct {
	UID  string `json:"uid"`
	Kind string `json:"kind,omitempty"`
}

// SignalingError is a request the signaling server refused.
type SignalingError struct {
	Type    string
	Message string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s rejected: %s", e.Type, e.Message)
}

type signalingClient struct {
	conn   *websocket.Conn
	nextID atomic.Uint64
	events chan envelope
	done   chan struct{}
	// closing releases a readLoop waiting on a full events buffer.
	closing   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan envelope
	err     error
}

func dialSignaling(ctx context.Context, url string) (*signalingClient, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	c := &signalingClient{
		conn:    conn,
		events:  make(chan envelope, signalingEventBuffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		pending: make(map[string]chan envelope),
	}
	go c.readLoop()
	return c, nil
}

// request sends one message and waits for the reply carrying the same id.
func (c *signalingClient) request(ctx context.Context, typ string, payload any, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan envelope, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(envelope{ID: id, Type: typ, Data: data})
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}

	select {
	case res := <-ch:
		if res.Type == msgError {
			return &SignalingError{Type: typ, Message: res.Error}
		}
		if reply == nil {
			return nil
		}
		if err := json.Unmarshal(res.Data, reply); err != nil {
			return fmt.Errorf("decode %s reply: %w", typ, err)
		}
		return nil
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify sends a message without waiting for a reply.
func (c *signalingClient) notify(ctx context.Context, typ string) error {
	frame, err := json.Marshal(envelope{Type: typ})
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *signalingClient) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("dropping malformed signaling frame", "error", err)
			continue
		}
		if msg.ID == "" {
			select {
			case c.events <- msg:
			case <-c.closing:
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			slog.Debug("signaling reply without pending request", "id", msg.ID, "type", msg.Type)
			continue
		}
		ch <- msg
	}
}

func (c *signalingClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		c.err = errSignalingClosed
	} else {
		c.err = fmt.Errorf("%w: %v", errSignalingClosed, err)
	}
	close(c.done)
}

func (c *signalingClient) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *signalingClient) close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	err := c.conn.Close(websocket.StatusNormalClosure, "leave")
	<-c.done
	return err
}
