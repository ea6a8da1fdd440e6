package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

const writeWait = 10 * time.Second

var ErrTransportClosed = errors.New("signaling transport closed")

// Transport is the client end of the signaling channel.
type Transport interface {
	Signaler
	Receive(ctx context.Context) (domain.SignalMessage, error)
	Close() error
}

// WSTransport speaks the signaling protocol over a websocket. Reads run on
// their own goroutine; writes are serialized.
type WSTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	msgs    chan domain.SignalMessage
	done    chan struct{}
	closing chan struct{}
	err     error
	once    sync.Once
}

// DialSignaling connects to the signaling endpoint, authenticating with a
// bearer token.
func DialSignaling(ctx context.Context, url, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	t := &WSTransport{
		conn:    conn,
		msgs:    make(chan domain.SignalMessage, 32),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	defer close(t.done)
	for {
		var msg domain.SignalMessage
		if err := t.conn.ReadJSON(&msg); err != nil {
			t.err = err
			return
		}
		select {
		case t.msgs <- msg:
		case <-t.closing:
			return
		}
	}
}

func (t *WSTransport) Send(msg domain.SignalMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(msg)
}

func (t *WSTransport) Receive(ctx context.Context) (domain.SignalMessage, error) {
	select {
	case msg := <-t.msgs:
		return msg, nil
	case <-ctx.Done():
		return domain.SignalMessage{}, ctx.Err()
	case <-t.done:
		select {
		case msg := <-t.msgs:
			return msg, nil
		default:
		}
		if t.err != nil {
			return domain.SignalMessage{}, fmt.Errorf("%w: %v", ErrTransportClosed, t.err)
		}
		return domain.SignalMessage{}, ErrTransportClosed
	}
}

func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closing)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

// Call drives one participant through a meeting: join, negotiate when both
// sides are in, renegotiate after the other side drops, stop when the
// meeting ends.
type Call struct {
	meetingID string
	transport Transport
	manager   *Manager
	log       *slog.Logger

	mu     sync.Mutex
	connID string
	role   domain.Role
}

func NewCall(meetingID string, transport Transport, manager *Manager, log *slog.Logger) *Call {
	if log == nil {
		log = slog.Default()
	}
	return &Call{
		meetingID: meetingID,
		transport: transport,
		manager:   manager,
		log:       log.With(slog.String("meeting_id", meetingID)),
	}
}

func (c *Call) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Call) Role() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Run joins the meeting and processes signaling until the meeting ends, the
// server rejects the join, or ctx is done. Local media and the connection
// are released on return.
func (c *Call) Run(ctx context.Context) error {
	const op = "peer.call.Run"
	log := c.log.With(slog.String("op", op))

	defer c.manager.Cleanup()

	c.manager.AcquireLocalMedia(ctx)

	if err := c.transport.Send(domain.SignalMessage{Type: domain.SignalJoinRoom, MeetingID: c.meetingID}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		done, err := c.handle(ctx, msg)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if done {
			log.Info("meeting ended")
			return nil
		}
	}
}

func (c *Call) handle(ctx context.Context, msg domain.SignalMessage) (bool, error) {
	const op = "peer.call.handle"

	switch msg.Type {
	case domain.SignalJoined:
		c.mu.Lock()
		c.connID = msg.ConnID
		c.role = msg.Role
		c.mu.Unlock()
		c.log.Info("joined meeting", slog.String("conn_id", msg.ConnID), slog.String("role", string(msg.Role)))

	case domain.SignalBothReady:
		if c.Role() != domain.RoleHost {
			return false, nil
		}
		if err := c.manager.CreateOffer(ctx); err != nil {
			c.log.Error("failed to start negotiation", sl.Err(err))
		}

	case domain.SignalOffer:
		if msg.SDP == nil {
			return false, nil
		}
		if err := c.manager.HandleOffer(ctx, *msg.SDP); err != nil {
			c.log.Error("failed to answer offer", sl.Err(err))
		}

	case domain.SignalAnswer:
		if msg.SDP == nil {
			return false, nil
		}
		if err := c.manager.HandleAnswer(ctx, *msg.SDP); err != nil {
			c.log.Error("failed to apply answer", sl.Err(err))
		}

	case domain.SignalICECandidate:
		if msg.Candidate != nil {
			c.manager.HandleRemoteCandidate(*msg.Candidate)
		}

	case domain.SignalUserLeft:
		c.log.Info("other participant left", slog.String("conn_id", msg.ConnID))
		c.manager.ResetConnection()

	case domain.SignalEnded:
		return true, nil

	case domain.SignalError:
		// Before the join is confirmed the rejection is the join's. Later
		// errors answer a single request and the call goes on.
		if c.ConnID() == "" {
			return false, fmt.Errorf("server error: %s", msg.Reason)
		}
		c.log.Warn("request rejected by server", slog.String("op", op), slog.String("reason", msg.Reason))
	}
	return false, nil
}

// End asks the server to end the meeting for both participants.
func (c *Call) End() error {
	return c.transport.Send(domain.SignalMessage{Type: domain.SignalEndCall, MeetingID: c.meetingID})
}
