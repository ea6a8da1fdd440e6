package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/service"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	opTimeout      = 5 * time.Second
)

type SignalingController struct {
	signaling service.SignalingInteractor
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

func NewSignalingController(signaling service.SignalingInteractor, allowedOrigins []string, log *slog.Logger) *SignalingController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalingController{
		signaling: signaling,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Connect upgrades the request and serves one signaling connection. The
// first message must be join-room; everything after it is dispatched to the
// coordinator until the socket closes.
func (c *SignalingController) Connect(ctx *gin.Context) {
	const op = "api.signaling.connect"
	identity := IdentityFrom(ctx)
	log := c.log.With(slog.String("op", op), slog.String("identity", identity))

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	msg, err := readSignal(conn)
	if err != nil {
		if errors.Is(err, service.ErrBadMessage) {
			c.reject(conn, err)
		}
		return
	}

	joinCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	peer, err := c.signaling.Join(joinCtx, msg, identity)
	cancel()
	if err != nil {
		if service.IsClientError(err) {
			log.Info("join refused", sl.Err(err))
		} else {
			log.Error("join failed", sl.Err(err))
		}
		c.reject(conn, err)
		return
	}
	log = log.With(slog.String("meeting_id", peer.MeetingID), slog.String("conn_id", peer.ID))

	done := make(chan struct{})
	go c.writePump(conn, peer, done)

	c.readPump(conn, peer, log)

	leaveCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	if err := c.signaling.Leave(leaveCtx, peer); err != nil {
		log.Error("leave failed", sl.Err(err))
	}
	cancel()

	<-done
	log.Info("connection closed")
}

func readSignal(conn *websocket.Conn) (domain.SignalMessage, error) {
	var msg domain.SignalMessage
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.Join(service.ErrBadMessage, err)
	}
	return msg, nil
}

func (c *SignalingController) reject(conn *websocket.Conn, err error) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(service.SignalError(err))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join refused"))
}

func (c *SignalingController) readPump(conn *websocket.Conn, peer *domain.Peer, log *slog.Logger) {
	for {
		msg, err := readSignal(conn)
		if errors.Is(err, service.ErrBadMessage) {
			peer.EnqueueEvent(service.SignalError(err))
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("unexpected close", sl.Err(err))
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		err = c.signaling.HandleSignal(ctx, peer, msg)
		cancel()
		if err != nil {
			if !service.IsClientError(err) {
				log.Error("signal failed", slog.String("type", string(msg.Type)), sl.Err(err))
			}
			peer.EnqueueEvent(service.SignalError(err))
		}
	}
}

// writePump is the only writer of conn once the peer joined. When the peer
// is closed it flushes what is already queued and closes the socket, which
// also ends readPump.
func (c *SignalingController) writePump(conn *websocket.Conn, peer *domain.Peer, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	write := func(ev domain.SignalMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev) == nil
	}

	for {
		select {
		case ev := <-peer.Events:
			if !write(ev) {
				peer.Close()
				return
			}
		case <-peer.Done():
			for {
				select {
				case ev := <-peer.Events:
					if !write(ev) {
						return
					}
				default:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				peer.Close()
				return
			}
		}
	}
}
