package capture

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wrenlabs/danmucap/protocol"
	"github.com/wrenlabs/danmucap/telemetry"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	writeTimeout             = 10 * time.Second
)

// ErrStreamClosed is the close cause when the peer (or an outbound send
// failure) terminated the connection rather than a local Close call.
var ErrStreamClosed = errors.New("capture: push stream closed")

// ChatHandler receives each decoded chat event, in wire order.
type ChatHandler func(ev ChatEvent)

// PushStream owns one websocket connection to the platform push endpoint.
// It decodes inbound frames, answers ack requests, emits heartbeats, and
// dispatches chat events. It never reconnects; reconnection policy belongs
// to the room monitor.
type PushStream struct {
	url       string
	header    http.Header
	heartbeat time.Duration
	onChat    ChatHandler
	log       *slog.Logger

	mu       sync.Mutex // guards conn, closed, closeErr
	writeMu  sync.Mutex // serialises conn writes (acks, heartbeats)
	conn     *websocket.Conn
	closed   bool
	closeErr error

	done chan struct{} // closed when the receive loop has exited
}

// NewPushStream builds a stream for a signed push URL. The handler is
// invoked from the receive loop, so events for one room are delivered in
// the order frames arrive on the wire.
func NewPushStream(url string, header http.Header, onChat ChatHandler) *PushStream {
	return &PushStream{
		url:       url,
		header:    header,
		heartbeat: defaultHeartbeatInterval,
		onChat:    onChat,
		log:       slog.Default().With(slog.String("component", "push_stream")),
		done:      make(chan struct{}),
	}
}

// SetHeartbeatInterval overrides the keepalive cadence. Must be called
// before Open.
func (s *PushStream) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		s.heartbeat = d
	}
}

// Open dials the push endpoint and starts the receive and heartbeat loops.
// The dial is bounded by ctx; the loops run until the peer closes, a send
// fails, or Close is called.
func (s *PushStream) Open(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return &ConnectError{Status: resp.StatusCode, Err: err}
		}
		return &ConnectError{Err: err}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return &ConnectError{Err: errors.New("stream already closed")}
	}
	s.conn = conn
	s.mu.Unlock()

	go s.heartbeatLoop()
	go s.readLoop(conn)
	return nil
}

// Done is closed once the receive loop has exited, whether by Close or by a
// connection-level error. Err reports the cause afterwards.
func (s *PushStream) Done() <-chan struct{} { return s.done }

// Err returns the close cause: nil for a deliberate Close, otherwise the
// connection-level error that terminated the stream.
func (s *PushStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil && !errors.Is(s.closeErr, errDeliberateClose) {
		return s.closeErr
	}
	return nil
}

var errDeliberateClose = errors.New("capture: deliberate close")

// Close tears the connection down. Idempotent and safe to call from outside
// the receive loop: closing the transport unblocks any pending read, so both
// loops observe termination without waiting on a read timeout.
func (s *PushStream) Close() {
	s.closeWith(errDeliberateClose)
}

func (s *PushStream) closeWith(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = cause
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	} else {
		// Never opened: the receive loop will not run, so finish Done here.
		close(s.done)
	}
}

func (s *PushStream) readLoop(conn *websocket.Conn) {
	defer close(s.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			deliberate := s.closed
			s.mu.Unlock()
			if !deliberate {
				s.log.Info("push stream closed by peer", slog.Any("err", err))
				s.closeWithLocked(err)
			}
			return
		}
		s.handleMessage(data)
	}
}

// closeWithLocked records the cause and closes the transport without
// re-closing done (the read loop owns done).
func (s *PushStream) closeWithLocked(cause error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.closeErr = cause
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}
	s.mu.Unlock()
}

func (s *PushStream) handleMessage(data []byte) {
	telemetry.FramesReceived.Inc()
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		telemetry.FramesDropped.Inc()
		s.log.Debug("dropping malformed frame", slog.Any("err", err))
		return
	}
	if frame.PayloadType != protocol.PayloadTypeMsg {
		// Control echoes (ack/hb responses) carry nothing we consume.
		return
	}
	resp, err := protocol.DecodePayload(frame)
	if err != nil {
		telemetry.FramesDropped.Inc()
		s.log.Debug("dropping undecodable payload", slog.Uint64("log_id", frame.LogID), slog.Any("err", err))
		return
	}
	if resp.NeedAck {
		ack := protocol.EncodeAck(frame.LogID, []byte(resp.InternalExt))
		if err := s.send(websocket.BinaryMessage, ack); err != nil {
			s.log.Warn("ack send failed; terminating stream", slog.Any("err", err))
			s.closeWithLocked(&SendError{Op: "ack", Err: err})
			return
		}
		telemetry.AcksSent.Inc()
	}
	recv := time.Now()
	for _, m := range resp.Messages {
		if m.Method != protocol.MethodChat {
			continue
		}
		chat, err := protocol.DecodeChat(m.Payload)
		if err != nil {
			s.log.Debug("skipping undecodable chat message", slog.Any("err", err))
			continue
		}
		ev := ChatEvent{
			EventTimeMs: NormalizeMillis(int64(chat.EventTime)),
			ServerNowMs: NormalizeMillis(int64(resp.Now)),
			ReceivedAt:  recv,
			UserID:      strconv.FormatUint(chat.User.ID, 10),
			UserName:    chat.User.NickName,
			Content:     chat.Content,
		}
		telemetry.ChatEvents.Inc()
		if s.onChat != nil {
			s.onChat(ev)
		}
	}
}

func (s *PushStream) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	hb := protocol.EncodeHeartbeat()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(websocket.PingMessage, hb); err != nil {
				s.mu.Lock()
				deliberate := s.closed
				s.mu.Unlock()
				if !deliberate {
					s.log.Warn("heartbeat send failed; terminating stream", slog.Any("err", err))
					s.closeWithLocked(&SendError{Op: "heartbeat", Err: err})
				}
				return
			}
			telemetry.HeartbeatsSent.Inc()
		}
	}
}

func (s *PushStream) send(messageType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}
