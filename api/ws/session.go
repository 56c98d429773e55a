package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 64
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// session is one connected client.
type session struct {
	accountID int64
	conn      *websocket.Conn
	sendCh    chan []byte
	done      chan struct{}
	seq       atomic.Uint64
	once      sync.Once
	logger    *zap.Logger
}

func newSession(accountID int64, conn *websocket.Conn, logger *zap.Logger) *session {
	s := &session{
		accountID: accountID,
		conn:      conn,
		sendCh:    make(chan []byte, sendChanBuf),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go s.writePump()
	return s
}

// writePump drains sendCh and writes to the connection. It also sends
// periodic pings so dead peers are noticed.
func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()
	for {
		select {
		case data := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("account_id", s.accountID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// send queues a packet without blocking. Packets are dropped when the
// client falls behind.
func (s *session) send(typ string, payload json.RawMessage) {
	data, err := json.Marshal(&Packet{Seq: s.seq.Add(1), Type: typ, Payload: payload})
	if err != nil {
		return
	}
	select {
	case s.sendCh <- data:
	case <-s.done:
	default:
		s.logger.Warn("send channel full, dropping packet",
			zap.Int64("account_id", s.accountID),
			zap.String("type", typ))
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) setReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
}
