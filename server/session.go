package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plotune/pltxd/pltx"
)

// streamMessage is the per-sample wire payload. Desc is reserved and
// currently always empty.
type streamMessage struct {
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
	Desc      string  `json:"desc"`
	Seq       uint64  `json:"seq"`
	EndFlag   bool    `json:"end_flag"`
}

// session drives one signal stream over one websocket connection. It
// pulls the cursor at the rate the connection accepts writes; the cursor
// reads no further ahead than its current chunk, so a slow consumer
// never causes unbounded buffering upstream.
type session struct {
	conn   *websocket.Conn
	cursor *pltx.Cursor
	signal string // public name
	logger *slog.Logger
}

const writeTimeout = 30 * time.Second

// run drains the cursor into the connection. On a clean end it sends
// exactly one end_flag=true message and closes the channel from this
// side without waiting for acknowledgment. On a cursor error it signals
// failure through the close frame instead; a failed stream never carries
// a success end-flag.
func (s *session) run(ctx context.Context) {
	defer s.cursor.Close()

	s.logger.Info("stream started", "signal", s.signal)

	for s.cursor.Next() {
		if ctx.Err() != nil {
			s.logger.Info("stream canceled", "signal", s.signal, "sent", s.cursor.Count())
			return
		}
		msg := streamMessage{
			Timestamp: s.cursor.Sample().Timestamp,
			Value:     s.cursor.Sample().Value,
			Seq:       s.cursor.Seq(),
		}
		if err := s.write(msg); err != nil {
			s.logger.Warn("stream write failed", "signal", s.signal, "error", err)
			return
		}
	}

	if err := s.cursor.Err(); err != nil {
		s.logger.Error("stream decode failed", "signal", s.signal, "error", err)
		s.close(websocket.CloseInternalServerErr, "decode error")
		return
	}

	end := streamMessage{Seq: s.cursor.Count(), EndFlag: true}
	if err := s.write(end); err != nil {
		s.logger.Warn("stream end write failed", "signal", s.signal, "error", err)
		return
	}
	s.close(websocket.CloseNormalClosure, "")

	s.logger.Info("stream finished", "signal", s.signal, "samples", s.cursor.Count())
}

func (s *session) write(msg streamMessage) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *session) close(code int, reason string) {
	deadline := time.Now().Add(writeTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
