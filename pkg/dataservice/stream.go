package dataservice

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-datapage/internal/logger"
	"go.uber.org/zap"
)

type streamSubscription struct {
	conn      *websocket.Conn
	callback  StreamCallback
	logger    *logger.Logger
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func newStreamSubscription(conn *websocket.Conn, callback StreamCallback, log *logger.Logger) *streamSubscription {
	return &streamSubscription{
		conn:      conn,
		callback:  callback,
		logger:    log,
		cancelled: atomic.Bool{},
		once:      sync.Once{},
		done:      make(chan struct{}),
	}
}

// Cancel closes the connection. No callback is made after the reader notices.
func (s *streamSubscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		_ = s.conn.Close()
	})
}

func (s *streamSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *streamSubscription) read() {
	defer close(s.done)
	defer s.conn.Close()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.cancelled.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}

			s.callback.OnError(fmt.Sprintf("stream read failed: %v", err))

			return
		}

		if s.cancelled.Load() {
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.handleControl(data)
		case websocket.BinaryMessage:
			frame, err := UnmarshalFrame(data)
			if err != nil {
				s.callback.OnError(err.Error())

				return
			}

			if err := frame.Verify(); err != nil {
				if !frame.Chunked() {
					s.callback.OnError(err.Error())

					return
				}

				s.logger.Warn("Chunk failed its checksum",
					zap.Int("index", frame.Index),
					zap.Int("total", frame.Total),
					zap.Error(err),
				)
				s.callback.OnChunk(nil, frame.Index, frame.Total)

				continue
			}

			if frame.Chunked() {
				s.callback.OnChunk(frame.Payload, frame.Index, frame.Total)
			} else {
				s.callback.OnData(frame.Payload, frame.Count)
			}
		}
	}
}

func (s *streamSubscription) handleControl(data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("Ignoring malformed stream control message", zap.Error(err))

		return
	}

	switch msg.Type {
	case MessageTypeState:
		s.callback.OnStateChanged(msg.State, msg.Progress)
	case MessageTypeError:
		s.callback.OnError(msg.Message)
	default:
		s.logger.Debug("Ignoring unknown stream message", zap.String("type", msg.Type))
	}
}
