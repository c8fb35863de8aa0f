package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-datapage/internal/types"
	"github.com/rxtech-lab/argo-datapage/pkg/dataservice"
	"github.com/rxtech-lab/argo-datapage/pkg/errors"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// handleStream handles GET /v1/stream. The client sends one PageSpec as JSON,
// then receives state messages until the page settles, followed by the data
// frames and a normal close.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	header := http.Header{}
	header.Set(dataservice.ProtocolHeader, s.config.ProtocolVersion)

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))

		return
	}
	defer conn.Close()

	var spec dataservice.PageSpec
	if err := conn.ReadJSON(&spec); err != nil {
		s.sendError(conn, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid subscription", err))

		return
	}

	if err := s.validateSpec(spec); err != nil {
		s.sendError(conn, err)

		return
	}

	// Reads only detect the peer going away. Control frames are handled by
	// the library as long as someone reads.
	gone := make(chan struct{})

	go func() {
		defer close(gone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	p := s.materialize(spec)
	lastState := types.PageStateEmpty
	lastProgress := -1.0

	for {
		snap := p.snapshot(s.now())

		if snap.status.State != lastState || snap.status.Progress != lastProgress {
			msg := dataservice.StreamMessage{
				Type:     dataservice.MessageTypeState,
				State:    snap.status.State,
				Progress: snap.status.Progress,
				Message:  "",
			}
			if err := s.writeJSON(conn, msg); err != nil {
				return
			}

			lastState, lastProgress = snap.status.State, snap.status.Progress
		}

		switch snap.status.State {
		case types.PageStateReady:
			if err := s.sendData(conn, spec.Kind, snap.data); err != nil {
				s.logger.Warn("Failed to stream page", zap.String("page", spec.CacheKey()), zap.Error(err))

				return
			}

			s.closeNormal(conn)

			return
		case types.PageStateError:
			s.sendError(conn, errors.New(errors.ErrCodePageFailed, snap.status.Error))

			return
		default:
		}

		select {
		case <-snap.changed:
		case <-gone:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// sendData writes the dataset as one frame when it fits a chunk, otherwise as
// a sequence of chunk frames. Chunks are encoded one at a time.
func (s *Server) sendData(conn *websocket.Conn, kind types.DataKind, data dataset) error {
	n := data.Len()
	size := s.config.ChunkSize

	if n <= size {
		payload, err := data.Encode(0, n)
		if err != nil {
			return err
		}

		frame := dataservice.Frame{Kind: kind, Index: 0, Total: 0, Count: n, Payload: payload}

		return s.writeBinary(conn, frame.Marshal())
	}

	total := (n + size - 1) / size

	for i := 0; i < total; i++ {
		from := i * size
		to := min(from+size, n)

		payload, err := data.Encode(from, to)
		if err != nil {
			return err
		}

		frame := dataservice.Frame{Kind: kind, Index: i, Total: total, Count: to - from, Payload: payload}
		if err := s.writeBinary(conn, frame.Marshal()); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) sendError(conn *websocket.Conn, err error) {
	msg := dataservice.StreamMessage{
		Type:     dataservice.MessageTypeError,
		State:    types.PageStateError,
		Progress: 0,
		Message:  errors.Message(err),
	}
	if werr := s.writeJSON(conn, msg); werr != nil {
		return
	}

	s.closeNormal(conn)
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(v)
}

func (s *Server) writeBinary(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func (s *Server) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
