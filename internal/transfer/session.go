package transfer

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/catshare/engine/internal/engineerr"
	"github.com/catshare/engine/internal/wire"
)

// WSSession wraps one WebSocket connection and serializes writes so
// concurrent senders (e.g. a progressUpdate racing a cancel) never
// interleave partial frames on the wire.
type WSSession struct {
	conn *websocket.Conn

	sendMu sync.Mutex
}

// NewWSSession wraps an already-upgraded connection.
func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn}
}

// Send marshals and writes one envelope as a text frame, serialized
// against concurrent senders (e.g. a progressUpdate racing a cancel).
func (s *WSSession) Send(msgType wire.MsgType, data any) error {
	env, err := wire.NewEnvelope(msgType, data)
	if err != nil {
		return fmt.Errorf("transfer: building %s envelope: %w", msgType, err)
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		return engineerr.Wrap(engineerr.WSProtocolError, "writing "+string(msgType), err)
	}
	return nil
}

// Recv blocks for the next text frame and decodes its envelope.
func (s *WSSession) Recv() (wire.Envelope, error) {
	var env wire.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return wire.Envelope{}, engineerr.Wrap(engineerr.WSProtocolError, "reading envelope", err)
	}
	return env, nil
}

// RecvExpecting reads the next envelope and errors with
// VersionMismatch-adjacent WSProtocolError if its type doesn't match want.
func (s *WSSession) RecvExpecting(want wire.MsgType) (wire.Envelope, error) {
	env, err := s.Recv()
	if err != nil {
		return wire.Envelope{}, err
	}
	if env.MsgType != want {
		return wire.Envelope{}, engineerr.New(engineerr.WSProtocolError, fmt.Sprintf("expected %s, got %s", want, env.MsgType))
	}
	return env, nil
}

// Close closes the underlying connection. Idempotent.
func (s *WSSession) Close() error {
	return s.conn.Close()
}
