package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/catshare/engine/internal/engineerr"
)

// portRangeLow and portRangeHigh bound the ephemeral listen port picked
// for each sender session (spec §4.5).
const (
	portRangeLow  = 30000
	portRangeHigh = 40000
)

// SessionHandler is notified once the WebSocket half of a session has
// been accepted, and owns the signalling exchange from that point on.
type SessionHandler func(ctx context.Context, session *WSSession)

// Server is the sender-side HTTPS endpoint: one WebSocket upgrade route
// for signalling, one ranged-download route for the payload itself.
type Server struct {
	addr     string
	cert     tls.Certificate
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	taskID   string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	payload  *Payload
	onSocket SessionHandler
	wsInUse  bool
}

// NewServer builds a Server bound to ipv4 on a port in the session
// range, serving payload on /download. The download route does not wait
// for the receiver's confirmReceive on the signalling channel.
// taskID is the id negotiated over CHAR_P2P (wire.P2pInfo.ID); the
// download route only serves to a requester quoting it back, per the
// documented "GET /download?taskId=<id>" contract.
func NewServer(logger zerolog.Logger, ipv4 string, cert tls.Certificate, payload *Payload, taskID string, onSocket SessionHandler) *Server {
	return &Server{
		addr:    ipv4,
		cert:    cert,
		logger:  logger,
		payload: payload,
		taskID:  taskID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		onSocket: onSocket,
	}
}

// Start binds a listener in the session port range and begins serving.
// It returns once the listener is bound; ServeTLS runs in a
// background goroutine and errors are logged, not returned, matching
// the fire-and-forget shape of the teacher's web server.
func (s *Server) Start() (port int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener, chosen, err := listenInRange(s.addr, portRangeLow, portRangeHigh)
	if err != nil {
		return 0, engineerr.Wrap(engineerr.IOError, "binding transfer server port", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/download", s.handleDownload)

	s.server = &http.Server{
		Handler:      mux,
		TLSConfig:    &tls.Config{Certificates: []tls.Certificate{s.cert}},
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // downloads can run long; chunked writes flush themselves
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Int("port", chosen).Msg("starting transfer server")
	go func() {
		if err := s.server.ServeTLS(listener, "", ""); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("transfer server stopped")
		}
	}()

	return chosen, nil
}

// Stop shuts the server down, closing any open WebSocket connection.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.wsInUse {
		s.mu.Unlock()
		http.Error(w, "signalling channel already in use", http.StatusConflict)
		return
	}
	s.wsInUse = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.wsInUse = false
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	// Shutdown does not close hijacked connections, so Stop closes the
	// WebSocket through an OnShutdown hook.
	s.mu.Lock()
	if s.server != nil {
		s.server.RegisterOnShutdown(func() { conn.Close() })
	}
	s.mu.Unlock()

	session := NewWSSession(conn)
	s.logger.Info().Msg("signalling channel connected")
	if s.onSocket != nil {
		s.onSocket(r.Context(), session)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	payload := s.payload
	taskID := s.taskID
	s.mu.Unlock()
	if payload == nil || len(payload.Files) == 0 {
		http.Error(w, "no payload available", http.StatusNotFound)
		return
	}
	if got := r.URL.Query().Get("taskId"); got != taskID {
		http.Error(w, "unknown taskId", http.StatusNotFound)
		return
	}

	if payload.PackageType == "multi" || len(payload.Files) > 1 {
		s.serveZip(w, r, payload.Files)
		return
	}
	s.serveSingle(w, r, payload.Files[0])
}

func (s *Server) serveSingle(w http.ResponseWriter, r *http.Request, file FileSource) {
	w.Header().Set("Content-Type", "application/octet-stream")
	err := ServeRangedFile(w, r, file.Size, func(offset int64) (io.ReadCloser, error) {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		if offset > 0 {
			if seeker, ok := rc.(interface {
				Seek(int64, int) (int64, error)
			}); ok {
				if _, err := seeker.Seek(offset, 0); err != nil {
					rc.Close()
					return nil, err
				}
				return rc, nil
			}
			rc.Close()
			return nil, fmt.Errorf("transfer: file source does not support seeking")
		}
		return rc, nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("serving single-file download")
	}
}

func (s *Server) serveZip(w http.ResponseWriter, r *http.Request, files []FileSource) {
	tmp, size, err := AssembleZip(files)
	if err != nil {
		s.logger.Error().Err(err).Msg("assembling zip archive")
		http.Error(w, "failed to assemble archive", http.StatusInternalServerError)
		return
	}
	defer tmp.Close()
	defer removeTemp(tmp.Name())

	w.Header().Set("Content-Type", "application/zip")
	err = ServeRangedFile(w, r, size, func(offset int64) (io.ReadCloser, error) {
		if _, err := tmp.Seek(offset, 0); err != nil {
			return nil, err
		}
		return io.NopCloser(tmp), nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("serving zip download")
	}
}

func removeTemp(path string) {
	_ = os.Remove(path)
}

// listenInRange tries to bind a TCP listener on host at each port in
// [low, high) in turn, returning the first one that succeeds.
func listenInRange(host string, low, high int) (net.Listener, int, error) {
	for port := low; port < high; port++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("transfer: no free port in range %d-%d", low, high)
}
