package transfer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/catshare/engine/internal/wire"
)

func newWSSessionPair(t *testing.T) (server *WSSession, client *WSSession, cleanup func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverCh := make(chan *WSSession, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		serverCh <- NewWSSession(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	server = <-serverCh
	client = NewWSSession(clientConn)
	cleanup = func() {
		client.Close()
		server.Close()
		ts.Close()
	}
	return server, client, cleanup
}

func TestWSSessionSendRecvRoundTrip(t *testing.T) {
	server, client, cleanup := newWSSessionPair(t)
	defer cleanup()

	go func() {
		_ = server.Send(wire.MsgVersionNegotiation, wire.VersionNegotiationData{Version: "1.0"})
	}()

	env, err := client.RecvExpecting(wire.MsgVersionNegotiation)
	if err != nil {
		t.Fatalf("RecvExpecting: %v", err)
	}
	data, err := wire.DecodeVersionNegotiation(env)
	if err != nil {
		t.Fatalf("DecodeVersionNegotiation: %v", err)
	}
	if data.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", data.Version)
	}
}

func TestWSSessionRecvExpectingRejectsWrongType(t *testing.T) {
	server, client, cleanup := newWSSessionPair(t)
	defer cleanup()

	go func() {
		_ = server.Send(wire.MsgCancel, wire.CancelData{Reason: "userCancelled"})
	}()

	if _, err := client.RecvExpecting(wire.MsgSendRequest); err == nil {
		t.Fatal("RecvExpecting accepted a mismatched message type")
	}
}

func TestWSSessionOrderingPreservesSequence(t *testing.T) {
	server, client, cleanup := newWSSessionPair(t)
	defer cleanup()

	go func() {
		_ = server.Send(wire.MsgVersionNegotiation, wire.VersionNegotiationData{Version: "1.0"})
		_ = server.Send(wire.MsgSendRequest, wire.SendRequestData{
			Files:       []wire.FileEntry{{Name: "a.txt", Size: 1}},
			TotalSize:   1,
			TotalFiles:  1,
			PackageType: "single",
		})
	}()

	first, err := client.Recv()
	if err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	second, err := client.Recv()
	if err != nil {
		t.Fatalf("second Recv: %v", err)
	}
	if first.MsgType != wire.MsgVersionNegotiation || second.MsgType != wire.MsgSendRequest {
		t.Fatalf("out-of-order delivery: %s then %s", first.MsgType, second.MsgType)
	}
}
