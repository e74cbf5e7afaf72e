package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/catshare/engine/internal/ble"
	"github.com/catshare/engine/internal/catlog"
	"github.com/catshare/engine/internal/crypto"
	"github.com/catshare/engine/internal/engineerr"
	"github.com/catshare/engine/internal/p2p"
	"github.com/catshare/engine/internal/transfer"
	"github.com/catshare/engine/internal/wire"
)

const (
	scanTimeoutDefault = 10 * time.Second
	gattConnectTimeout = 10 * time.Second
	wsHandshakeTimeout = 10 * time.Second

	// apGatewayIPv4 is the well-known address NetworkManager's
	// ipv4.method=shared AP hands itself, mirrored from the sender-side
	// NMBackend convention (spec §4.5); the receiver dials it directly
	// rather than discovering it.
	apGatewayIPv4 = "10.42.0.1"
)

// Receiver drives the receiver-side state machine of spec §4.7.
type Receiver struct {
	logger zerolog.Logger
}

// NewReceiver builds a Receiver that logs under the "orchestrator-receiver" scope.
func NewReceiver(logger zerolog.Logger) *Receiver {
	return &Receiver{logger: catlog.Component(logger, "orchestrator-receiver")}
}

// DiscoverySession lets the caller pick a discovered device once the
// handle has reported one or more DeviceFound events.
type DiscoverySession struct {
	selectCh chan string
	selected bool
}

// Select chooses a discovered device by MAC, unblocking the receiver's
// state machine past Scanning. Only the first call has any effect.
func (d *DiscoverySession) Select(mac string) {
	if d.selected {
		return
	}
	d.selected = true
	d.selectCh <- mac
}

// StartDiscovery begins scanning and returns a Handle immediately.
// Once the caller calls DiscoverySession.Select with a discovered MAC,
// the state machine continues through key exchange, P2P join, and
// download.
func (r *Receiver) StartDiscovery(opts ReceiverOptions) (*Handle, *DiscoverySession) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)
	ds := &DiscoverySession{selectCh: make(chan string, 1)}

	go r.run(ctx, opts, h, ds.selectCh)
	return h, ds
}

type receiverResources struct {
	conn   ble.Connection
	join   *p2p.JoinHandle
	wsConn *gws.Conn
}

// teardown releases resources in reverse acquisition order: WebSocket,
// then P2P join, then GATT connection.
func (r *receiverResources) teardown(log zerolog.Logger) {
	if r.wsConn != nil {
		if err := r.wsConn.Close(); err != nil {
			log.Warn().Err(err).Msg("closing websocket")
		}
	}
	if r.join != nil {
		if err := r.join.Teardown(); err != nil {
			log.Warn().Err(err).Msg("tearing down p2p join")
		}
	}
	if r.conn != nil {
		if err := r.conn.Disconnect(); err != nil {
			log.Warn().Err(err).Msg("disconnecting gatt")
		}
	}
}

func (r *Receiver) run(ctx context.Context, opts ReceiverOptions, h *Handle, selectCh chan string) {
	res := &receiverResources{}
	defer res.teardown(r.logger)
	defer h.bus.close()

	finalState, err := r.drive(ctx, opts, h, res, selectCh)
	if ctx.Err() != nil {
		h.setState(StateCancelled)
		return
	}
	if err != nil {
		h.bus.errorf(engineerr.KindOf(err), err.Error())
		h.setState(StateFailed)
		return
	}
	h.setState(finalState)
}

func (r *Receiver) drive(ctx context.Context, opts ReceiverOptions, h *Handle, res *receiverResources, selectCh chan string) (SessionState, error) {
	adapter := ble.NewBlueZCentralAdapter()
	scanner := ble.NewScanner(adapter)

	scanTimeout := scanTimeoutDefault
	if opts.ScanTimeoutSeconds > 0 {
		scanTimeout = time.Duration(opts.ScanTimeoutSeconds) * time.Second
	}
	scanCtx, cancelScan := context.WithTimeout(ctx, scanTimeout)
	defer cancelScan()

	h.setState(StateScanning)
	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- scanner.StartScan(scanCtx, func(d ble.DiscoveredDevice) {
			h.bus.deviceFound(DeviceFoundEvent{
				MAC:          d.MAC,
				Name:         d.Name,
				BrandID:      d.BrandID,
				RSSI:         d.RSSI,
				Supports5GHz: d.Supports5GHz,
			})
		})
	}()

	var mac string
	select {
	case mac = <-selectCh:
		cancelScan()
		<-scanErrCh
	case err := <-scanErrCh:
		if err != nil {
			return StateFailed, err
		}
		return StateFailed, engineerr.New(engineerr.Timeout, "scan ended with no device selected")
	case <-ctx.Done():
		return StateCancelled, ctx.Err()
	}

	h.setState(StateGattConnecting)
	connectCtx, cancelConnect := context.WithTimeout(ctx, gattConnectTimeout)
	defer cancelConnect()
	status, conn, err := ble.ConnectAndReadStatus(connectCtx, adapter, mac)
	if err != nil {
		return StateFailed, err
	}
	res.conn = conn

	advertiserSPKI, err := base64.StdEncoding.DecodeString(status.Key)
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoInvalidKey, "decoding advertised public key", err)
	}

	// GattConnecting -> KeyExchange: generate a local keypair, encrypt a
	// request P2pInfo under the session key derived from the advertiser's
	// published key; our own public key travels in the clear beside the
	// ciphertext (EncryptWithSenderKey), not inside the P2pInfo.
	h.setState(StateKeyExchange)
	priv, _, err := crypto.GenerateKeypair()
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: generating receiver keypair: %w", err)
	}

	reqBody, err := json.Marshal(wire.P2pInfo{ID: randomTransferID(), CatShare: 1})
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: marshalling p2p request: %w", err)
	}
	wireValue, sessionKey, err := crypto.EncryptWithSenderKey(priv, advertiserSPKI, reqBody)
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoInvalidKey, "encrypting p2p request", err)
	}
	if err := ble.WriteP2pRequest(conn, []byte(wireValue)); err != nil {
		return StateFailed, err
	}

	// KeyExchange -> P2pJoining.
	h.setState(StateP2pJoining)
	respCiphertext, err := ble.ReadP2pResponse(conn, time.Sleep)
	if err != nil {
		return StateFailed, err
	}
	respPlaintext, err := crypto.Decrypt(sessionKey, string(respCiphertext))
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoDecodeFailed, "decrypting p2p response", err)
	}
	var resp wire.P2pInfo
	if err := json.Unmarshal(respPlaintext, &resp); err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoDecodeFailed, "parsing p2p response", err)
	}
	if err := resp.Validate(); err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoDecodeFailed, "validating p2p response", err)
	}

	nm, err := p2p.NewNMBackend()
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.HotspotBackendMissing, "networkmanager unavailable", err)
	}
	join, err := nm.JoinGroup(ctx, resp.Ssid, resp.Psk, resp.Mac)
	if err != nil {
		return StateFailed, err
	}
	res.join = join

	// P2pJoining -> WsConnecting -> Signalling.
	h.setState(StateWsConnecting)
	wsURL := fmt.Sprintf("wss://%s:%d/websocket", apGatewayIPv4, resp.Port)
	dialCtx, cancelDial := context.WithTimeout(ctx, wsHandshakeTimeout)
	defer cancelDial()
	dialer := gws.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // self-signed per-session cert, no shared PKI (spec §6)
	}
	wsConn, _, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.WSHandshakeFailed, "dialing "+wsURL, err)
	}
	res.wsConn = wsConn

	session := transfer.NewWSSession(wsConn)
	h.setState(StateSignalling)

	sendReq, accepted, err := r.negotiate(session, opts, h)
	if err != nil {
		return StateFailed, err
	}
	if !accepted {
		return StateCancelled, nil
	}

	// Signalling -> Downloading.
	h.setState(StateDownloading)
	downloadURL := fmt.Sprintf("https://%s:%d/download?taskId=%s", apGatewayIPv4, resp.Port, url.QueryEscape(resp.ID))
	if err := r.download(ctx, downloadURL, sendReq, opts, session, h); err != nil {
		return StateFailed, err
	}

	return StateCompleted, nil
}

// negotiate runs the receiver's half of signalling steps 1-4:
// versionNegotiation, then sendRequest/confirmReceive.
func (r *Receiver) negotiate(session *transfer.WSSession, opts ReceiverOptions, h *Handle) (wire.SendRequestData, bool, error) {
	if err := session.Send(wire.MsgVersionNegotiation, wire.VersionNegotiationData{Version: "1.0"}); err != nil {
		return wire.SendRequestData{}, false, err
	}
	verEnv, err := session.RecvExpecting(wire.MsgVersionNegotiation)
	if err != nil {
		return wire.SendRequestData{}, false, err
	}
	peerVer, err := wire.DecodeVersionNegotiation(verEnv)
	if err != nil {
		return wire.SendRequestData{}, false, err
	}
	if peerVer.Version != "1.0" {
		return wire.SendRequestData{}, false, engineerr.New(engineerr.VersionMismatch, "sender announced version "+peerVer.Version)
	}

	reqEnv, err := session.RecvExpecting(wire.MsgSendRequest)
	if err != nil {
		return wire.SendRequestData{}, false, err
	}
	sendReq, err := wire.DecodeSendRequest(reqEnv)
	if err != nil {
		return wire.SendRequestData{}, false, err
	}

	accepted := opts.AutoAccept
	h.bus.logf(LogInfo, fmt.Sprintf("offered %d file(s), %d bytes total", sendReq.TotalFiles, sendReq.TotalSize))

	if err := session.Send(wire.MsgConfirmReceive, wire.ConfirmReceiveData{
		Accepted:    accepted,
		DownloadDir: opts.DownloadDir,
	}); err != nil {
		return wire.SendRequestData{}, false, err
	}

	return sendReq, accepted, nil
}

// download streams /download to opts.DownloadDir, emitting a
// progressUpdate frame roughly once per second of wall-clock progress.
func (r *Receiver) download(ctx context.Context, downloadURL string, sendReq wire.SendRequestData, opts ReceiverOptions, session *transfer.WSSession, h *Handle) error {
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("orchestrator: building download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return engineerr.Wrap(engineerr.IOError, "downloading payload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return engineerr.New(engineerr.IOError, fmt.Sprintf("download returned status %d", resp.StatusCode))
	}

	if err := os.MkdirAll(opts.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: creating download dir: %w", err)
	}
	destPath := filepath.Join(opts.DownloadDir, singleDestinationName(sendReq))
	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("orchestrator: creating destination file: %w", err)
	}
	defer dest.Close()

	total := resp.ContentLength
	if total <= 0 {
		total = sendReq.TotalSize
	}

	var written int64
	lastReport := time.Now()
	buf := make([]byte, 64*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				return fmt.Errorf("orchestrator: writing downloaded bytes: %w", werr)
			}
			written += int64(n)
			if time.Since(lastReport) > time.Second {
				_ = session.Send(wire.MsgProgressUpdate, wire.ProgressUpdateData{BytesTransferred: written, TotalBytes: total})
				h.bus.progress(ProgressEvent{Bytes: written, Total: total})
				lastReport = time.Now()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return engineerr.Wrap(engineerr.IOError, "reading download stream", readErr)
		}
	}
	h.bus.progress(ProgressEvent{Bytes: written, Total: total})
	return nil
}

func singleDestinationName(sendReq wire.SendRequestData) string {
	if sendReq.PackageType == "multi" || len(sendReq.Files) > 1 {
		return "download.zip"
	}
	if len(sendReq.Files) == 1 {
		return sendReq.Files[0].Name
	}
	return "download.bin"
}

// randomTransferID returns the 4-hex-digit transfer id P2pInfo.id expects.
func randomTransferID() string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%02x%02x", b[0], b[1])
}
