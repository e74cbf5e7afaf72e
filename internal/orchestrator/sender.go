package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/catshare/engine/internal/ble"
	"github.com/catshare/engine/internal/catlog"
	"github.com/catshare/engine/internal/crypto"
	"github.com/catshare/engine/internal/engineerr"
	"github.com/catshare/engine/internal/p2p"
	"github.com/catshare/engine/internal/transfer"
	"github.com/catshare/engine/internal/wire"
)

// Sender drives the sender-side state machine of spec §4.7.
type Sender struct {
	logger zerolog.Logger
}

// NewSender builds a Sender that logs under the "orchestrator-sender" scope.
func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{logger: catlog.Component(logger, "orchestrator-sender")}
}

// Start begins advertising files for a receiver and returns a Handle
// immediately; the state machine runs on its own goroutine.
func (s *Sender) Start(opts SenderOptions) (*Handle, error) {
	files, err := statFiles(opts.Files)
	if err != nil {
		return nil, err
	}
	if err := checkEntryNames(files); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)

	go s.run(ctx, opts, files, h)
	return h, nil
}

// senderResources holds every scoped resource the sender state machine
// acquires, released in reverse acquisition order on every exit path
// (spec §5 Cancellation: HTTP server -> P2P group -> advertiser).
type senderResources struct {
	advertisement ble.AdvertisementHandle
	group         *p2p.GroupHandle
	httpServer    *transfer.Server
}

func (r *senderResources) teardown(log zerolog.Logger) {
	if r.httpServer != nil {
		if err := r.httpServer.Stop(context.Background()); err != nil {
			log.Warn().Err(err).Msg("stopping transfer server")
		}
	}
	if r.group != nil {
		if err := r.group.Teardown(); err != nil {
			log.Warn().Err(err).Msg("tearing down p2p group")
		}
	}
	if r.advertisement != nil {
		if err := r.advertisement.Stop(); err != nil {
			log.Warn().Err(err).Msg("stopping advertisement")
		}
	}
}

func (s *Sender) run(ctx context.Context, opts SenderOptions, files []transfer.FileSource, h *Handle) {
	res := &senderResources{}
	defer res.teardown(s.logger)
	defer h.bus.close()

	finalState, err := s.drive(ctx, opts, files, h, res)
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

func (s *Sender) drive(ctx context.Context, opts SenderOptions, files []transfer.FileSource, h *Handle, res *senderResources) (SessionState, error) {
	priv, pubDER, err := crypto.GenerateKeypair()
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: generating sender keypair: %w", err)
	}

	localMAC := firstHardwareAddress()
	status := wire.DeviceInfo{
		State:    0,
		Key:      encodeBase64(pubDER),
		Mac:      localMAC,
		CatShare: 1,
	}

	peripheral, err := ble.NewBlueZPeripheralAdapter()
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.AdapterUnavailable, "opening bluez peripheral", err)
	}
	if err := peripheral.Enable(); err != nil {
		return StateFailed, engineerr.Wrap(engineerr.AdapterUnavailable, "enabling bluetooth adapter", err)
	}

	advertiser := ble.NewAdvertiser(peripheral)
	identity := wire.IdentityFrame{BrandID: opts.BrandID, Supports5GHz: opts.Supports5GHz, SenderID: opts.SenderID}

	type p2pWrite struct {
		payload []byte
	}
	p2pReqCh := make(chan p2pWrite, 1)
	errDeferredResponse := fmt.Errorf("orchestrator: response published separately once the handshake completes")
	onWrite := func(w ble.P2pWrite) ([]byte, error) {
		select {
		case p2pReqCh <- p2pWrite{payload: w.Payload}:
		default:
		}
		// The handshake response isn't ready synchronously (it depends
		// on CreateGroup and the HTTPS server coming up), so report an
		// error here purely to stop the Advertiser from also calling
		// SetP2pResponse(nil); the real response is published later via
		// peripheral.SetP2pResponse directly.
		return nil, errDeferredResponse
	}

	handle, err := advertiser.StartAdvertising(identity, opts.DeviceName, status, onWrite)
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.AdvertisementRejected, "starting advertisement", err)
	}
	res.advertisement = handle
	h.setState(StateAdvertising)
	h.bus.logf(LogInfo, "advertising as "+opts.DeviceName)

	var req p2pWrite
	select {
	case req = <-p2pReqCh:
	case <-ctx.Done():
		return StateCancelled, ctx.Err()
	}
	h.setState(StateKeyExchange)

	_, sessionKey, plaintext, err := crypto.DecryptWithSenderKey(priv, string(req.payload))
	if err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoDecodeFailed, "decoding peer request", err)
	}
	var peerReq wire.P2pInfo
	if err := json.Unmarshal(plaintext, &peerReq); err != nil {
		return StateFailed, engineerr.Wrap(engineerr.CryptoDecodeFailed, "parsing peer P2pInfo", err)
	}

	h.setState(StateGroupCreating)
	ssid, psk, err := p2p.GenerateCredentials()
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: generating wifi credentials: %w", err)
	}

	backends := buildSenderBackends()
	group, err := p2p.CreateGroupWithFallback(ctx, backends, p2p.CreateGroupOptions{
		WifiInterface: opts.WifiInterface,
		SSID:          ssid,
		PSK:           psk,
	})
	if err != nil {
		return StateFailed, err
	}
	res.group = group

	payload := &transfer.Payload{Files: files, PackageType: packageType(files)}
	cert, err := transfer.GenerateSelfSignedCert(group.IPv4)
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: generating session TLS cert: %w", err)
	}

	sessionDone := make(chan error, 1)
	httpServer := transfer.NewServer(s.logger, group.IPv4, cert, payload, peerReq.ID, func(wsCtx context.Context, session *transfer.WSSession) {
		sessionDone <- s.runSignalling(wsCtx, session, payload, h)
	})
	port, err := httpServer.Start()
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: starting transfer server: %w", err)
	}
	res.httpServer = httpServer

	resp := wire.P2pInfo{
		ID:       peerReq.ID,
		Ssid:     ssid,
		Psk:      psk,
		Mac:      group.MAC,
		Port:     port,
		Key:      encodeBase64(pubDER),
		CatShare: 1,
	}
	respBody, err := json.Marshal(resp)
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: marshalling p2p response: %w", err)
	}
	respCiphertext, err := crypto.Encrypt(sessionKey, respBody)
	if err != nil {
		return StateFailed, fmt.Errorf("orchestrator: encrypting p2p response: %w", err)
	}
	if err := peripheral.SetP2pResponse([]byte(respCiphertext)); err != nil {
		return StateFailed, engineerr.Wrap(engineerr.AdvertisementRejected, "publishing p2p response", err)
	}
	h.setState(StateWaitingForPeer)
	h.bus.logf(LogInfo, fmt.Sprintf("waiting for peer on %s:%d", group.IPv4, port))

	select {
	case err := <-sessionDone:
		if err != nil {
			return StateFailed, err
		}
		return StateCompleted, nil
	case <-ctx.Done():
		return StateCancelled, ctx.Err()
	}
}

// runSignalling drives the sender's half of the WebSocket exchange:
// versionNegotiation -> sendRequest -> confirmReceive, then watches for
// progressUpdate/cancel frames until the receiver disconnects (the
// normal end-of-download signal, since /download is served separately).
func (s *Sender) runSignalling(ctx context.Context, session *transfer.WSSession, payload *transfer.Payload, h *Handle) error {
	h.setState(StateSignalling)

	if _, err := session.RecvExpecting(wire.MsgVersionNegotiation); err != nil {
		return err
	}
	if err := session.Send(wire.MsgVersionNegotiation, wire.VersionNegotiationData{Version: "1.0"}); err != nil {
		return err
	}

	entries := make([]wire.FileEntry, 0, len(payload.Files))
	for _, f := range payload.Files {
		entries = append(entries, wire.FileEntry{Name: f.Name, Size: f.Size, ModifiedTime: f.ModifiedTime.Unix()})
	}
	if err := session.Send(wire.MsgSendRequest, wire.SendRequestData{
		Files:       entries,
		TotalSize:   payload.TotalSize(),
		TotalFiles:  len(entries),
		PackageType: payload.PackageType,
	}); err != nil {
		return err
	}

	env, err := session.Recv()
	if err != nil {
		return err
	}
	switch env.MsgType {
	case wire.MsgConfirmReceive:
		confirm, err := wire.DecodeConfirmReceive(env)
		if err != nil {
			return err
		}
		if !confirm.Accepted {
			h.bus.logf(LogInfo, "receiver declined the transfer")
			return nil
		}
	case wire.MsgCancel:
		return nil
	default:
		return engineerr.New(engineerr.WSProtocolError, fmt.Sprintf("unexpected message %s during signalling", env.MsgType))
	}

	h.setState(StateTransferring)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := session.Recv()
		if err != nil {
			// The receiver closing the socket after its HTTP download
			// completes is the expected end-of-transfer signal.
			return nil
		}
		switch env.MsgType {
		case wire.MsgProgressUpdate:
			if p, err := wire.DecodeProgressUpdate(env); err == nil {
				h.bus.progress(ProgressEvent{Bytes: p.BytesTransferred, Total: p.TotalBytes})
			}
		case wire.MsgCancel:
			return nil
		}
	}
}

func statFiles(paths []string) ([]transfer.FileSource, error) {
	sources := make([]transfer.FileSource, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: stat %q: %w", p, err)
		}
		path := p
		sources = append(sources, transfer.FileSource{
			Name:         filepath.Base(path),
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
			Open:         func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return sources, nil
}

func checkEntryNames(files []transfer.FileSource) error {
	for _, f := range files {
		if filepath.Base(f.Name) != f.Name {
			return fmt.Errorf("orchestrator: file entry %q must not contain path separators", f.Name)
		}
	}
	return nil
}

func packageType(files []transfer.FileSource) string {
	if len(files) > 1 {
		return "multi"
	}
	return "single"
}

func buildSenderBackends() []p2p.Backend {
	backends := make([]p2p.Backend, 0, 2)
	if nm, err := p2p.NewNMBackend(); err == nil {
		backends = append(backends, nm)
	}
	backends = append(backends, p2p.NewWpaCliBackend())
	return backends
}
