package orchestrator

// SessionState enumerates every state either state machine can occupy
// (spec §4.7). Sender and receiver share the terminal states.
type SessionState string

const (
	StateIdle SessionState = "idle"

	// Sender-only.
	StateAdvertising    SessionState = "advertising"
	StateGroupCreating  SessionState = "groupCreating"
	StateWaitingForPeer SessionState = "waitingForPeer"
	StateTransferring   SessionState = "transferring"

	// Receiver-only.
	StateScanning       SessionState = "scanning"
	StateGattConnecting SessionState = "gattConnecting"
	StateP2pJoining     SessionState = "p2pJoining"
	StateWsConnecting   SessionState = "wsConnecting"
	StateDownloading    SessionState = "downloading"

	// Shared.
	StateKeyExchange SessionState = "keyExchange"
	StateSignalling  SessionState = "signalling"
	StateCompleted   SessionState = "completed"
	StateFailed      SessionState = "failed"
	StateCancelled   SessionState = "cancelled"
)
