package orchestrator

// SenderOptions configures Sender.Start (spec §6).
type SenderOptions struct {
	Files         []string
	DeviceName    string
	BrandID       uint16
	SenderID      uint16
	Supports5GHz  bool
	WifiInterface string // "" means auto-select
	Port          uint16 // not read: the transfer server always binds the first free port in 30000-39999
}

// ReceiverOptions configures Receiver.StartDiscovery (spec §6).
type ReceiverOptions struct {
	DeviceName   string
	BrandID      uint16
	SenderID     uint16
	Supports5GHz bool
	DownloadDir  string
	AutoAccept   bool

	// ScanTimeoutSeconds overrides the default 10s discovery window (spec §5).
	ScanTimeoutSeconds int
}
