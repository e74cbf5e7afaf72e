// Package transfer implements the sender-side HTTPS server (C6): the
// /websocket signalling endpoint and the /download streaming route,
// plus the on-the-fly ZIP assembly for multi-file sends.
package transfer

import (
	"io"
	"time"
)

// FileSource is one file offered by a sendRequest.
type FileSource struct {
	Name         string
	Size         int64
	ModifiedTime time.Time
	Open         func() (io.ReadCloser, error)
}

// Payload is the full set of files backing one transfer task.
type Payload struct {
	Files       []FileSource
	PackageType string // "single" | "multi", mirrors wire.SendRequestData.PackageType
}

// TotalSize sums declared file sizes. For PackageType "multi" this is
// the sum of per-file sizes, not the eventual ZIP container size: the
// two differ by container overhead, which is why receivers are
// required to trust Content-Length over this value (spec §4.6).
func (p Payload) TotalSize() int64 {
	var total int64
	for _, f := range p.Files {
		total += f.Size
	}
	return total
}
