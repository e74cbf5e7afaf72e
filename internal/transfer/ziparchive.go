package transfer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// AssembleZip writes a STORE-method (no compression), UTF-8-filename
// ZIP container for files to a temp file and returns it opened for
// reading, so the caller learns the exact byte size (and can set
// Content-Length precisely) before streaming it. Entry names are
// validated against zip-slip: a name that escapes the archive root via
// ".." or an absolute path is rejected rather than silently sanitized.
func AssembleZip(files []FileSource) (*os.File, int64, error) {
	tmp, err := os.CreateTemp("", "catshare-zip-*")
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: creating temp zip file: %w", err)
	}

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		if err := validateZipEntryName(f.Name); err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, 0, err
		}

		header := &zip.FileHeader{
			Name:   f.Name,
			Method: zip.Store,
		}
		header.SetModTime(f.ModifiedTime)
		// Flags bit 11 marks the filename/comment as UTF-8, per spec's
		// "UTF-8 filename flag set".
		header.Flags |= 0x800

		w, err := zw.CreateHeader(header)
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, 0, fmt.Errorf("transfer: creating zip entry %q: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, 0, fmt.Errorf("transfer: opening %q for zip: %w", f.Name, err)
		}
		_, copyErr := io.Copy(w, rc)
		rc.Close()
		if copyErr != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, 0, fmt.Errorf("transfer: writing zip entry %q: %w", f.Name, copyErr)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("transfer: finalizing zip: %w", err)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("transfer: seeking zip size: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("transfer: rewinding zip: %w", err)
	}

	return tmp, size, nil
}

// validateZipEntryName rejects names that would let an entry write
// outside the extraction root: absolute paths and any ".." component.
func validateZipEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("transfer: zip entry name must not be empty")
	}
	clean := path.Clean(filepath.ToSlash(name))
	if path.IsAbs(clean) || clean == ".." || clean == "." {
		return fmt.Errorf("transfer: zip entry name %q escapes the archive root", name)
	}
	for _, part := range splitSlash(clean) {
		if part == ".." {
			return fmt.Errorf("transfer: zip entry name %q escapes the archive root", name)
		}
	}
	return nil
}

func splitSlash(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}
