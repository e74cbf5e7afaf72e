package transfer

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseSingleRangeForms(t *testing.T) {
	const size = 1000

	cases := []struct {
		header     string
		wantStart  int64
		wantEnd    int64
		wantOK     bool
	}{
		{"bytes=0-99", 0, 99, true},
		{"bytes=500-", 500, 999, true},
		{"bytes=-100", 900, 999, true},
		{"bytes=900-2000", 900, 999, true}, // end clamped
		{"bytes=1000-1010", 0, 0, false},   // start past EOF
		{"bytes=100-50", 0, 0, false},      // end before start
		{"bytes=0-10,20-30", 0, 0, false},  // multi-range unsatisfiable
		{"nonsense", 0, 0, false},
	}

	for _, tc := range cases {
		start, end, ok := parseSingleRange(tc.header, size)
		if ok != tc.wantOK {
			t.Errorf("parseSingleRange(%q) ok = %v, want %v", tc.header, ok, tc.wantOK)
			continue
		}
		if ok && (start != tc.wantStart || end != tc.wantEnd) {
			t.Errorf("parseSingleRange(%q) = (%d,%d), want (%d,%d)", tc.header, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}

func TestServeRangedFileFullBody(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 200*1024+37)

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	rec := httptest.NewRecorder()

	err := ServeRangedFile(rec, req, int64(len(data)), func(offset int64) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	})
	if err != nil {
		t.Fatalf("ServeRangedFile: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Fatalf("body length = %d, want %d", rec.Body.Len(), len(data))
	}
}

func TestServeRangedFileResume(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 10000)

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	req.Header.Set("Range", "bytes=5000-")
	rec := httptest.NewRecorder()

	err := ServeRangedFile(rec, req, int64(len(data)), func(offset int64) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data[offset:])), nil
	})
	if err != nil {
		t.Fatalf("ServeRangedFile: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[5000:]) {
		t.Fatalf("resumed body mismatch, got %d bytes", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 5000-9999/10000" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeRangedFileUnsatisfiable(t *testing.T) {
	data := []byte("short")

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	req.Header.Set("Range", "bytes=9999-10000")
	rec := httptest.NewRecorder()

	err := ServeRangedFile(rec, req, int64(len(data)), func(offset int64) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	if err != nil {
		t.Fatalf("ServeRangedFile: %v", err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
}

func TestCopyChunkedFlushesEachChunk(t *testing.T) {
	data := bytes.Repeat([]byte("z"), chunkSize*3+123)
	var buf bytes.Buffer
	fw := &flushCountingWriter{Writer: &buf}

	if err := copyChunked(fw, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("copyChunked: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Fatalf("copied %d bytes, want %d", buf.Len(), len(data))
	}
	if fw.flushes != 4 {
		t.Errorf("flush count = %d, want 4", fw.flushes)
	}
}

type flushCountingWriter struct {
	io.Writer
	flushes int
}

func (f *flushCountingWriter) Flush() { f.flushes++ }
