package block

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jbweber/kindling/internal/logging"
)

func discardLogger() *slog.Logger {
	return logging.New(logging.ModeText, &bytes.Buffer{}, nil)
}

func TestFileBackendReadWriteFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.raw")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}

	be, err := NewFileBackend(path, Options{}, 2, discardLogger())
	if err != nil {
		t.Fatalf("NewFileBackend() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	payload := []byte("bootblock")
	wr := NewRequest(OpWrite, 512, payload)
	if err := be.Submit(wr); err != nil {
		t.Fatalf("Submit(write) unexpected error: %v", err)
	}
	if err := wr.Await(); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	fl := NewRequest(OpFlush, 0, nil)
	if err := be.Submit(fl); err != nil {
		t.Fatalf("Submit(flush) unexpected error: %v", err)
	}
	if err := fl.Await(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	got := make([]byte, len(payload))
	rd := NewRequest(OpRead, 512, got)
	if err := be.Submit(rd); err != nil {
		t.Fatalf("Submit(read) unexpected error: %v", err)
	}
	if err := rd.Await(); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("read back %q, want %q", got, payload)
	}

	if err := be.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}

func TestFileBackendReadOnlyRejectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.raw")
	if err := os.WriteFile(path, make([]byte, 1024), 0644); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}

	ro := true
	be, err := NewFileBackend(path, Options{ReadOnly: &ro}, 1, discardLogger())
	if err != nil {
		t.Fatalf("NewFileBackend() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	err = be.Submit(NewRequest(OpWrite, 0, []byte{1}))
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("Submit(write) on read-only backend = %v, want read-only error", err)
	}
}

func TestFileBackendSubmitBeforeStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.raw")
	if err := os.WriteFile(path, make([]byte, 512), 0644); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}

	be, err := NewFileBackend(path, Options{}, 1, discardLogger())
	if err != nil {
		t.Fatalf("NewFileBackend() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	if err := be.Submit(NewRequest(OpRead, 0, make([]byte, 1))); err == nil {
		t.Error("Submit before Start succeeded")
	}
}

func TestFileBackendDoubleClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.raw")
	if err := os.WriteFile(path, make([]byte, 512), 0644); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}

	be, err := NewFileBackend(path, Options{}, 1, discardLogger())
	if err != nil {
		t.Fatalf("NewFileBackend() unexpected error: %v", err)
	}
	if err := be.Close(); err != nil {
		t.Fatalf("first Close() unexpected error: %v", err)
	}
	if err := be.Close(); err == nil {
		t.Error("second Close() succeeded")
	}
}

func TestMemBackendConcurrentRequests(t *testing.T) {
	be, err := NewMemBackend(1<<16, Options{}, 4)
	if err != nil {
		t.Fatalf("NewMemBackend() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	const blocks = 32
	var wg sync.WaitGroup
	for i := 0; i < blocks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(i)}, 512)
			req := NewRequest(OpWrite, int64(i)*512, data)
			if err := be.Submit(req); err != nil {
				t.Errorf("Submit(write %d) error: %v", i, err)
				return
			}
			if err := req.Await(); err != nil {
				t.Errorf("write %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < blocks; i++ {
		got := make([]byte, 512)
		req := NewRequest(OpRead, int64(i)*512, got)
		if err := be.Submit(req); err != nil {
			t.Fatalf("Submit(read %d) error: %v", i, err)
		}
		if err := req.Await(); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		for _, b := range got {
			if b != byte(i) {
				t.Fatalf("block %d contains %d, want %d", i, b, i)
			}
		}
	}

	if err := be.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}

func TestMemBackendOutOfBounds(t *testing.T) {
	be, err := NewMemBackend(1024, Options{}, 1)
	if err != nil {
		t.Fatalf("NewMemBackend() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	req := NewRequest(OpRead, 1000, make([]byte, 100))
	if err := be.Submit(req); err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}
	if err := req.Await(); err == nil {
		t.Error("out-of-bounds read succeeded")
	}
}

func TestMemBackendSkipFlush(t *testing.T) {
	sf := true
	be, err := NewMemBackend(512, Options{SkipFlush: &sf}, 1)
	if err != nil {
		t.Fatalf("NewMemBackend() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	req := NewRequest(OpFlush, 0, nil)
	if err := be.Submit(req); err != nil {
		t.Fatalf("Submit(flush) unexpected error: %v", err)
	}
	if err := req.Await(); err != nil {
		t.Errorf("skip-flush flush failed: %v", err)
	}
}

func TestMemBackendFromBytes(t *testing.T) {
	contents := []byte("CIDATA seed contents")
	be, err := NewMemBackendFromBytes(KindCloudinit, contents, Options{}, 1)
	if err != nil {
		t.Fatalf("NewMemBackendFromBytes() unexpected error: %v", err)
	}
	if err := be.Start(); err != nil {
		t.Fatalf("Start() unexpected error: %v", err)
	}

	if be.Kind() != KindCloudinit {
		t.Errorf("kind = %q, want cloudinit", be.Kind())
	}
	if be.Info().Size != uint64(len(contents)) {
		t.Errorf("size = %d, want %d", be.Info().Size, len(contents))
	}

	got := make([]byte, len(contents))
	req := NewRequest(OpRead, 0, got)
	if err := be.Submit(req); err != nil {
		t.Fatalf("Submit() unexpected error: %v", err)
	}
	if err := req.Await(); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, contents) {
		t.Errorf("read back %q, want %q", got, contents)
	}

	if err := be.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}
