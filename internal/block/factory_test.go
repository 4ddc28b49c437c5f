package block

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jbweber/kindling/internal/config"
	"github.com/jbweber/kindling/internal/logging"
)

func testConfig(t *testing.T, blockDevs string) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`
[main]
name = "testvm"
cpus = 1
memory = 512
bootrom = "/b"

[dev.disk0]
driver = "pci-virtio-block"
block_dev = "disk0"

%s
`, blockDevs)
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse test config: %v", err)
	}
	return cfg
}

func testImageFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.raw")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	return path
}

func TestResolveFileWorkers(t *testing.T) {
	tests := []struct {
		name      string
		requested *int
		want      int
		wantWarn  bool
	}{
		{name: "absent uses default silently", requested: nil, want: DefaultWorkerCount},
		{name: "lower bound", requested: intPtr(1), want: 1},
		{name: "in range", requested: intPtr(16), want: 16},
		{name: "upper bound", requested: intPtr(32), want: 32},
		{name: "zero falls back with warning", requested: intPtr(0), want: DefaultWorkerCount, wantWarn: true},
		{name: "above maximum falls back with warning", requested: intPtr(40), want: DefaultWorkerCount, wantWarn: true},
		{name: "negative falls back with warning", requested: intPtr(-3), want: DefaultWorkerCount, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logging.New(logging.ModeText, &buf, nil)

			got := resolveFileWorkers(tt.requested, log)
			if got != tt.want {
				t.Errorf("resolveFileWorkers(%v) = %d, want %d", tt.requested, got, tt.want)
			}
			warned := strings.Contains(buf.String(), "out of range")
			if warned != tt.wantWarn {
				t.Errorf("warning emitted = %v, want %v (log: %q)", warned, tt.wantWarn, buf.String())
			}
		})
	}
}

func TestResolveFileBackend(t *testing.T) {
	path := testImageFile(t, 4096)
	cfg := testConfig(t, fmt.Sprintf("[block_dev.disk0]\ntype = \"file\"\npath = %q\n", path))

	var buf bytes.Buffer
	r := &Resolver{Log: logging.New(logging.ModeText, &buf, nil)}
	dev := cfg.Devices["disk0"]
	be, name, err := r.Resolve(cfg, &dev)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			t.Errorf("Close() unexpected error: %v", err)
		}
	}()

	if name != "disk0" {
		t.Errorf("canonical name = %q, want disk0", name)
	}
	if be.Kind() != KindFile {
		t.Errorf("kind = %q, want file", be.Kind())
	}
	if be.WorkerCount() != DefaultWorkerCount {
		t.Errorf("workers = %d, want %d", be.WorkerCount(), DefaultWorkerCount)
	}
	if got := be.Info().Size; got != 4096 {
		t.Errorf("size = %d, want 4096", got)
	}
	if be.Info().BlockSize != DefaultBlockSize {
		t.Errorf("block size = %d, want %d", be.Info().BlockSize, DefaultBlockSize)
	}

	// A regular file instead of a raw device earns a non-fatal advisory.
	if !strings.Contains(buf.String(), "regular file") {
		t.Errorf("expected regular-file advisory in log, got %q", buf.String())
	}
}

func TestResolveFileBackendOutOfRangeWorkers(t *testing.T) {
	path := testImageFile(t, 1024)
	cfg := testConfig(t, fmt.Sprintf(
		"[block_dev.disk0]\ntype = \"file\"\npath = %q\nworkers = 40\n", path))

	var buf bytes.Buffer
	r := &Resolver{Log: logging.New(logging.ModeText, &buf, nil)}
	dev := cfg.Devices["disk0"]
	be, _, err := r.Resolve(cfg, &dev)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	if be.WorkerCount() != DefaultWorkerCount {
		t.Errorf("workers = %d, want fallback %d", be.WorkerCount(), DefaultWorkerCount)
	}
	if !strings.Contains(buf.String(), "out of range") {
		t.Errorf("expected out-of-range warning, got %q", buf.String())
	}
}

func TestResolveErrors(t *testing.T) {
	path := testImageFile(t, 1024)

	tests := []struct {
		name      string
		blockDevs string
		wantErr   string
	}{
		{
			name:      "missing block device name",
			blockDevs: "[block_dev.other]\ntype = \"file\"\npath = \"/tmp/x\"\n",
			wantErr:   `no configured block device named "disk0"`,
		},
		{
			name:      "unknown discriminator",
			blockDevs: "[block_dev.disk0]\ntype = \"nvme-zns\"\n",
			wantErr:   `unrecognized block device type "nvme-zns"`,
		},
		{
			name:      "file without path",
			blockDevs: "[block_dev.disk0]\ntype = \"file\"\n",
			wantErr:   "path is required",
		},
		{
			name:      "unknown option key rejected",
			blockDevs: fmt.Sprintf("[block_dev.disk0]\ntype = \"file\"\npath = %q\nwrokers = 8\n", path),
			wantErr:   "wrokers",
		},
		{
			name:      "file open failure",
			blockDevs: "[block_dev.disk0]\ntype = \"file\"\npath = \"/nonexistent/disk.raw\"\n",
			wantErr:   "/nonexistent/disk.raw",
		},
		{
			name:      "mem-async zero size",
			blockDevs: "[block_dev.disk0]\ntype = \"mem-async\"\nsize = 0\n",
			wantErr:   "size must be > 0",
		},
		{
			name:      "cloudinit without builder",
			blockDevs: "[block_dev.disk0]\ntype = \"cloudinit\"\n",
			wantErr:   "no cidata builder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.blockDevs)
			r := &Resolver{Log: logging.New(logging.ModeText, &bytes.Buffer{}, nil)}
			dev := cfg.Devices["disk0"]
			be, _, err := r.Resolve(cfg, &dev)
			if err == nil {
				_ = be.Close()
				t.Fatalf("Resolve() succeeded, want error containing %q", tt.wantErr)
			}
			if be != nil {
				t.Error("Resolve() returned a backend alongside an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveMemAsyncNoUpperClamp(t *testing.T) {
	cfg := testConfig(t, "[block_dev.disk0]\ntype = \"mem-async\"\nsize = 4096\nworkers = 40\n")

	r := &Resolver{Log: logging.New(logging.ModeText, &bytes.Buffer{}, nil)}
	dev := cfg.Devices["disk0"]
	be, _, err := r.Resolve(cfg, &dev)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	if be.Kind() != KindMemAsync {
		t.Errorf("kind = %q, want mem-async", be.Kind())
	}
	// The mem-async backend intentionally takes the requested count as-is.
	if be.WorkerCount() != 40 {
		t.Errorf("workers = %d, want 40", be.WorkerCount())
	}
}

func TestResolveCloudinitDelegates(t *testing.T) {
	cfg := testConfig(t, "[block_dev.disk0]\ntype = \"cloudinit\"\n")

	seed, err := NewMemBackendFromBytes(KindCloudinit, []byte("seed"), Options{}, 1)
	if err != nil {
		t.Fatalf("failed to build stub seed backend: %v", err)
	}
	var gotCfg *config.Config
	r := &Resolver{
		Log: logging.New(logging.ModeText, &bytes.Buffer{}, nil),
		Cidata: func(c *config.Config) (Backend, error) {
			gotCfg = c
			return seed, nil
		},
	}

	dev := cfg.Devices["disk0"]
	be, name, err := r.Resolve(cfg, &dev)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	defer func() { _ = be.Close() }()

	if gotCfg != cfg {
		t.Error("cidata builder did not receive the full machine configuration")
	}
	if be != Backend(seed) {
		t.Error("Resolve() did not return the builder's backend")
	}
	if name != "disk0" {
		t.Errorf("canonical name = %q, want disk0", name)
	}
}

func intPtr(n int) *int { return &n }
