package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Upload.DefaultChunkSize != 5_000_000 {
		t.Fatalf("default chunk size = %d", cfg.Upload.DefaultChunkSize)
	}
	if cfg.Upload.MinChunkSize != 1_000_000 || cfg.Upload.MaxChunkSize != 50_000_000 {
		t.Fatalf("chunk bounds = [%d, %d]", cfg.Upload.MinChunkSize, cfg.Upload.MaxChunkSize)
	}
	if cfg.Upload.MaxFileSize != 2_000_000_000 {
		t.Fatalf("max file size = %d", cfg.Upload.MaxFileSize)
	}
	if cfg.Upload.SessionTTL != 24*time.Hour {
		t.Fatalf("session ttl = %s", cfg.Upload.SessionTTL)
	}
	if cfg.Upload.PresignExpiry != time.Hour {
		t.Fatalf("presign expiry = %s", cfg.Upload.PresignExpiry)
	}
	for _, kind := range []string{"audio", "image", "profile-image", "artwork"} {
		rule, ok := cfg.Upload.Kinds[kind]
		if !ok || len(rule.MIMETypes) == 0 {
			t.Fatalf("kind %q missing or without MIME types", kind)
		}
	}
	if cfg.Storage.ChunkPrefix != "chunks" || cfg.Storage.FinalPrefix != "assets" {
		t.Fatalf("prefixes = (%q, %q)", cfg.Storage.ChunkPrefix, cfg.Storage.FinalPrefix)
	}
	if cfg.Cleanup.Interval != time.Hour || cfg.Cleanup.ChunkMaxAge != 24*time.Hour {
		t.Fatalf("cleanup = %+v", cfg.Cleanup)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9090"
upload:
  default_chunk_size: 8MB
  max_file_size: 1GB
  session_ttl: 12h
  kinds:
    audio:
      mime_types: ["audio/flac"]
      max_size: 500MB
redis:
  addr: "localhost:6379"
storage:
  bucket: uploads
  chunk_prefix: tmp-chunks
cleanup:
  interval: 30m
  sweep_orphans: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Upload.DefaultChunkSize.Int64() != 8*1024*1024 {
		t.Fatalf("default chunk size = %d, want 8MiB", cfg.Upload.DefaultChunkSize)
	}
	if cfg.Upload.MaxFileSize.Int64() != 1024*1024*1024 {
		t.Fatalf("max file size = %d, want 1GiB", cfg.Upload.MaxFileSize)
	}
	if cfg.Upload.SessionTTL != 12*time.Hour {
		t.Fatalf("session ttl = %s", cfg.Upload.SessionTTL)
	}
	// Unset fields still get defaults.
	if cfg.Upload.MinChunkSize != 1_000_000 {
		t.Fatalf("min chunk size = %d", cfg.Upload.MinChunkSize)
	}
	audio := cfg.Upload.Kinds["audio"]
	if len(audio.MIMETypes) != 1 || audio.MIMETypes[0] != "audio/flac" {
		t.Fatalf("audio rule = %+v", audio)
	}
	if audio.MaxSize.Int64() != 500*1024*1024 {
		t.Fatalf("audio max size = %d", audio.MaxSize)
	}
	// Kinds absent from the file are backfilled from defaults.
	if _, ok := cfg.Upload.Kinds["image"]; !ok {
		t.Fatal("default image kind missing")
	}
	if cfg.Storage.ChunkPrefix != "tmp-chunks" {
		t.Fatalf("chunk prefix = %q", cfg.Storage.ChunkPrefix)
	}
	if cfg.Cleanup.Interval != 30*time.Minute || !cfg.Cleanup.SweepOrphans {
		t.Fatalf("cleanup = %+v", cfg.Cleanup)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("empty path must load defaults: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestByteSizeUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{in: "5000000", want: 5_000_000},
		{in: `"5MB"`, want: 5 * 1024 * 1024},
		{in: `"5MiB"`, want: 5 * 1024 * 1024},
		{in: `"2GB"`, want: 2 * 1024 * 1024 * 1024},
		{in: `""`, want: 0},
	}
	for _, tc := range cases {
		var size ByteSize
		if err := yaml.Unmarshal([]byte(tc.in), &size); err != nil {
			t.Fatalf("unmarshal %q: %v", tc.in, err)
		}
		if size.Int64() != tc.want {
			t.Fatalf("%q = %d, want %d", tc.in, size.Int64(), tc.want)
		}
	}
	var size ByteSize
	if err := yaml.Unmarshal([]byte(`"five megabytes"`), &size); err == nil {
		t.Fatal("expected error for unparsable size")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "min above max",
			mutate:  func(c *Config) { c.Upload.MinChunkSize = 100; c.Upload.MaxChunkSize = 50 },
			wantErr: "min_chunk_size",
		},
		{
			name:    "default outside bounds",
			mutate:  func(c *Config) { c.Upload.DefaultChunkSize = 60_000_000 },
			wantErr: "default_chunk_size",
		},
		{
			name:    "max file below min chunk",
			mutate:  func(c *Config) { c.Upload.MaxFileSize = 100 },
			wantErr: "max_file_size",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Server.TLSCert = "cert.pem" },
			wantErr: "tls_cert",
		},
		{
			name:    "kind without MIME types",
			mutate:  func(c *Config) { c.Upload.Kinds["broken"] = KindRule{} },
			wantErr: "broken",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestKindMaxSize(t *testing.T) {
	cfg := Default()

	if got := cfg.KindMaxSize("audio"); got != cfg.Upload.MaxFileSize.Int64() {
		t.Fatalf("audio ceiling = %d, want global maximum", got)
	}
	if got := cfg.KindMaxSize("profile-image"); got != 10*1024*1024 {
		t.Fatalf("profile-image ceiling = %d", got)
	}
	if got := cfg.KindMaxSize("unknown"); got != cfg.Upload.MaxFileSize.Int64() {
		t.Fatalf("unknown kind ceiling = %d, want global maximum", got)
	}
	cfg.Upload.Kinds["huge"] = KindRule{MIMETypes: []string{"x/y"}, MaxSize: ByteSize(cfg.Upload.MaxFileSize + 1)}
	if got := cfg.KindMaxSize("huge"); got != cfg.Upload.MaxFileSize.Int64() {
		t.Fatalf("kind ceiling = %d, must clamp to global maximum", got)
	}
}
