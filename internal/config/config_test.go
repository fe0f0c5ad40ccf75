package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func validConfig() Config {
	cfg := Default()
	cfg.TTS.Endpoint = "http://localhost:5002/api/tts"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.TTS.Engine != "http" {
		t.Errorf("Default engine should be http, got %s", cfg.TTS.Engine)
	}
	if cfg.Playback.PrefetchChars != 1500 {
		t.Errorf("Default prefetch budget should be 1500, got %d", cfg.Playback.PrefetchChars)
	}
	// the http engine needs an endpoint
	if err := cfg.Validate(); err == nil {
		t.Error("Default config without endpoint should be invalid")
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("config with endpoint should be valid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			modify: func(*Config) {},
		},
		{
			name: "mock engine needs no endpoint",
			modify: func(c *Config) {
				c.TTS.Engine = "mock"
				c.TTS.Endpoint = ""
			},
		},
		{
			name:    "invalid engine",
			modify:  func(c *Config) { c.TTS.Engine = "piper" },
			wantErr: true,
			errMsg:  "is not supported",
		},
		{
			name:    "relative endpoint",
			modify:  func(c *Config) { c.TTS.Endpoint = "localhost/tts" },
			wantErr: true,
			errMsg:  "not an absolute URL",
		},
		{
			name:    "no workers",
			modify:  func(c *Config) { c.TTS.MaxConcurrent = 0 },
			wantErr: true,
			errMsg:  "max_concurrent",
		},
		{
			name:    "blank narrator",
			modify:  func(c *Config) { c.Voices.Narrator = "  " },
			wantErr: true,
			errMsg:  "voices.narrator",
		},
		{
			name:    "invalid sample rate",
			modify:  func(c *Config) { c.Playback.SampleRate = 100 },
			wantErr: true,
			errMsg:  "sample rate",
		},
		{
			name:    "invalid audio backend",
			modify:  func(c *Config) { c.Playback.Audio = "alsa" },
			wantErr: true,
			errMsg:  "playback.audio",
		},
		{
			name:    "compression level too high",
			modify:  func(c *Config) { c.Cache.CompressionLevel = 30 },
			wantErr: true,
			errMsg:  "compression_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q should contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString(`
tts:
  engine: mock
  timeout: 5s
  max_concurrent: 4
voices:
  narrator: alto
  known: [alto, baritone, tenor]
playback:
  speed: 1.3
  audio: virtual
cache:
  payload_bytes: 1024
`))
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTS.Engine != "mock" || cfg.TTS.Timeout != 5*time.Second || cfg.TTS.MaxConcurrent != 4 {
		t.Errorf("tts = %+v", cfg.TTS)
	}
	if cfg.Voices.Narrator != "alto" || cfg.Voices.Dialogue != "dialogue" {
		t.Errorf("voices = %+v", cfg.Voices)
	}
	if len(cfg.Voices.Known) != 3 {
		t.Errorf("known voices = %v", cfg.Voices.Known)
	}
	if cfg.Playback.Speed != 1.25 {
		t.Errorf("speed should snap to 1.25, got %v", cfg.Playback.Speed)
	}
	if cfg.Playback.Audio != AudioVirtual || cfg.Playback.SampleRate != 24000 {
		t.Errorf("playback = %+v", cfg.Playback)
	}
	if cfg.Cache.PayloadBytes != 1024 || cfg.Cache.CompressionLevel != 3 {
		t.Errorf("cache = %+v", cfg.Cache)
	}

	s := cfg.Settings()
	if s.Narrator != "alto" || s.Speed != 1.25 {
		t.Errorf("Settings() = %+v", s)
	}
	if opts := cfg.GenerateOptions(); opts.Timeout != 5*time.Second || opts.SampleRate != 24000 {
		t.Errorf("GenerateOptions() = %+v", opts)
	}
}

func TestLoadInvalid(t *testing.T) {
	v := viper.New()
	v.Set("tts.engine", "http")

	if _, err := Load(v); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/narrate.yml"); got != filepath.Join(home, "narrate.yml") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/etc/narrate.yml"); got != "/etc/narrate.yml" {
		t.Errorf("ExpandPath = %q", got)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "narrate.yml")
	if err := os.WriteFile(path, []byte("voices:\n  narrator: alto\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	if err := Watch(ctx, path, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// other files in the directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.yml"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
		t.Fatal("unrelated file triggered a change")
	case <-time.After(3 * settle):
	}

	if err := os.WriteFile(path, []byte("voices:\n  narrator: tenor\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatchMissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "narrate.yml"), func() {})
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
