// Package config holds the narrate configuration and loads it from viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/narrate/internal/audio"
	"github.com/dgnsrekt/narrate/internal/generate"
	"github.com/dgnsrekt/narrate/internal/scheduler"
	"github.com/dgnsrekt/narrate/internal/settings"
)

// Audio output backends.
const (
	AudioOto     = "oto"
	AudioVirtual = "virtual"
)

// Config contains all narrate configuration options.
type Config struct {
	TTS      TTSConfig      `yaml:"tts" mapstructure:"tts"`
	Voices   VoicesConfig   `yaml:"voices" mapstructure:"voices"`
	Playback PlaybackConfig `yaml:"playback" mapstructure:"playback"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
}

// TTSConfig configures the generation engine.
type TTSConfig struct {
	Engine            string        `yaml:"engine" mapstructure:"engine" env:"NARRATE_TTS_ENGINE" envDefault:"http"`
	Endpoint          string        `yaml:"endpoint" mapstructure:"endpoint" env:"NARRATE_TTS_ENDPOINT"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key" env:"NARRATE_TTS_API_KEY"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout" env:"NARRATE_TTS_TIMEOUT" envDefault:"30s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute" env:"NARRATE_TTS_REQUESTS_PER_MINUTE" envDefault:"60"`
	MaxConcurrent     int           `yaml:"max_concurrent" mapstructure:"max_concurrent" env:"NARRATE_TTS_MAX_CONCURRENT" envDefault:"2"`
}

// VoicesConfig names the default voices and the voices offered for completion.
type VoicesConfig struct {
	Narrator string   `yaml:"narrator" mapstructure:"narrator" env:"NARRATE_VOICES_NARRATOR" envDefault:"narrator"`
	Dialogue string   `yaml:"dialogue" mapstructure:"dialogue" env:"NARRATE_VOICES_DIALOGUE" envDefault:"dialogue"`
	Known    []string `yaml:"known" mapstructure:"known" env:"NARRATE_VOICES_KNOWN" envSeparator:","`
}

// PlaybackConfig configures playback and prefetching.
type PlaybackConfig struct {
	Speed         float64 `yaml:"speed" mapstructure:"speed" env:"NARRATE_PLAYBACK_SPEED" envDefault:"1.0"`
	Autoplay      bool    `yaml:"autoplay" mapstructure:"autoplay" env:"NARRATE_PLAYBACK_AUTOPLAY" envDefault:"false"`
	PrefetchChars int     `yaml:"prefetch_chars" mapstructure:"prefetch_chars" env:"NARRATE_PLAYBACK_PREFETCH_CHARS" envDefault:"1500"`
	SampleRate    int     `yaml:"sample_rate" mapstructure:"sample_rate" env:"NARRATE_PLAYBACK_SAMPLE_RATE" envDefault:"24000"`
	Channels      int     `yaml:"channels" mapstructure:"channels" env:"NARRATE_PLAYBACK_CHANNELS" envDefault:"1"`
	Audio         string  `yaml:"audio" mapstructure:"audio" env:"NARRATE_PLAYBACK_AUDIO" envDefault:"oto"`
}

// CacheConfig configures the payload store.
type CacheConfig struct {
	PayloadBytes     int64 `yaml:"payload_bytes" mapstructure:"payload_bytes" env:"NARRATE_CACHE_PAYLOAD_BYTES" envDefault:"67108864"`
	CompressionLevel int   `yaml:"compression_level" mapstructure:"compression_level" env:"NARRATE_CACHE_COMPRESSION_LEVEL" envDefault:"3"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		TTS: TTSConfig{
			Engine:            string(generate.EngineHTTP),
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
			MaxConcurrent:     2,
		},
		Voices: VoicesConfig{
			Narrator: settings.DefaultNarrator,
			Dialogue: settings.DefaultDialogue,
		},
		Playback: PlaybackConfig{
			Speed:         settings.DefaultSpeed,
			PrefetchChars: scheduler.DefaultBudget,
			SampleRate:    audio.DefaultFormat().SampleRate,
			Channels:      audio.DefaultFormat().Channels,
			Audio:         AudioOto,
		},
		Cache: CacheConfig{
			PayloadBytes:     64 << 20,
			CompressionLevel: 3,
		},
	}
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("tts.engine", d.TTS.Engine)
	v.SetDefault("tts.endpoint", d.TTS.Endpoint)
	v.SetDefault("tts.api_key", d.TTS.APIKey)
	v.SetDefault("tts.timeout", d.TTS.Timeout)
	v.SetDefault("tts.requests_per_minute", d.TTS.RequestsPerMinute)
	v.SetDefault("tts.max_concurrent", d.TTS.MaxConcurrent)

	v.SetDefault("voices.narrator", d.Voices.Narrator)
	v.SetDefault("voices.dialogue", d.Voices.Dialogue)
	v.SetDefault("voices.known", []string{})

	v.SetDefault("playback.speed", d.Playback.Speed)
	v.SetDefault("playback.autoplay", d.Playback.Autoplay)
	v.SetDefault("playback.prefetch_chars", d.Playback.PrefetchChars)
	v.SetDefault("playback.sample_rate", d.Playback.SampleRate)
	v.SetDefault("playback.channels", d.Playback.Channels)
	v.SetDefault("playback.audio", d.Playback.Audio)

	v.SetDefault("cache.payload_bytes", d.Cache.PayloadBytes)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
}

// Load overlays the values set in v onto Default and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	// tts
	if v.IsSet("tts.engine") {
		cfg.TTS.Engine = v.GetString("tts.engine")
	}
	if v.IsSet("tts.endpoint") {
		cfg.TTS.Endpoint = v.GetString("tts.endpoint")
	}
	if v.IsSet("tts.api_key") {
		cfg.TTS.APIKey = v.GetString("tts.api_key")
	}
	if v.IsSet("tts.timeout") {
		cfg.TTS.Timeout = v.GetDuration("tts.timeout")
	}
	if v.IsSet("tts.requests_per_minute") {
		cfg.TTS.RequestsPerMinute = v.GetInt("tts.requests_per_minute")
	}
	if v.IsSet("tts.max_concurrent") {
		cfg.TTS.MaxConcurrent = v.GetInt("tts.max_concurrent")
	}

	// voices
	if v.IsSet("voices.narrator") {
		cfg.Voices.Narrator = v.GetString("voices.narrator")
	}
	if v.IsSet("voices.dialogue") {
		cfg.Voices.Dialogue = v.GetString("voices.dialogue")
	}
	if v.IsSet("voices.known") {
		cfg.Voices.Known = v.GetStringSlice("voices.known")
	}

	// playback
	if v.IsSet("playback.speed") {
		cfg.Playback.Speed = v.GetFloat64("playback.speed")
	}
	if v.IsSet("playback.autoplay") {
		cfg.Playback.Autoplay = v.GetBool("playback.autoplay")
	}
	if v.IsSet("playback.prefetch_chars") {
		cfg.Playback.PrefetchChars = v.GetInt("playback.prefetch_chars")
	}
	if v.IsSet("playback.sample_rate") {
		cfg.Playback.SampleRate = v.GetInt("playback.sample_rate")
	}
	if v.IsSet("playback.channels") {
		cfg.Playback.Channels = v.GetInt("playback.channels")
	}
	if v.IsSet("playback.audio") {
		cfg.Playback.Audio = v.GetString("playback.audio")
	}

	// cache
	if v.IsSet("cache.payload_bytes") {
		cfg.Cache.PayloadBytes = v.GetInt64("cache.payload_bytes")
	}
	if v.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = v.GetInt("cache.compression_level")
	}

	cfg.Playback.Speed = settings.SnapSpeed(cfg.Playback.Speed)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	switch generate.EngineType(c.TTS.Engine) {
	case generate.EngineHTTP:
		if c.TTS.Endpoint == "" {
			errs = append(errs, errors.New("tts.endpoint is required for the http engine"))
		} else if u, err := url.Parse(c.TTS.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("tts.endpoint %q is not an absolute URL", c.TTS.Endpoint))
		}
	case generate.EngineMock:
	default:
		errs = append(errs, fmt.Errorf("tts.engine %q is not supported", c.TTS.Engine))
	}
	if c.TTS.Timeout < 0 {
		errs = append(errs, errors.New("tts.timeout must not be negative"))
	}
	if c.TTS.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("tts.requests_per_minute must not be negative"))
	}
	if c.TTS.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("tts.max_concurrent must be at least 1, got %d", c.TTS.MaxConcurrent))
	}

	if strings.TrimSpace(c.Voices.Narrator) == "" {
		errs = append(errs, errors.New("voices.narrator must not be empty"))
	}

	if c.Playback.PrefetchChars < 0 {
		errs = append(errs, errors.New("playback.prefetch_chars must not be negative"))
	}
	format := audio.Format{SampleRate: c.Playback.SampleRate, Channels: c.Playback.Channels}
	if err := format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("playback: %w", err))
	}
	if c.Playback.Audio != AudioOto && c.Playback.Audio != AudioVirtual {
		errs = append(errs, fmt.Errorf("playback.audio must be %q or %q, got %q", AudioOto, AudioVirtual, c.Playback.Audio))
	}

	if c.Cache.PayloadBytes < 0 {
		errs = append(errs, errors.New("cache.payload_bytes must not be negative"))
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		errs = append(errs, fmt.Errorf("cache.compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel))
	}

	return errors.Join(errs...)
}

// Format returns the PCM format playback expects from the engine.
func (c Config) Format() audio.Format {
	return audio.Format{SampleRate: c.Playback.SampleRate, Channels: c.Playback.Channels}
}

// GenerateOptions returns the options for generate.New.
func (c Config) GenerateOptions() generate.Options {
	return generate.Options{
		Endpoint:          c.TTS.Endpoint,
		APIKey:            c.TTS.APIKey,
		Timeout:           c.TTS.Timeout,
		RequestsPerMinute: c.TTS.RequestsPerMinute,
		SampleRate:        c.Playback.SampleRate,
		Channels:          c.Playback.Channels,
	}
}

// Settings returns the user settings seeded from the configured voices and
// speed.
func (c Config) Settings() settings.Settings {
	return settings.Settings{
		Narrator: c.Voices.Narrator,
		Dialogue: c.Voices.Dialogue,
		Speed:    c.Playback.Speed,
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	p, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return p
}
