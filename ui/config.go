package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Chapter file path, shown in the header
	Path string

	// Voices offered when changing voices
	KnownVoices []string

	// Seek step for the , and . keys
	SeekStep int `env:"NARRATE_SEEK_SECONDS" envDefault:"5"`

	// Wrap paragraphs at this width (0 uses the terminal width)
	MaxWidth    int  `env:"NARRATE_MAX_WIDTH" envDefault:"100"`
	EnableMouse bool `env:"NARRATE_ENABLE_MOUSE" envDefault:"false"`

	// For debugging the UI
	ShowStats bool `env:"NARRATE_SHOW_STATS" envDefault:"false"`
}
