package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the settings file name inside the user config dir.
const FileName = "settings.yml"

// Load reads settings from path. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("unable to read settings: %w", err)
	}

	s := Defaults()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Defaults(), fmt.Errorf("unable to parse settings %s: %w", path, err)
	}
	return s.normalize(), nil
}

// Save writes s to path, creating the directory when needed.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
