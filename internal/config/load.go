package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrConfigNotFound = errors.New("config not found")

const fileHeader = `# whisperbridge configuration
# Audio arrives as 32-bit float PCM at audio.sample_rate; sizes are in milliseconds.
# Only logging.level is applied without a restart.
`

func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	bridgeDir := filepath.Join(configDir, "whisperbridge")
	if err := os.MkdirAll(bridgeDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return filepath.Join(bridgeDir, "config.toml"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the config at path, or at the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config, err := LoadFile(path)
	if errors.Is(err, ErrConfigNotFound) {
		log.Debug().Err(err).Msg("Config: no configuration file, using defaults")
		config = DefaultConfig()
		config.applyThreadsDefault()
		return config, nil
	}
	return config, err
}

// LoadFile is Load without the fallback: a missing file is ErrConfigNotFound.
// Keys absent from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("Config: loading configuration")
	config := DefaultConfig()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if config.Providers == nil {
		config.Providers = make(map[string]ProviderConfig)
	}
	config.applyThreadsDefault()

	return config, nil
}

// Save writes config to path, as YAML when the extension says so.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(fileHeader + "\n"); err != nil {
		return fmt.Errorf("failed to write config content: %w", err)
	}

	if isYAML(path) {
		enc := yaml.NewEncoder(file)
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return enc.Close()
	}
	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveDefaultConfig writes the defaults to path.
func SaveDefaultConfig(path string) error {
	return Save(DefaultConfig(), path)
}

// applyThreadsDefault sets default threads for local transcription if not explicitly set
func (c *Config) applyThreadsDefault() {
	if c.Transcription.Threads == 0 {
		threads := runtime.NumCPU() - 1
		if threads < 1 {
			threads = 1
		}
		c.Transcription.Threads = threads
	}
}
