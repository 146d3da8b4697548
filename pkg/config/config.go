package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/nspcc-dev/mptkv/pkg/core/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default path to the config file.
const DefaultConfigPath = "./config/mptkv.yml"

// Version is the version of the program, set at build time.
var Version string

// ErrInvalidConfig is returned for configurations that can't be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top level struct representing the config file.
type Config struct {
	ApplicationConfiguration ApplicationConfiguration `yaml:"ApplicationConfiguration"`
}

// Default returns the configuration used when no file is given: in-memory
// storage and the default trie settings.
func Default() Config {
	return Config{
		ApplicationConfiguration: ApplicationConfiguration{
			LogLevel: "info",
			DBConfiguration: dbconfig.DBConfiguration{
				Type: dbconfig.InMemoryDB,
			},
			Trie: DefaultTrie(),
		},
	}
}

// LoadFile loads config from the provided path. Missing fields get their
// default values.
func LoadFile(configPath string) (Config, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return Load(configData)
}

// Load decodes YAML config data. Unknown fields are not allowed.
func Load(data []byte) (Config, error) {
	config := Default()
	config.ApplicationConfiguration.DBConfiguration.Type = ""

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(&config)
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if config.ApplicationConfiguration.DBConfiguration.Type == "" {
		config.ApplicationConfiguration.DBConfiguration.Type = dbconfig.LevelDB
	}

	err = config.Validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	return c.ApplicationConfiguration.Validate()
}
