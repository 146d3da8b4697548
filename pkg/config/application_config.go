package config

import (
	"fmt"

	"github.com/nspcc-dev/mptkv/pkg/core/storage/dbconfig"
	"go.uber.org/zap/zapcore"
)

// ApplicationConfiguration config specific to the node.
type ApplicationConfiguration struct {
	LogLevel        string                   `yaml:"LogLevel"`
	LogPath         string                   `yaml:"LogPath"`
	DBConfiguration dbconfig.DBConfiguration `yaml:"DBConfiguration"`
	Trie            Trie                     `yaml:"Trie"`
}

// Validate checks ApplicationConfiguration for internal consistency and
// returns an error wrapping ErrInvalidConfig if any invalid option is found.
func (a *ApplicationConfiguration) Validate() error {
	if a.LogLevel != "" {
		if _, err := zapcore.ParseLevel(a.LogLevel); err != nil {
			return fmt.Errorf("%w: LogLevel: %w", ErrInvalidConfig, err)
		}
	}
	switch a.DBConfiguration.Type {
	case dbconfig.LevelDB, dbconfig.BoltDB, dbconfig.PebbleDB, dbconfig.InMemoryDB:
	default:
		return fmt.Errorf("%w: unknown DB type %q", ErrInvalidConfig, a.DBConfiguration.Type)
	}
	return a.Trie.Validate()
}
