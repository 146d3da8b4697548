/*
Package dbconfig is a micropackage that contains storage DB configuration options.
*/
package dbconfig

// Supported DB types.
const (
	BoltDB     = "boltdb"
	InMemoryDB = "inmemory"
	LevelDB    = "leveldb"
	PebbleDB   = "pebble"
)

type (
	// DBConfiguration describes configuration for DB. Supported types:
	// [LevelDB], [BoltDB], [PebbleDB] or [InMemoryDB] (not recommended for
	// production usage).
	DBConfiguration struct {
		Type            string          `yaml:"Type"`
		LevelDBOptions  LevelDBOptions  `yaml:"LevelDBOptions"`
		BoltDBOptions   BoltDBOptions   `yaml:"BoltDBOptions"`
		PebbleDBOptions PebbleDBOptions `yaml:"PebbleDBOptions"`
	}
	// LevelDBOptions configuration for LevelDB.
	LevelDBOptions struct {
		DataDirectoryPath string `yaml:"DataDirectoryPath"`
		ReadOnly          bool   `yaml:"ReadOnly"`
	}
	// BoltDBOptions configuration for BoltDB.
	BoltDBOptions struct {
		FilePath string `yaml:"FilePath"`
		ReadOnly bool   `yaml:"ReadOnly"`
	}
	// PebbleDBOptions configuration for Pebble.
	PebbleDBOptions struct {
		DataDirectoryPath string `yaml:"DataDirectoryPath"`
		ReadOnly          bool   `yaml:"ReadOnly"`
	}
)
