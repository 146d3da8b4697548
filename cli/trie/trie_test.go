package trie_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nspcc-dev/mptkv/internal/testcli"
	"github.com/nspcc-dev/mptkv/pkg/core/storage/dbconfig"
	"github.com/stretchr/testify/require"
)

const (
	dogRoot   = "0x8aad789dff2f538bca5d8ea56e8abe10f4c7ba3a5dea95fea4cd6e7c3a1168d3"
	emptyRoot = "0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421"
)

func TestTrieCommands(t *testing.T) {
	for _, db := range []string{dbconfig.LevelDB, dbconfig.BoltDB, dbconfig.PebbleDB} {
		t.Run(db, func(t *testing.T) {
			testTrieCommands(t, db)
		})
	}
}

func testTrieCommands(t *testing.T, db string) {
	e := testcli.NewExecutor(t, db, "    PersistRoot: true\n    Pruning: true\n")
	args := func(cmd string, rest ...string) []string {
		return append([]string{"mptkv", "trie", cmd, "--config-file", e.ConfigFile, "--utf8"}, rest...)
	}

	e.Run(t, args("root")...)
	e.CheckNextLine(t, "^"+emptyRoot+"$")
	e.CheckEOF(t)

	e.Run(t, args("put", "doe", "reindeer")...)
	e.GetNextLine(t)
	e.Run(t, args("put", "dog", "puppy")...)
	e.GetNextLine(t)
	e.Run(t, args("put", "dogglesworth", "cat")...)
	e.CheckNextLine(t, "^"+dogRoot+"$")
	e.CheckEOF(t)

	t.Run("get", func(t *testing.T) {
		e.Run(t, args("get", "dog")...)
		e.CheckNextLine(t, "^puppy$")
		e.CheckEOF(t)

		e.RunWithError(t, args("get", "cat")...)
		e.RunWithError(t, args("get")...)
		e.RunWithError(t, "mptkv", "trie", "get", "--config-file", e.ConfigFile, "not-a-hex")
	})

	t.Run("hex", func(t *testing.T) {
		e.Run(t, "mptkv", "trie", "get", "--config-file", e.ConfigFile, "0x646f67")
		e.CheckNextLine(t, "^0x7075707079$")
	})

	t.Run("root", func(t *testing.T) {
		e.Run(t, args("root")...)
		e.CheckNextLine(t, "^"+dogRoot+"$")
	})

	t.Run("proof", func(t *testing.T) {
		e.Run(t, args("proof", "dog")...)
		line := e.GetNextLine(t)
		var proof []string
		require.NoError(t, json.Unmarshal([]byte(line), &proof))
		require.NotEmpty(t, proof)

		proofFile := filepath.Join(t.TempDir(), "proof.json")
		require.NoError(t, os.WriteFile(proofFile, []byte(line), 0644))

		e.Run(t, args("verify", "--root", dogRoot, "--proof", proofFile, "dog")...)
		e.CheckNextLine(t, "^puppy$")

		e.Run(t, args("verify", "--root", dogRoot, "--proof", proofFile, "cat")...)
		e.CheckNextLine(t, "^absent$")

		e.RunWithError(t, args("verify", "--root", emptyRoot, "--proof", proofFile, "dog")...)
		e.RunWithError(t, args("verify", "--proof", proofFile, "dog")...)
		e.RunWithError(t, args("verify", "--root", dogRoot, "--proof", filepath.Join(t.TempDir(), "missing"), "dog")...)
	})

	t.Run("dump", func(t *testing.T) {
		e.Run(t, args("dump")...)
		e.CheckNextLine(t, "^root: "+dogRoot+"$")
		e.CheckNextLine(t, `^stored: \d+ \(\d+ bytes\)$`)
		e.CheckNextLine(t, `^reachable: \d+$`)
	})

	t.Run("stats", func(t *testing.T) {
		e.Run(t, args("stats")...)
		e.CheckNextLine(t, "^keys: 3$")
	})

	t.Run("delete", func(t *testing.T) {
		e.Run(t, args("delete", "dogglesworth")...)
		e.GetNextLine(t)
		e.Run(t, args("delete", "doe")...)
		e.GetNextLine(t)
		e.Run(t, args("delete", "dog")...)
		e.CheckNextLine(t, "^"+emptyRoot+"$")
	})

	t.Run("batch", func(t *testing.T) {
		batchFile := filepath.Join(t.TempDir(), "batch.json")
		require.NoError(t, os.WriteFile(batchFile, []byte(`[
	{"key": "dogglesworth", "value": "cat"},
	{"key": "dog", "value": "puppy"},
	{"key": "horse", "value": "stallion"},
	{"key": "doe", "value": "reindeer"},
	{"key": "horse"}
]`), 0644))
		e.Run(t, args("batch", batchFile)...)
		e.CheckNextLine(t, "^applied: 4$")
		e.CheckNextLine(t, "^"+dogRoot+"$")

		e.Run(t, args("get", "doe")...)
		e.CheckNextLine(t, "^reindeer$")

		require.NoError(t, os.WriteFile(batchFile, []byte(`{"key": 1}`), 0644))
		e.RunWithError(t, args("batch", batchFile)...)
		e.RunWithError(t, args("batch")...)
	})
}

func TestTrieCommands_ExplicitRoot(t *testing.T) {
	e := testcli.NewExecutor(t, dbconfig.LevelDB, "    PersistRoot: false\n")
	args := func(cmd string, rest ...string) []string {
		return append([]string{"mptkv", "trie", cmd, "--config-file", e.ConfigFile, "--utf8"}, rest...)
	}

	e.Run(t, args("put", "key", "value")...)
	root := e.GetNextLine(t)

	// The root is not persisted, so it's empty by default.
	e.Run(t, args("root")...)
	e.CheckNextLine(t, "^"+emptyRoot+"$")
	e.RunWithError(t, args("get", "key")...)

	e.Run(t, args("get", "--root", root, "key")...)
	e.CheckNextLine(t, "^value$")

	e.RunWithError(t, args("get", "--root", "0x0102", "key")...)
}

func TestTrieCommands_BadConfig(t *testing.T) {
	e := testcli.NewExecutor(t, "redis", "    PersistRoot: true\n")
	e.RunWithError(t, "mptkv", "trie", "root", "--config-file", e.ConfigFile)
	e.RunWithError(t, "mptkv", "trie", "root", "--config-file", filepath.Join(t.TempDir(), "missing.yml"))
}
