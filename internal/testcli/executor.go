package testcli

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nspcc-dev/mptkv/cli/app"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// Executor represents context for a test instance.
// It can be safely used in multiple tests, but not in parallel.
type Executor struct {
	// CLI is a cli application to test.
	CLI *cli.App
	// ConfigFile is a path to the config file using on-disk DB in a
	// temporary directory.
	ConfigFile string
	// Out contains command output.
	Out *bytes.Buffer
	// Err contains command errors.
	Err *bytes.Buffer
}

// NewExecutor creates an Executor with a fresh config file. dbType and
// trie settings are put into the config as is.
func NewExecutor(t *testing.T, dbType string, trieSettings string) *Executor {
	d := t.TempDir()
	cfg := `ApplicationConfiguration:
  LogLevel: warn
  LogPath: ` + filepath.Join(d, "mptkv.log") + `
  DBConfiguration:
    Type: ` + dbType + `
    LevelDBOptions:
      DataDirectoryPath: ` + filepath.Join(d, "leveldb") + `
    BoltDBOptions:
      FilePath: ` + filepath.Join(d, "mpt.bolt") + `
    PebbleDBOptions:
      DataDirectoryPath: ` + filepath.Join(d, "pebble") + `
  Trie:
` + trieSettings
	e := &Executor{
		CLI:        app.New(),
		ConfigFile: filepath.Join(d, "mptkv.yml"),
		Out:        bytes.NewBuffer(nil),
		Err:        bytes.NewBuffer(nil),
	}
	require.NoError(t, os.WriteFile(e.ConfigFile, []byte(cfg), 0644))
	e.CLI.Writer = e.Out
	e.CLI.ErrWriter = e.Err
	return e
}

// GetNextLine returns the next line of command output.
func (e *Executor) GetNextLine(t *testing.T) string {
	line, err := e.Out.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

// CheckNextLine checks the next output line against the regular expression.
func (e *Executor) CheckNextLine(t *testing.T, expected string) {
	line := e.GetNextLine(t)
	require.Regexp(t, expected, line)
}

// CheckEOF checks that there is no more output.
func (e *Executor) CheckEOF(t *testing.T) {
	_, err := e.Out.ReadString('\n')
	require.True(t, errors.Is(err, io.EOF))
}

func setExitFunc() <-chan int {
	ch := make(chan int, 1)
	cli.OsExiter = func(code int) {
		ch <- code
	}
	return ch
}

func checkExit(t *testing.T, ch <-chan int, code int) {
	select {
	case c := <-ch:
		require.Equal(t, code, c)
	default:
		if code != 0 {
			require.Fail(t, "no exit was called")
		}
	}
}

// RunWithError runs command and checks that is exits with error.
func (e *Executor) RunWithError(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.Error(t, e.run(args...))
	checkExit(t, ch, 1)
}

// Run runs command and checks that there were no errors.
func (e *Executor) Run(t *testing.T, args ...string) {
	ch := setExitFunc()
	require.NoError(t, e.run(args...))
	checkExit(t, ch, 0)
}

func (e *Executor) run(args ...string) error {
	e.Out.Reset()
	e.Err.Reset()
	return e.CLI.Run(args)
}
