package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/mptkv/cli/trie"
	"github.com/nspcc-dev/mptkv/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "mptkv\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates an instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "mptkv"
	ctl.Version = config.Version
	ctl.Usage = "Authenticated Merkle-Patricia trie key-value store"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, trie.NewCommands()...)
	return ctl
}
