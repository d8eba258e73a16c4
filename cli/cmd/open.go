// Package cmd implements the burrow CLI commands.
//
// All commands are read-only consumers of exported containers; the
// tracking core runs inside the host process, not the CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/trackerr"
)

// openContainer reads and parses the --input container, optionally
// falling back to index rebuild on corruption.
func openContainer(c *cli.Context) (*binfmt.Container, string, error) {
	path := c.String("input")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, cli.Exit(fmt.Sprintf("cannot read %s: %v", path, err), exitIOError)
	}

	parsed, err := binfmt.Parse(data)
	if err == nil {
		return parsed, path, nil
	}

	if errors.Is(err, trackerr.ErrCorruptedBinary) && c.Bool("rebuild-index") {
		rebuilt, rebuildErr := binfmt.RebuildIndex(data)
		if rebuildErr == nil {
			fmt.Fprintf(os.Stderr, "warning: %v; index rebuilt from intact segments\n", err)
			return rebuilt, path, nil
		}
		return nil, path, cli.Exit(fmt.Sprintf("rebuild failed: %v", rebuildErr), exitIOError)
	}
	if errors.Is(err, trackerr.ErrCorruptedBinary) {
		return nil, path, cli.Exit(fmt.Sprintf("%v (try --rebuild-index)", err), exitIOError)
	}
	return nil, path, cli.Exit(err.Error(), exitIOError)
}
