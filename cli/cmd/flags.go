package cmd

import "github.com/urfave/cli/v2"

// Exit codes for the CLI.
const (
	exitSuccess       = 0
	exitPartialExport = 2
	exitIOError       = 3
	exitConfigError   = 4
)

// inputFlags are shared by every command that reads a container.
func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "Path to a .msco container file",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "rebuild-index",
			Usage: "Attempt index rebuild when the container is damaged",
		},
	}
}

// tuiFlag opts into the Bubble Tea interface.
func tuiFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:  "tui",
		Usage: "Interactive terminal interface",
	}
}
