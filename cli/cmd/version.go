package cmd

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	FormatVersion uint16 `json:"format_version"`
	Commit        string `json:"commit"`
}

// VersionCommand returns the version command. Reports the project
// version and the container format version this build reads and
// writes.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(VersionResponse{
				Version:       types.Version,
				FormatVersion: types.FormatVersion,
				Commit:        commit,
			})
		},
	}
}
