package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/cli/tui"
)

// StatsCommand returns the stats command: aggregated facts about one
// container.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show aggregated statistics for a container",
		Flags:  append(inputFlags(), tuiFlag()),
		Action: statsAction,
	}
}

// statsPayload is the JSON shape of non-TUI stats output.
type statsPayload struct {
	Source        string `json:"source"`
	FormatVersion uint16 `json:"format_version"`
	CreatedAtNs   uint64 `json:"created_at_ns"`
	TotalEvents   uint64 `json:"total_events"`
	KeptEvents    int    `json:"kept_events"`
	TotalDropped  uint64 `json:"total_dropped"`
	CallSites     int    `json:"call_sites"`
	Variables     int    `json:"tracked_variables"`
	LiveVariables int    `json:"live_variables"`
	Partial       bool   `json:"partial"`
	Compressed    bool   `json:"compressed"`
}

func statsAction(c *cli.Context) error {
	parsed, path, err := openContainer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		if err := tui.RunStats(path, parsed); err != nil {
			return cli.Exit(fmt.Sprintf("tui failed: %v", err), exitIOError)
		}
		return nil
	}

	live := 0
	for i := range parsed.Payload.Registry {
		if parsed.Payload.Registry[i].Live() {
			live++
		}
	}
	payload := statsPayload{
		Source:        path,
		FormatVersion: parsed.Header.Version,
		CreatedAtNs:   parsed.Header.CreatedAtNs,
		TotalEvents:   parsed.Header.TotalEvents,
		KeptEvents:    len(parsed.Payload.Events),
		TotalDropped:  parsed.Header.TotalDropped,
		CallSites:     len(parsed.Payload.Frequency),
		Variables:     len(parsed.Payload.Registry),
		LiveVariables: live,
		Partial:       parsed.Header.HasFlag(binfmt.FlagPartialExport),
		Compressed:    parsed.Header.HasFlag(binfmt.FlagCompressed),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
