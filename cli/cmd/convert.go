package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/convert"
)

// ConvertCommand returns the convert command: binary container in,
// analytical JSON views out.
func ConvertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a binary container into analytical JSON views",
		UsageText: `burrow convert --input profile.msco --outdir views/ [--views memory_analysis,performance]

Each view is written as an independent JSON file:
  <prefix>_memory_analysis.json
  <prefix>_lifetime.json
  <prefix>_performance.json
  <prefix>_unsafe_boundary.json
  <prefix>_complex_types.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Path to a .msco container file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "outdir",
				Aliases: []string{"o"},
				Usage:   "Output directory for view files",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Artifact name prefix",
				Value: "burrow",
			},
			&cli.StringFlag{
				Name:  "views",
				Usage: "Comma-separated view subset (default: all)",
			},
			&cli.Uint64Flag{
				Name:  "created-at",
				Usage: "Fix the view metadata timestamp (ns) for reproducible output",
			},
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	var views []string
	if raw := c.String("views"); raw != "" {
		for _, v := range strings.Split(raw, ",") {
			views = append(views, strings.TrimSpace(v))
		}
	}

	createdAt := c.Uint64("created-at")
	if createdAt == 0 {
		createdAt = uint64(time.Now().UnixNano())
	}

	opts := convert.Options{
		Prefix:    c.String("prefix"),
		CreatedAt: createdAt,
		Views:     views,
	}
	if err := convert.ConvertFile(c.Context, c.String("input"), c.String("outdir"), opts); err != nil {
		return cli.Exit(fmt.Sprintf("convert failed: %v", err), exitIOError)
	}
	return nil
}
