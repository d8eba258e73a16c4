package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/cli/tui"
	"github.com/pithecene-io/burrow/types"
)

// InspectCommand returns the inspect command: the variable registry of
// one container, browsable or as JSON.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Browse the variable registry of a container",
		Flags: append(inputFlags(),
			tuiFlag(),
			&cli.BoolFlag{
				Name:  "live",
				Usage: "Only show live allocations",
			},
			&cli.StringFlag{
				Name:  "ptr",
				Usage: "Show a single record by hex pointer (e.g. 0x1000)",
			},
		),
		Action: inspectAction,
	}
}

// inspectRecord is the JSON shape of one registry record.
type inspectRecord struct {
	Ptr          string                `json:"ptr"`
	Size         uint64                `json:"size"`
	AllocatedAt  uint64                `json:"allocated_at"`
	FreedAt      *uint64               `json:"freed_at,omitempty"`
	Live         bool                  `json:"live"`
	Leaked       bool                  `json:"leaked"`
	VariableName string                `json:"variable_name,omitempty"`
	TypeName     string                `json:"type_name,omitempty"`
	ScopeID      *uint32               `json:"scope_id,omitempty"`
	Borrow       *types.BorrowInfo     `json:"borrow,omitempty"`
	Clone        *types.CloneInfo      `json:"clone,omitempty"`
	Passport     *types.MemoryPassport `json:"passport,omitempty"`
}

func inspectAction(c *cli.Context) error {
	parsed, path, err := openContainer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		if err := tui.RunInspect(path, parsed); err != nil {
			return cli.Exit(fmt.Sprintf("tui failed: %v", err), exitIOError)
		}
		return nil
	}

	var filterPtr uint64
	if raw := c.String("ptr"); raw != "" {
		if _, err := fmt.Sscanf(raw, "0x%x", &filterPtr); err != nil {
			return cli.Exit(fmt.Sprintf("invalid pointer %q", raw), exitConfigError)
		}
	}

	out := make([]inspectRecord, 0, len(parsed.Payload.Registry))
	for i := range parsed.Payload.Registry {
		r := &parsed.Payload.Registry[i]
		if c.Bool("live") && !r.Live() {
			continue
		}
		if filterPtr != 0 && r.Ptr != filterPtr {
			continue
		}
		out = append(out, inspectRecord{
			Ptr:          fmt.Sprintf("0x%x", r.Ptr),
			Size:         r.Size,
			AllocatedAt:  r.AllocatedAt,
			FreedAt:      r.FreedAt,
			Live:         r.Live(),
			Leaked:       r.IsLeaked,
			VariableName: r.VariableName,
			TypeName:     r.TypeName,
			ScopeID:      r.ScopeID,
			Borrow:       r.Borrow,
			Clone:        r.Clone,
			Passport:     r.Passport,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
