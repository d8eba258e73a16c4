package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/burrow/binfmt"
	"github.com/pithecene-io/burrow/cli/cmd"
	"github.com/pithecene-io/burrow/types"
)

func writeContainer(t *testing.T) string {
	t.Helper()
	payload := &binfmt.Payload{
		Events: []types.EventRecord{
			{TaskOrThreadID: 1, Ptr: 0x1000, Size: 64, Timestamp: 100, Kind: types.EventKindAllocation, Fingerprint: 5, Seq: 1},
		},
		Frequency: []types.CallSiteStats{
			{Fingerprint: 5, Count: 1, TotalBytes: 64, RepresentativeName: "x", RepresentativeType: "int"},
		},
	}
	var buf bytes.Buffer
	opts := binfmt.WriteOptions{CreatedAtNs: 1, TotalEvents: 1}
	if _, err := binfmt.Write(&buf, payload, opts); err != nil {
		t.Fatalf("write container: %v", err)
	}
	path := filepath.Join(t.TempDir(), "profile.msco")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func newApp() *cli.App {
	return &cli.App{
		// No-op handler: Run returns cli.Exit errors instead of
		// terminating the test process.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			cmd.ConvertCommand(),
			cmd.StatsCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand("test"),
		},
	}
}

func TestConvertCommand_WritesViews(t *testing.T) {
	input := writeContainer(t)
	outdir := t.TempDir()

	app := newApp()
	err := app.Run([]string{"burrow", "convert",
		"--input", input,
		"--outdir", outdir,
		"--prefix", "p",
		"--created-at", "7",
	})
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	for _, view := range []string{"memory_analysis", "lifetime", "performance", "unsafe_boundary", "complex_types"} {
		if _, err := os.Stat(filepath.Join(outdir, "p_"+view+".json")); err != nil {
			t.Errorf("view %s not written: %v", view, err)
		}
	}
}

func TestConvertCommand_SubsetOfViews(t *testing.T) {
	input := writeContainer(t)
	outdir := t.TempDir()

	app := newApp()
	err := app.Run([]string{"burrow", "convert",
		"--input", input, "--outdir", outdir, "--prefix", "p",
		"--views", "performance", "--created-at", "7",
	})
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	entries, err := os.ReadDir(outdir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "p_performance.json" {
		t.Errorf("expected only the performance view, got %v", entries)
	}
}

func TestStatsCommand_ParsesContainer(t *testing.T) {
	input := writeContainer(t)
	app := newApp()
	if err := app.Run([]string{"burrow", "stats", "--input", input}); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
}

func TestStatsCommand_MissingFile(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"burrow", "stats", "--input", "/does/not/exist.msco"})
	if err == nil {
		t.Fatal("expected failure for missing file")
	}
	exitCoder, ok := err.(cli.ExitCoder)
	if !ok || exitCoder.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %v", err)
	}
}

func TestInspectCommand_FilterByPtr(t *testing.T) {
	input := writeContainer(t)
	app := newApp()
	if err := app.Run([]string{"burrow", "inspect", "--input", input, "--ptr", "0x1000"}); err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if err := app.Run([]string{"burrow", "inspect", "--input", input, "--ptr", "zzz"}); err == nil {
		t.Fatal("expected failure for malformed pointer")
	}
}
