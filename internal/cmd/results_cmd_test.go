package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrid/sdssfit/internal/results"
)

// seedResultsDB creates a results database with one finished run holding a
// fitted row and a failed row, returning the db path and the run ID.
func seedResultsDB(t *testing.T) (string, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "results.db")
	store, err := results.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.BeginRun(ctx, "", "rvsfit 2.1")
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	rows := []*results.FitResult{
		{
			RunID:     run.ID,
			InputFile: "spec-15143-59205-111.fits",
			TargetID:  "111",
			Vrad:      42.5, VradErr: 1.2,
			Teff: 5200, Logg: 4.4, Feh: -0.3, Alpha: 0.1,
			Vsini: 3.5, Chisq: 1.08, SN: 25.1,
			Success:      true,
			DurationSecs: 12.5,
		},
		{
			RunID:        run.ID,
			InputFile:    "spec-15143-59205-222.fits",
			Success:      false,
			ErrorMessage: "rvsfit exited with code 3",
			DurationSecs: 2.0,
		},
	}
	if err := store.RecordRows(ctx, rows); err != nil {
		t.Fatalf("record rows: %v", err)
	}
	if err := store.FinishRun(ctx, run.ID, results.RunCounts{Total: 2, Fitted: 1, Failed: 1}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	return dbPath, run.ID
}

func TestResultsShow_RecentRuns(t *testing.T) {
	dbPath, runID := seedResultsDB(t)

	cmd := newResultsShowCommand()
	cmd.SetArgs([]string{"--db-path", dbPath})

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("show failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, runID[:8]) {
		t.Errorf("expected short run ID %s in listing, got: %s", runID[:8], output)
	}
	if !strings.Contains(output, "50%") {
		t.Errorf("expected 50%% success rate, got: %s", output)
	}
}

func TestResultsShow_RunByPrefix(t *testing.T) {
	dbPath, runID := seedResultsDB(t)

	cmd := newResultsShowCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--run", runID[:8]})

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("show --run failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "rvsfit 2.1") {
		t.Errorf("expected engine version, got: %s", output)
	}
	if !strings.Contains(output, "111") || !strings.Contains(output, "failed") {
		t.Errorf("expected fitted and failed rows, got: %s", output)
	}
}

func TestResultsShow_Target(t *testing.T) {
	dbPath, _ := seedResultsDB(t)

	cmd := newResultsShowCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--target", "111"})

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("show --target failed: %v", err)
	}

	if !strings.Contains(buf.String(), "Target 111: 1 recorded fit(s)") {
		t.Errorf("expected target history header, got: %s", buf.String())
	}
}

func TestResultsShow_RunAndTargetExclusive(t *testing.T) {
	dbPath, _ := seedResultsDB(t)

	cmd := newResultsShowCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--run", "abc", "--target", "111"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for --run with --target")
	}
}

func TestResultsStats(t *testing.T) {
	dbPath, _ := seedResultsDB(t)

	cmd := newResultsStatsCommand()
	cmd.SetArgs([]string{"--db-path", dbPath})

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Runs:           1") {
		t.Errorf("expected run count, got: %s", output)
	}
	if !strings.Contains(output, "50.0%") {
		t.Errorf("expected success rate, got: %s", output)
	}
	if !strings.Contains(output, "engine_exit") {
		t.Errorf("expected failure pattern, got: %s", output)
	}
}

func TestResultsExport_JSON(t *testing.T) {
	dbPath, runID := seedResultsDB(t)

	outFile := filepath.Join(t.TempDir(), "export.json")
	cmd := newResultsExportCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--run", runID, "--format", "json", "--output", outFile})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		t.Fatalf("exported file is not a JSON array: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 exported rows, got %d", len(rows))
	}
}

func TestResultsExport_BadFormat(t *testing.T) {
	dbPath, _ := seedResultsDB(t)

	cmd := newResultsExportCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "format") {
		t.Fatalf("expected format error, got: %v", err)
	}
}

func TestResultsClear_RunWithYes(t *testing.T) {
	dbPath, runID := seedResultsDB(t)

	cmd := newResultsClearCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--run", runID[:8], "--yes"})

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Deleted run") {
		t.Errorf("expected deletion report, got: %s", buf.String())
	}

	store, err := results.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	runs, err := store.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs left, got %d", len(runs))
	}
}

func TestResultsClear_AllPromptDeclined(t *testing.T) {
	dbPath, _ := seedResultsDB(t)

	cmd := newResultsClearCommand()
	cmd.SetArgs([]string{"--db-path", dbPath, "--all"})
	cmd.SetIn(strings.NewReader("no\n"))

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(buf.String(), "cancelled") {
		t.Errorf("expected cancellation message, got: %s", buf.String())
	}

	store, err := results.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	runs, err := store.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("declined clear should keep the run, got %d runs", len(runs))
	}
}

func TestResultsClear_RequiresRunOrAll(t *testing.T) {
	cmd := newResultsClearCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --run or --all")
	}
}
