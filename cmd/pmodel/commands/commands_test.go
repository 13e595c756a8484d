package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/internal/orchestrator"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// execute runs the CLI with args and fresh flag values, returning stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// initRun scaffolds a run in a temp directory and returns its config path.
func initRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := execute(t, "init", dir, "--run-name", "cli-test", "--seed", "5")
	require.NoError(t, err)
	return filepath.Join(dir, "pmodel.yml")
}

// offerModel adds a model to the hiscore file at path and returns its id.
func offerModel(t *testing.T, path string, worker int, z, stopMass float64) string {
	t.Helper()
	m := protomodel.Baseline(protomodel.DefaultParticles)
	m.Masses[1000006] = stopMass
	m.Z = z
	m.Step = 3
	_, err := hiscore.NewStore(path, 10, time.Second).Offer(context.Background(), hiscore.NewEntry(m, worker))
	require.NoError(t, err)
	return m.Fingerprint()
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(ErrNothingToDo))
	assert.Equal(t, 2, ExitCode(fmt.Errorf("resubmit: %w", ErrNothingToDo)))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("boom")))
}

func TestParseWorkerRange(t *testing.T) {
	tests := []struct {
		in          string
		first, last int
		wantErr     bool
	}{
		{in: "4", first: 4, last: 4},
		{in: "0-15", first: 0, last: 15},
		{in: " 2 - 3 ", first: 2, last: 3},
		{in: "", wantErr: true},
		{in: "5-2", wantErr: true},
		{in: "a-b", wantErr: true},
		{in: "-3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			first, last, err := parseWorkerRange(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestSelectWorkers(t *testing.T) {
	jobs := []orchestrator.Job{{WorkerID: 0}, {WorkerID: 1, ResumeFrom: "a.json"}, {WorkerID: 2}}
	assert.Equal(t, []orchestrator.Job{{WorkerID: 1, ResumeFrom: "a.json"}, {WorkerID: 2}}, selectWorkers(jobs, []int{1, 2}))
	assert.Empty(t, selectWorkers(jobs, []int{7}))
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "pmodel")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
	assert.Equal(t, 1, ExitCode(err))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "pmodel.yml"), "walk")
	require.Error(t, err)
	assert.Equal(t, "configuration not found", err.Error())
}

func TestInit_RefusesToOverwrite(t *testing.T) {
	cfgPath := initRun(t)
	_, err := execute(t, "init", filepath.Dir(cfgPath))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run already initialized")

	_, err = execute(t, "init", filepath.Dir(cfgPath), "--force")
	assert.NoError(t, err)
}

func TestWalkThenStatus(t *testing.T) {
	cfgPath := initRun(t)
	runDir := filepath.Join(filepath.Dir(cfgPath), "output")

	_, err := execute(t, "--config", cfgPath, "walk", "--workers", "0-1", "--steps", "6")
	require.NoError(t, err)

	for _, id := range []int{0, 1} {
		snap, err := protomodel.ReadSnapshot(orchestrator.SnapshotPath(runDir, id))
		require.NoError(t, err)
		assert.Equal(t, 6, snap.Models[0].Step)
	}

	out, err := execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Walkers from "+runDir)
	assert.Contains(t, out, "2 walkers")
}

func TestWalk_BadResumeFailsBeforeStarting(t *testing.T) {
	cfgPath := initRun(t)
	bad := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))

	_, err := execute(t, "--config", cfgPath, "walk", "--resume", bad)
	require.Error(t, err)
	assert.Equal(t, "cannot resume", err.Error())

	_, statErr := os.Stat(filepath.Join(filepath.Dir(cfgPath), "output"))
	assert.True(t, os.IsNotExist(statErr), "no walker ran")
}

func TestStatus_NothingReported(t *testing.T) {
	cfgPath := initRun(t)
	_, err := execute(t, "--config", cfgPath, "status")
	assert.Equal(t, 2, ExitCode(err))
}

func TestConsolidateAndPrint(t *testing.T) {
	cfgPath := initRun(t)
	runDir := filepath.Join(filepath.Dir(cfgPath), "output")

	_, err := execute(t, "--config", cfgPath, "consolidate")
	assert.Equal(t, 2, ExitCode(err), "no worker files yet")

	offerModel(t, hiscore.WorkerPath(runDir, 0), 0, 1.25, 500)
	offerModel(t, hiscore.WorkerPath(runDir, 1), 1, 2.5, 650)

	_, err = execute(t, "--config", cfgPath, "consolidate", "--no-trim")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfgPath, "hiscore", "print", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "2 models found")
	assert.Contains(t, out, "max 2.500")

	out, err = execute(t, "hiscore", "print", "--file", hiscore.GlobalPath(runDir), "--top", "1", "--output", "jsonl")
	require.NoError(t, err)
	assert.Contains(t, out, `"Z":2.5`)
	assert.NotContains(t, out, `"Z":1.25`)

	_, err = execute(t, "hiscore", "print", "--file", hiscore.GlobalPath(runDir), "--output", "yaml")
	assert.Error(t, err)
}

func TestHiscorePrint_Filters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	offerModel(t, path, 0, 1.25, 500)
	offerModel(t, path, 1, 2.5, 650)

	out, err := execute(t, "hiscore", "print", "--file", path, "--worker", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "1 model found")

	out, err = execute(t, "hiscore", "print", "--file", path, "--min-z", "2", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "1 model found")

	out, err = execute(t, "hiscore", "print", "--file", path, "--until", "2000-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "No models found")

	_, err = execute(t, "hiscore", "print", "--file", path, "--since", "tomorrow")
	require.Error(t, err)
	assert.Equal(t, "invalid time filter", err.Error())
}

func TestHiscoreShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	id := offerModel(t, path, 2, 1.5, 500)

	out, err := execute(t, "hiscore", "show", id[:8], "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Model "+id)
	assert.Contains(t, out, "worker 2")
	assert.Contains(t, out, `"fingerprint": "`+id+`"`)

	_, err = execute(t, "hiscore", "show", "abc", "--file", path)
	require.Error(t, err)
	assert.Equal(t, "invalid model id", err.Error())

	_, err = execute(t, "hiscore", "show", "zzzzzzzz", "--file", path)
	require.Error(t, err)
	assert.Equal(t, "model not found", err.Error())
}

func TestHiscoreMerge(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	into := filepath.Join(dir, "merged.json")
	offerModel(t, a, 0, 1, 500)
	offerModel(t, b, 1, 2, 600)

	_, err := execute(t, "hiscore", "merge", a, b, filepath.Join(dir, "missing.json"), "--into", into)
	require.NoError(t, err)

	top, err := hiscore.NewStore(into, 10, time.Second).TopN(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 2.0, top[0].Z)
}

func TestResubmit_NothingMissing(t *testing.T) {
	cfgPath := initRun(t)
	runDir := filepath.Join(filepath.Dir(cfgPath), "output")
	offerModel(t, hiscore.WorkerPath(runDir, 0), 0, 1, 500)
	offerModel(t, hiscore.WorkerPath(runDir, 1), 1, 1, 500)

	_, err := execute(t, "--config", cfgPath, "resubmit", "--workers", "0-1")
	assert.Equal(t, 2, ExitCode(err))
}

func TestWatch_NoFeedConfigured(t *testing.T) {
	cfgPath := initRun(t)
	_, err := execute(t, "--config", cfgPath, "watch")
	require.Error(t, err)
	assert.Equal(t, "no step feed configured", err.Error())
}

func TestWatch_FileTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hiscore.json")
	offerModel(t, path, 0, 1, 500)

	_, err := execute(t, "watch", "--file", path, "--threshold", "5", "--timeout", "300ms")
	assert.Equal(t, 2, ExitCode(err))

	out, err := execute(t, "watch", "--file", path, "--threshold", "0.5", "--timeout", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "1 model found")
}
