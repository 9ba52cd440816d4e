// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"headset/internal/config"
	"headset/internal/sequencer"
	"headset/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *Options
		wantErr bool
	}{
		{
			name: "list",
			args: []string{"list"},
			want: &Options{Command: CommandList},
		},
		{
			name: "run several tests",
			args: []string{"run", "0", "test2a", "leak", "--simulate", "-o", "report.json", "--record"},
			want: &Options{
				Command:    CommandRun,
				Tests:      []sequencer.TestType{sequencer.Loopback, sequencer.Calibrator, sequencer.Leak},
				Simulate:   true,
				Record:     true,
				ReportPath: "report.json",
			},
		},
		{
			name: "tone by name",
			args: []string{"-c", "rig.yaml", "tone", "cal_l", "-v"},
			want: &Options{Command: CommandTone, Output: transport.CalibratorLeft, ConfigPath: "rig.yaml", Verbose: true},
		},
		{
			name: "serve",
			args: []string{"serve", "-s"},
			want: &Options{Command: CommandServe, Simulate: true},
		},
		{name: "unknown test", args: []string{"run", "7"}, wantErr: true},
		{name: "run without test", args: []string{"run"}, wantErr: true},
		{name: "unknown output", args: []string{"tone", "mic"}, wantErr: true},
		{name: "stray argument", args: []string{"list", "extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgsHelpHasNoCommand(t *testing.T) {
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer devNull.Close()
	stdout := os.Stdout
	os.Stdout = devNull
	defer func() { os.Stdout = stdout }()

	got, err := ParseArgs([]string{"--help"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func shortConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Timing.PrimingSeconds = 1
	cfg.Timing.MeasureSeconds = 1
	cfg.Timing.LeakSeconds = 1
	cfg.Timing.ToneSeconds = 1
	cfg.Recording.OutputDir = t.TempDir()
	return cfg
}

func TestExecuteRunSimulated(t *testing.T) {
	cfg := shortConfig(t)
	reportPath := filepath.Join(t.TempDir(), "report.json")
	opts := &Options{
		Command:    CommandRun,
		Tests:      []sequencer.TestType{sequencer.Loopback, sequencer.Leak},
		Simulate:   true,
		Record:     true,
		ReportPath: reportPath,
	}

	require.NoError(t, Execute(context.Background(), opts, cfg))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var reports []struct {
		Result struct {
			Test string `json:"test"`
		} `json:"result"`
		Curves []json.RawMessage `json:"curves"`
	}
	require.NoError(t, json.Unmarshal(data, &reports))
	require.Len(t, reports, 2)
	assert.Equal(t, "test0", reports[0].Result.Test)
	assert.Equal(t, "test3", reports[1].Result.Test)
	assert.Len(t, reports[1].Curves, 4)

	wavs, err := filepath.Glob(filepath.Join(cfg.Recording.OutputDir, "*.wav"))
	require.NoError(t, err)
	assert.Len(t, wavs, 2)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	cfg := shortConfig(t)
	reportPath := filepath.Join(t.TempDir(), "report.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := &Options{Command: CommandRun, Tests: []sequencer.TestType{sequencer.Loopback}, Simulate: true, ReportPath: reportPath}
	require.NoError(t, Execute(ctx, opts, cfg))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(data))
}

func TestExecuteToneSimulated(t *testing.T) {
	opts := &Options{Command: CommandTone, Output: transport.SpeakerRight, Simulate: true}
	assert.NoError(t, Execute(context.Background(), opts, shortConfig(t)))
}

func TestExecuteMonitorRejectsSimulation(t *testing.T) {
	opts := &Options{Command: CommandMonitor, Simulate: true}
	assert.Error(t, Execute(context.Background(), opts, shortConfig(t)))
}
