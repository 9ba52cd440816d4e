// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"headset/internal/sequencer"
	"headset/internal/transport"
	"headset/pkg/build"

	"github.com/spf13/cobra"
)

// Command names.
const (
	CommandList    = "list"
	CommandDevices = "devices"
	CommandRun     = "run"
	CommandTone    = "tone"
	CommandMonitor = "monitor"
	CommandServe   = "serve"
)

// Options is the parsed command line.
type Options struct {
	Command    string
	Tests      []sequencer.TestType // run
	Output     transport.Output     // tone
	ConfigPath string
	Verbose    bool
	Simulate   bool
	Record     bool
	ReportPath string // JSON report of run, "-" for stdout.
}

// ParseArgs parses args (without the program name). It returns nil options
// when cobra handled the invocation itself, e.g. --help or --version.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandDevices,
		Short: "Pick the fixture audio interface interactively",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandDevices
		},
	})

	runCmd := &cobra.Command{
		Use:   CommandRun + " <test>...",
		Short: "Run production tests (0, 1, 2a, 2b, 3) in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				t, err := sequencer.ParseTestType(arg)
				if err != nil {
					return err
				}
				options.Tests = append(options.Tests, t)
			}
			options.Command = CommandRun
			return nil
		},
	}
	runCmd.Flags().StringVarP(&options.ReportPath, "output", "o", "",
		"Write the JSON report of every run to this file ('-' for stdout)")
	runCmd.Flags().BoolVarP(&options.Record, "record", "r", false,
		"Record the aligned analysis blocks of every run to WAV")
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandTone + " <output>",
		Short: "Play the debug tone on one output (SPK_L, SPK_R, CAL_L, CAL_R or 0-3)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := transport.ParseOutput(args[0])
			if err != nil {
				return err
			}
			options.Output = out
			options.Command = CommandTone
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandMonitor,
		Short: "Show live microphone levels",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandMonitor
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandServe,
		Short: "Serve the HTTP control API, the websocket feed and UDP level telemetry",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandServe
		},
	})

	rootCmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "c", "",
		"Path to config.yaml (default: ./config.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&options.Simulate, "simulate", "s", false,
		"Use the simulated acoustic loop instead of the audio interface")
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, fmt.Errorf("%w (see '%s --help')", err, buildInfo.Name)
	}
	if options.Command == "" {
		return nil, nil
	}
	return options, nil
}
