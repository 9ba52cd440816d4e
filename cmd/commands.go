// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"headset/internal/audio"
	"headset/internal/config"
	applog "headset/internal/log"
	"headset/internal/station"
	"headset/internal/tui"

	"gopkg.in/yaml.v3"
)

// Execute runs the parsed command. A fault error means the station halted and
// the process must exit non-zero.
func Execute(ctx context.Context, opts *Options, cfg *config.Config) error {
	switch opts.Command {
	case CommandList:
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
		return audio.ListDevices()
	case CommandDevices:
		return pickDevices(os.Stdout, cfg)
	case CommandRun:
		return runTests(ctx, opts, cfg)
	case CommandTone:
		return withRig(cfg, rigOptions{simulate: opts.Simulate}, func(r *rig) error {
			return r.seq.PlayTone(opts.Output)
		})
	case CommandMonitor:
		if opts.Simulate {
			// The simulated loop only advances while a run drains it.
			return errors.New("monitor needs the audio interface, --simulate is not supported")
		}
		return withRig(cfg, rigOptions{}, func(r *rig) error {
			return tui.StartLevelsUI(r.meter, cfg.Transport.UDPSendInterval)
		})
	case CommandServe:
		return serve(ctx, opts, cfg)
	default:
		return fmt.Errorf("unknown command %q", opts.Command)
	}
}

func withRig(cfg *config.Config, opts rigOptions, fn func(*rig) error) (err error) {
	r, err := newRig(cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			applog.Errorf("Rig: close: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(r)
}

// pickDevices runs the device TUI and prints the chosen assignment as a
// config.yaml fragment.
func pickDevices(w io.Writer, cfg *config.Config) error {
	selection, err := tui.StartDeviceListUI()
	if err != nil {
		return err
	}
	if !selection.Confirmed {
		return nil
	}

	fragment := struct {
		Audio config.AudioConfig `yaml:"audio"`
	}{cfg.Audio}
	fragment.Audio.InputDevice = selection.InputDevice
	fragment.Audio.OutputDevice = selection.OutputDevice
	fragment.Audio.SampleRate = selection.SampleRate

	out, err := yaml.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("failed to encode device selection: %w", err)
	}
	fmt.Fprintf(w, "# Paste into config.yaml\n%s", out)
	return nil
}

func runTests(ctx context.Context, opts *Options, cfg *config.Config) error {
	return withRig(cfg, rigOptions{simulate: opts.Simulate, record: opts.Record}, func(r *rig) error {
		if r.hub != nil {
			r.hub.ListenAndServe(cfg.Transport.WebSocketAddress)
		}
		ctl := station.NewController(r.seq, r.presence, publisherOf(r))

		var reports []*station.Report
		for _, t := range opts.Tests {
			if err := ctx.Err(); err != nil {
				applog.Warnf("Run: interrupted before %s", t)
				break
			}

			if r.recorder != nil {
				name := filepath.Join(cfg.Recording.OutputDir,
					fmt.Sprintf("%s-%s.wav", t, time.Now().UTC().Format("20060102-150405")))
				if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
					return fmt.Errorf("failed to create recording directory: %w", err)
				}
				if err := r.recorder.StartRecording(name); err != nil {
					return err
				}
				applog.Infof("Run: recording %s to %s", t, name)
			}

			report, err := ctl.RunTest(t)
			if r.recorder != nil {
				if serr := r.recorder.StopRecording(); serr != nil {
					applog.Errorf("Run: closing recording: %v", serr)
				}
			}
			if err != nil {
				return err
			}

			if err := station.WriteText(os.Stdout, report); err != nil {
				return err
			}
			reports = append(reports, report)
		}

		return writeReports(opts.ReportPath, reports)
	})
}

// publisherOf avoids handing the controller a typed nil hub.
func publisherOf(r *rig) station.Publisher {
	if r.hub == nil {
		return nil
	}
	return r.hub
}

func writeReports(path string, reports []*station.Report) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if path == "-" {
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	applog.Infof("Run: report written to %s", path)
	return nil
}

// serve exposes the controller over HTTP until ctx is cancelled or the
// station faults. The fault is returned so the supervisor exits non-zero.
func serve(ctx context.Context, opts *Options, cfg *config.Config) error {
	return withRig(cfg, rigOptions{simulate: opts.Simulate, record: opts.Record, hub: true}, func(r *rig) error {
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		ctl := station.NewController(r.seq, r.presence, r.hub)
		ctl.OnFault(func(err error) { cancel(err) })

		mux := ctl.Handler()
		mux.Handle("/ws", r.hub.Handler())

		server := &http.Server{
			Addr:              cfg.Transport.WebSocketAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			applog.Infof("Serve: listening on %s", server.Addr)
			serveErr <- server.ListenAndServe()
		}()

		var err error
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
				err = cause
			}
		case err = <-serveErr:
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			applog.Warnf("Serve: shutdown: %v", serr)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return err
	})
}
