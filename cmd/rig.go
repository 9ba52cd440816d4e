// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"

	"headset/internal/analysis"
	"headset/internal/audio"
	"headset/internal/config"
	applog "headset/internal/log"
	"headset/internal/sequencer"
	"headset/internal/transport"
	"headset/internal/transport/loopback"
	"headset/internal/transport/udp"
)

// simulatedNoiseFloor is the white noise added to every simulated mic, in LSB.
const simulatedNoiseFloor = 2

// rig is the assembled test station: transport, sequencer and the optional
// telemetry outputs. Resources are released in reverse order by Close.
type rig struct {
	cfg      *config.Config
	meter    *analysis.LevelMeter
	presence *sequencer.Presence
	seq      *sequencer.Sequencer
	recorder *audio.Recorder
	hub      *transport.WebSocketHub

	closers []func() error
}

type rigOptions struct {
	simulate bool
	record   bool
	hub      bool // Attach a websocket hub even if the config leaves it off.
}

func newRig(cfg *config.Config, opts rigOptions) (r *rig, err error) {
	r = &rig{
		cfg:      cfg,
		meter:    analysis.NewLevelMeter(),
		presence: sequencer.NewPresence(cfg.Presence.HeadsetConnected, cfg.Presence.IdentityReadable),
	}
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				applog.Warnf("Rig: cleanup after failed start: %v", cerr)
			}
			r = nil
		}
	}()

	var (
		capture  transport.CaptureSource
		playback transport.PlaybackSink
	)
	if opts.simulate {
		loop, err := loopback.New(loopback.Options{
			BlockSize:      cfg.Audio.BlockSize,
			Paths:          loopback.DefaultPaths(cfg.Audio.DelaySamples),
			NoiseAmplitude: simulatedNoiseFloor,
			Seed:           1,
			Meter:          r.meter,
		})
		if err != nil {
			return r, err
		}
		applog.Infof("Rig: using the simulated acoustic loop")
		capture, playback = loop, loop
	} else {
		if err := audio.Initialize(); err != nil {
			return r, err
		}
		r.closers = append(r.closers, audio.Terminate)

		engine, err := audio.NewEngine(cfg, r.meter)
		if err != nil {
			return r, err
		}
		if err := engine.Start(); err != nil {
			return r, fmt.Errorf("failed to start audio stream: %w", err)
		}
		r.closers = append(r.closers, engine.Close)
		capture, playback = engine, engine
	}

	statuses := transport.Statuses{transport.NewLogStatus()}
	if cfg.Transport.WebSocketEnabled || opts.hub {
		r.hub = transport.NewWebSocketHub()
		r.closers = append(r.closers, r.hub.Close)
		statuses = append(statuses, r.hub)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return r, err
		}
		r.closers = append(r.closers, sender.Close)
		publisher, err := udp.NewPublisher(cfg.Transport.UDPSendInterval, sender, r.meter)
		if err != nil {
			return r, err
		}
		publisher.Start()
		r.closers = append(r.closers, publisher.Close)
	}

	seqOpts := sequencer.Options{
		Config:   cfg,
		Capture:  capture,
		Playback: playback,
		Presence: r.presence,
		Status:   statuses,
		Levels:   r.meter,
	}
	if cfg.Recording.Enabled || opts.record {
		r.recorder = audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.BlockSize)
		r.closers = append(r.closers, r.recorder.Close)
		seqOpts.Tap = r.recorder
	}

	r.seq, err = sequencer.New(seqOpts)
	if err != nil {
		return r, err
	}
	return r, nil
}

// Close releases everything the rig opened, newest first.
func (r *rig) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
