// SPDX-License-Identifier: MIT
//
// Package sequencer runs the production tests. A run gates on headset
// presence, primes the block pipeline with accumulation off so that playback
// already in flight reaches the microphones, then measures for a fixed number
// of analysis windows. Exactly one run is active at a time, and a fault halts
// the sequencer for good.
package sequencer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/config"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/internal/noise"
	"headset/internal/pipeline"
	"headset/internal/transport"
)

const (
	noiseAmplitude = 0.5 // Peak of the pink reference, fraction of full scale.
	toneAmplitude  = 0.5
	defaultSeed    = 0x5eed
)

// plan is the fixed recipe of one test type.
type plan struct {
	route     pipeline.Route
	gated     bool
	leak      bool // Leak timing and volume.
	positions []string
}

var plans = map[TestType]plan{
	Loopback:   {route: pipeline.RouteMain, positions: []string{"OEM_L", "OEM_R"}},
	Speaker:    {route: pipeline.RouteMain, gated: true, positions: []string{"IEM_L", "IEM_R"}},
	Calibrator: {route: pipeline.RouteCalibrator, gated: true, positions: []string{"OEM_L", "OEM_R", "IEM_L", "IEM_R"}},
	SpeakerB:   {route: pipeline.RouteMain, gated: true, positions: []string{"IEM_L", "IEM_R"}},
	Leak:       {route: pipeline.RouteCalibrator, gated: true, leak: true, positions: []string{"L", "R"}},
}

// Options wires a Sequencer to its collaborators. Capture, Playback and
// Presence are required.
type Options struct {
	Config   *config.Config
	Capture  transport.CaptureSource
	Playback transport.PlaybackSink
	Presence transport.PresenceProvider
	Status   transport.StatusSink  // Optional.
	Levels   transport.LevelSource // Optional, backs Levels.
	Tap      pipeline.Tap          // Optional, sees every measuring cycle.
	Source   noise.Source          // Optional reference signal, pink noise by default.
}

// Sequencer owns the accumulators and analysis windows. All methods are safe
// for concurrent use; they serialize on one lock, so queries only ever see
// completed runs.
type Sequencer struct {
	mu sync.Mutex

	cfg       *config.Config
	capture   transport.CaptureSource
	playback  transport.PlaybackSink
	presence  transport.PresenceProvider
	status    transport.StatusSink
	levels    transport.LevelSource
	source    noise.Source
	reference *noise.Reference
	transform *analysis.SpectralTransform
	acc       *analysis.Accumulator
	pipeline  *pipeline.Pipeline

	state State
	halt  error
}

// New builds a sequencer from a validated configuration.
func New(opts Options) (*Sequencer, error) {
	if opts.Config == nil || opts.Capture == nil || opts.Playback == nil || opts.Presence == nil {
		return nil, fault.Newf("sequencer.new", fault.ErrNilBuffer, "missing collaborator")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	windowFunc, err := analysis.ParseWindowFunc(cfg.Audio.FFTWindow)
	if err != nil {
		return nil, fault.Newf("sequencer.new", fault.ErrBadConfig, "%v", err)
	}
	transform, err := analysis.NewSpectralTransform(cfg.Audio.FFTSize, cfg.Audio.SampleRate, windowFunc)
	if err != nil {
		return nil, err
	}
	acc := analysis.NewAccumulator(cfg.Audio.FFTSize)

	source := opts.Source
	if source == nil {
		source = noise.NewPink(defaultSeed, noiseAmplitude)
	}
	reference, err := noise.NewReference(source, cfg.Audio.BlockSize, cfg.Audio.DelaySamples)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		BlockSize:    cfg.Audio.BlockSize,
		FFTSize:      cfg.Audio.FFTSize,
		DelaySamples: cfg.Audio.DelaySamples,
		ReadyBlocks:  cfg.Audio.ReadyBlocks,
		MaxBacklog:   cfg.Audio.MaxBacklog,
		StallTimeout: cfg.Timing.StallTimeout,
	}, opts.Capture, opts.Playback, reference, transform, acc)
	if err != nil {
		return nil, err
	}
	p.SetTap(opts.Tap)

	status := opts.Status
	if status == nil {
		status = transport.Statuses(nil)
	}

	applog.Debugf("Sequencer: fft %d, block %d, delay %d, window %s",
		cfg.Audio.FFTSize, cfg.Audio.BlockSize, cfg.Audio.DelaySamples, windowFunc)

	s := &Sequencer{
		cfg:       cfg,
		capture:   opts.Capture,
		playback:  opts.Playback,
		presence:  opts.Presence,
		status:    status,
		levels:    opts.Levels,
		source:    source,
		reference: reference,
		transform: transform,
		acc:       acc,
		pipeline:  p,
	}
	s.status.Notify(transport.StatusIdle)
	return s, nil
}

// RunLoopback runs test 0. It needs no headset.
func (s *Sequencer) RunLoopback() (*Result, error) { return s.Run(Loopback) }

// RunSpeaker runs test 1.
func (s *Sequencer) RunSpeaker() (*Result, error) { return s.Run(Speaker) }

// RunCalibrator runs test 2A.
func (s *Sequencer) RunCalibrator() (*Result, error) { return s.Run(Calibrator) }

// RunSpeakerB runs test 2B.
func (s *Sequencer) RunSpeakerB() (*Result, error) { return s.Run(SpeakerB) }

// RunLeak runs test 3.
func (s *Sequencer) RunLeak() (*Result, error) { return s.Run(Leak) }

// Run executes test t. A failed gate is not an error: the returned Result
// carries the outcome and the accumulators keep the previous measurement. An
// error is always a fault, after which the sequencer is halted.
func (s *Sequencer) Run(t TestType) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(t)
}

// Measure runs test t and evaluates every curve before the lock is released,
// so the curves always belong to the returned Result. A run that did not
// succeed carries no curves.
func (s *Sequencer) Measure(t TestType) (*Result, []*analysis.TransferFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.run(t)
	if err != nil || !res.OK() {
		return res, nil, err
	}

	curves := make([]*analysis.TransferFunction, 0, analysis.NumCurves)
	for c := analysis.CurveOEML; c <= analysis.CurveIEMR; c++ {
		tf, err := analysis.Evaluate(s.acc, c)
		if errors.Is(err, analysis.ErrNoMeasurement) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		curves = append(curves, tf)
	}
	return res, curves, nil
}

// run executes test t. Callers hold s.mu.
func (s *Sequencer) run(t TestType) (*Result, error) {
	p, ok := plans[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTest, t)
	}

	if s.halt != nil {
		return nil, s.halt
	}

	res := newResult(t, p.positions)
	started := time.Now()

	if p.gated {
		s.state = Gating
		if o := s.gate(); o != OutcomeSuccess {
			res.fill(o)
			s.state = Aborted
			applog.Warnf("Sequencer: %s aborted: %s", t, o)
			return res, nil
		}
	}

	measure, volume := s.cfg.Timing.MeasureSeconds, s.cfg.Volume.Default
	if p.leak {
		measure, volume = s.cfg.Timing.LeakSeconds, s.cfg.Volume.Leak
	}
	if gc, ok := s.playback.(transport.GainControl); ok {
		gc.SetVolume(volume)
	}

	s.status.Notify(transport.StatusBusy)
	err := s.session(func() error {
		s.state = Priming
		s.acc.ResetAll()
		s.pipeline.Reset()
		if err := s.pipeline.Run(p.route, s.cfg.Windows(s.cfg.Timing.PrimingSeconds), false); err != nil {
			return err
		}

		s.state = Measuring
		applog.Infof("Sequencer: running %s for %d seconds", t, measure)
		return s.pipeline.Run(p.route, s.cfg.Windows(measure), true)
	})
	if err != nil {
		return nil, s.fail(err)
	}
	s.status.Notify(transport.StatusIdle)

	s.state = Done
	res.Windows = s.acc.Frames(block.Reference)
	res.Elapsed = time.Since(started)
	applog.Infof("Sequencer: %s done, %d windows in %s", t, res.Windows, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// PlayTone plays the debug sine on out for the configured duration with
// analysis off. It shares the run mechanics, so the previous measurement is
// discarded.
func (s *Sequencer) PlayTone(out transport.Output) error {
	if !out.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownOutput, int(out))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halt != nil {
		return s.halt
	}

	tone := noise.NewTone(s.cfg.Timing.ToneFrequency, s.cfg.Audio.SampleRate, toneAmplitude)
	s.reference.SetSource(tone)
	defer s.reference.SetSource(s.source)

	applog.Infof("Sequencer: playing %.0f Hz on %s for %d seconds", tone.Frequency(), out, s.cfg.Timing.ToneSeconds)
	s.status.Notify(transport.StatusBusy)
	err := s.session(func() error {
		s.state = Measuring
		s.acc.ResetAll()
		s.pipeline.Reset()
		return s.pipeline.Run(pipeline.RouteTo(out), s.cfg.Windows(s.cfg.Timing.ToneSeconds), false)
	})
	if err != nil {
		return s.fail(err)
	}
	s.status.Notify(transport.StatusIdle)
	s.state = Done
	return nil
}

// TransferFunction evaluates curve over the last completed run.
func (s *Sequencer) TransferFunction(curve analysis.Curve) (*analysis.TransferFunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halt != nil {
		return nil, s.halt
	}
	return analysis.Evaluate(s.acc, curve)
}

// Levels returns the instantaneous level of all four microphones in dBFS,
// or false when any is not ready or no level source is attached.
func (s *Sequencer) Levels() (analysis.Levels, bool) {
	s.mu.Lock()
	halted := s.halt != nil
	s.mu.Unlock()

	if halted || s.levels == nil {
		return analysis.Levels{}, false
	}
	return s.levels.ReadAll()
}

// State returns the state reached by the last run.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fault that halted the sequencer, if any.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halt
}

// BinFrequency returns the centre frequency of transfer function bin i.
func (s *Sequencer) BinFrequency(i int) float64 {
	return s.transform.BinFrequency(i)
}

// BinSpacing returns the width of one bin in Hz.
func (s *Sequencer) BinSpacing() float64 {
	return s.cfg.Audio.SampleRate / float64(s.cfg.Audio.FFTSize)
}

// gate reads the presence flags once.
func (s *Sequencer) gate() Outcome {
	switch {
	case !s.presence.HeadsetConnected():
		return OutcomeNoHeadset
	case !s.presence.IdentityReadable():
		return OutcomeNoIdentity
	default:
		return OutcomeSuccess
	}
}

// session arms the capture queues around fn and pins the goroutine to its
// thread while the pipeline spins.
func (s *Sequencer) session(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if qc, ok := s.capture.(transport.QueueControl); ok {
		qc.Begin()
		defer qc.End()
	}
	return fn()
}

// fail latches the sequencer into Halted. Callers hold s.mu.
func (s *Sequencer) fail(err error) error {
	if !fault.IsFatal(err) {
		err = fault.New("sequencer.run", err)
	}
	s.halt = err
	s.state = Halted
	applog.Errorf("Sequencer: halted: %v", err)
	s.status.Notify(transport.StatusFault)
	return err
}
