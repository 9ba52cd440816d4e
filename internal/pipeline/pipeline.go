// SPDX-License-Identifier: MIT
//
// Package pipeline is the capture/playback rate matcher. Each cycle moves one
// block per microphone out of the capture queues, one reference block out to
// the loudspeakers and, once a full window has been assembled, one spectrum
// per path into the accumulator.
package pipeline

import (
	"runtime"
	"time"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/internal/transport"
)

// Config holds the constants of the block pipeline.
type Config struct {
	BlockSize    int
	FFTSize      int
	DelaySamples int // Lag of the correlated reference behind the played one.
	ReadyBlocks  int // Blocks every mic must hold before a cycle runs.
	MaxBacklog   int // Pending blocks on any mic beyond which the run halts.
	StallTimeout time.Duration
}

// Tap observes the five aligned blocks of every measuring cycle, in channel
// order. Blocks alias pipeline buffers and are only valid during the call.
type Tap interface {
	WriteCycle(blocks *[block.NumChannels]block.Block) error
}

// stallCheckEvery is the number of idle polls between watchdog clock reads.
const stallCheckEvery = 1024

// Pipeline owns the analysis windows of a run. It is driven by a single
// goroutine and is not safe for concurrent use.
type Pipeline struct {
	cfg       Config
	capture   transport.CaptureSource
	playback  transport.PlaybackSink
	generator transport.NoiseGenerator
	assembler *block.Assembler
	transform *analysis.SpectralTransform
	acc       *analysis.Accumulator
	tap       Tap

	blocks [block.NumChannels]block.Block // Mics, then the delayed reference.
	live   block.Block

	now func() time.Time
}

// New wires a pipeline. transform and acc must be sized to cfg.FFTSize.
func New(cfg Config, capture transport.CaptureSource, playback transport.PlaybackSink,
	generator transport.NoiseGenerator, transform *analysis.SpectralTransform, acc *analysis.Accumulator) (*Pipeline, error) {
	if capture == nil || playback == nil || generator == nil || transform == nil || acc == nil {
		return nil, fault.Newf("pipeline.new", fault.ErrNilBuffer, "missing collaborator")
	}
	if cfg.ReadyBlocks < 1 || cfg.MaxBacklog < cfg.ReadyBlocks {
		return nil, fault.Newf("pipeline.new", fault.ErrBadConfig,
			"ready %d, backlog %d", cfg.ReadyBlocks, cfg.MaxBacklog)
	}
	if cfg.DelaySamples < 0 {
		return nil, fault.Newf("pipeline.new", fault.ErrBadConfig, "delay %d", cfg.DelaySamples)
	}
	if transform.Size() != cfg.FFTSize || acc.Bins() != cfg.FFTSize/2 {
		return nil, fault.Newf("pipeline.new", fault.ErrBadConfig,
			"transform %d and accumulator %d bins do not match fft size %d", transform.Size(), acc.Bins(), cfg.FFTSize)
	}

	assembler, err := block.NewAssembler(cfg.BlockSize, cfg.FFTSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		capture:   capture,
		playback:  playback,
		generator: generator,
		assembler: assembler,
		transform: transform,
		acc:       acc,
		live:      make(block.Block, cfg.BlockSize),
		now:       time.Now,
	}
	for ch := range p.blocks {
		p.blocks[ch] = make(block.Block, cfg.BlockSize)
	}
	return p, nil
}

// SetTap installs t, or removes the tap when t is nil.
func (p *Pipeline) SetTap(t Tap) {
	p.tap = t
}

// Reset rewinds the assembler and the reference history. Accumulators are
// owned by the caller and are left alone.
func (p *Pipeline) Reset() {
	p.assembler.Reset()
	p.generator.Reset()
}

// Cycle runs one rate-matcher step. ran is false when some microphone does not
// hold ReadyBlocks blocks yet; window is true when the cycle completed an
// analysis window. When process is false completed windows are discarded.
func (p *Pipeline) Cycle(route Route, process bool) (ran, window bool, err error) {
	ready := true
	for _, ch := range block.Mics {
		n := p.capture.Pending(ch)
		if n > p.cfg.MaxBacklog {
			return false, false, fault.Newf("pipeline.cycle", fault.ErrQueueOverflow,
				"%s holds %d blocks, bound is %d", ch, n, p.cfg.MaxBacklog)
		}
		if n < p.cfg.ReadyBlocks {
			ready = false
		}
	}
	if !ready {
		return false, false, nil
	}

	for _, ch := range block.Mics {
		if !p.capture.TakeBlock(ch, p.blocks[ch]) {
			return false, false, fault.Newf("pipeline.cycle", fault.ErrNilBuffer, "pending %s block vanished", ch)
		}
	}

	if err := p.generator.NextBlock(p.live); err != nil {
		return false, false, err
	}
	if err := p.generator.DelayedBlock(p.blocks[block.Reference], p.cfg.DelaySamples); err != nil {
		return false, false, err
	}

	// Play the live block, correlate against the delayed one.
	for out := transport.SpeakerLeft; out <= transport.CalibratorRight; out++ {
		if !route.Has(out) {
			continue
		}
		if err := p.playback.SubmitBlock(out, p.live); err != nil {
			if fault.IsFatal(err) {
				return false, false, err
			}
			return false, false, fault.Newf("pipeline.cycle", fault.ErrPlayback, "%s: %v", out, err)
		}
	}

	for ch, b := range p.blocks {
		if err := p.assembler.Ingest(block.Channel(ch), b); err != nil {
			return false, false, err
		}
	}

	if process && p.tap != nil {
		if err := p.tap.WriteCycle(&p.blocks); err != nil {
			applog.Errorf("Pipeline: tap failed, recording stopped: %v", err)
			p.tap = nil
		}
	}

	complete, err := p.assembler.Commit()
	if err != nil {
		return false, false, err
	}
	if !complete {
		return true, false, nil
	}

	if process {
		if err := p.processWindows(); err != nil {
			return false, false, err
		}
	}
	p.assembler.Consume()
	return true, true, nil
}

// processWindows transforms and accumulates all five windows in channel order.
func (p *Pipeline) processWindows() error {
	for ch := block.OEML; ch <= block.Reference; ch++ {
		spectrum, err := p.transform.Transform(p.assembler.Window(ch))
		if err != nil {
			return err
		}
		if err := p.acc.Accumulate(ch, spectrum); err != nil {
			return err
		}
	}
	return nil
}

// Run polls Cycle until windows analysis windows have completed. The poll
// spins without sleeping, yielding the processor between empty polls; the
// capture side signals nothing, blocks simply appear. With a StallTimeout set,
// a run that sees no cycle for that long halts with ErrCaptureStalled.
func (p *Pipeline) Run(route Route, windows int, process bool) error {
	last := p.now()
	idle := 0

	for windows > 0 {
		ran, window, err := p.Cycle(route, process)
		if err != nil {
			return err
		}
		if window {
			windows--
		}
		if ran {
			idle = 0
			if p.cfg.StallTimeout > 0 {
				last = p.now()
			}
			continue
		}

		idle++
		if p.cfg.StallTimeout > 0 && idle%stallCheckEvery == 0 {
			if since := p.now().Sub(last); since > p.cfg.StallTimeout {
				return fault.Newf("pipeline.run", fault.ErrCaptureStalled,
					"no block for %s with %d windows left", since.Round(time.Millisecond), windows)
			}
		}
		runtime.Gosched()
	}
	return nil
}

// BlocksPerWindow returns the number of cycles per analysis window.
func (p *Pipeline) BlocksPerWindow() int {
	return p.assembler.BlocksPerWindow()
}
