// SPDX-License-Identifier: MIT
//
// Package loopback simulates the acoustic path of the test station: whatever
// is played on an output reaches the microphones after a fixed delay and
// gain. It implements the capture and playback collaborators of the core and
// backs both the package tests and the CLI --simulate mode.
package loopback

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/fault"
	"headset/internal/transport"
)

// Path is one acoustic coupling from a loudspeaker to a microphone.
type Path struct {
	From  transport.Output
	To    block.Channel
	Gain  float64 // Linear amplitude gain.
	Delay int     // Samples from playback to capture, at least one block.
}

// Options configures a Loop.
type Options struct {
	BlockSize      int
	Paths          []Path
	NoiseAmplitude int    // Peak of the white noise floor added to every mic, in LSB.
	Seed           uint64 // Seed of the noise floor.
	Meter          *analysis.LevelMeter
}

// DefaultPaths models a healthy headset on the fixture: each earpiece
// loudspeaker dominates its inner microphone and each calibration loudspeaker
// dominates the outer microphone on its side.
func DefaultPaths(delay int) []Path {
	return []Path{
		{From: transport.SpeakerLeft, To: block.IEML, Gain: 0.5, Delay: delay},
		{From: transport.SpeakerLeft, To: block.OEML, Gain: 0.05, Delay: delay},
		{From: transport.SpeakerRight, To: block.IEMR, Gain: 0.5, Delay: delay},
		{From: transport.SpeakerRight, To: block.OEMR, Gain: 0.05, Delay: delay},
		{From: transport.CalibratorLeft, To: block.OEML, Gain: 0.4, Delay: delay},
		{From: transport.CalibratorLeft, To: block.IEML, Gain: 0.02, Delay: delay},
		{From: transport.CalibratorRight, To: block.OEMR, Gain: 0.4, Delay: delay},
		{From: transport.CalibratorRight, To: block.IEMR, Gain: 0.02, Delay: delay},
	}
}

// Loop is a simulated audio interface. In automatic mode a new period of
// capture is produced whenever every microphone queue has been drained, so a
// consumer that keeps up never sees a backlog.
type Loop struct {
	mu        sync.Mutex
	blockSize int
	paths     []Path
	volume    float64
	armed     bool
	auto      bool

	lines     [transport.NumOutputs]*block.DelayLine
	submitted [transport.NumOutputs]bool
	played    [transport.NumOutputs]int
	pending   [transport.NumOutputs]block.Block

	queues  [block.NumMics][]block.Block
	free    []block.Block
	mix     []float64
	scratch block.Block

	noise   int
	rng     *rand.Rand
	meter   *analysis.LevelMeter
	periods int
}

// New builds a loop. Every path delay must be at least one block.
func New(opts Options) (*Loop, error) {
	if opts.BlockSize <= 0 {
		return nil, fault.Newf("loopback.new", fault.ErrBadConfig, "block size %d", opts.BlockSize)
	}

	maxLag := 0
	for _, p := range opts.Paths {
		if !p.From.Valid() || p.To < block.OEML || p.To > block.IEMR {
			return nil, fault.Newf("loopback.new", fault.ErrBadChannel, "path %s -> %s", p.From, p.To)
		}
		if p.Delay < opts.BlockSize {
			return nil, fault.Newf("loopback.new", fault.ErrBadConfig,
				"path %s -> %s delay %d shorter than a block", p.From, p.To, p.Delay)
		}
		maxLag = max(maxLag, p.Delay-opts.BlockSize)
	}

	l := &Loop{
		blockSize: opts.BlockSize,
		paths:     append([]Path(nil), opts.Paths...),
		volume:    1,
		armed:     true,
		auto:      true,
		mix:       make([]float64, opts.BlockSize),
		scratch:   make(block.Block, opts.BlockSize),
		noise:     opts.NoiseAmplitude,
		rng:       rand.New(rand.NewPCG(opts.Seed, ^opts.Seed)),
		meter:     opts.Meter,
	}
	for out := range l.lines {
		line, err := block.NewDelayLine(opts.BlockSize, maxLag)
		if err != nil {
			return nil, err
		}
		l.lines[out] = line
		l.pending[out] = make(block.Block, opts.BlockSize)
	}
	return l, nil
}

// Pending returns the number of captured blocks queued for ch.
func (l *Loop) Pending(ch block.Channel) int {
	if ch < block.OEML || ch > block.IEMR {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.auto && l.armed && l.drainedLocked() {
		l.tickLocked()
	}
	return len(l.queues[ch])
}

// TakeBlock moves the oldest captured block of ch into dst.
func (l *Loop) TakeBlock(ch block.Channel, dst block.Block) bool {
	if ch < block.OEML || ch > block.IEMR || len(dst) != l.blockSize {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[ch]
	if len(q) == 0 {
		return false
	}
	copy(dst, q[0])
	l.free = append(l.free, q[0])
	l.queues[ch] = q[1:]
	return true
}

// SubmitBlock queues b for playback on out during the next period. At most
// one block per output per period is accepted.
func (l *Loop) SubmitBlock(out transport.Output, b block.Block) error {
	if !out.Valid() {
		return fault.Newf("loopback.submit", fault.ErrBadChannel, "output %d", int(out))
	}
	if len(b) != l.blockSize {
		return fault.Newf("loopback.submit", fault.ErrBlockSize, "got %d, want %d", len(b), l.blockSize)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.submitted[out] {
		return fmt.Errorf("%s already holds a block for this period", out)
	}
	copy(l.pending[out], b)
	l.submitted[out] = true
	l.played[out]++
	return nil
}

// SetVolume scales every output, like a codec volume control.
func (l *Loop) SetVolume(v float64) {
	l.mu.Lock()
	l.volume = v
	l.mu.Unlock()
}

// Volume returns the current output volume.
func (l *Loop) Volume() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.volume
}

// Begin discards queued capture and starts producing again.
func (l *Loop) Begin() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.queues {
		for _, b := range l.queues[ch] {
			l.free = append(l.free, b)
		}
		l.queues[ch] = l.queues[ch][:0]
	}
	l.armed = true
}

// End stops producing capture.
func (l *Loop) End() {
	l.mu.Lock()
	l.armed = false
	l.mu.Unlock()
}

// SetAuto switches automatic production on or off. With it off, capture only
// advances on Tick.
func (l *Loop) SetAuto(auto bool) {
	l.mu.Lock()
	l.auto = auto
	l.mu.Unlock()
}

// Tick advances the simulated hardware by one period.
func (l *Loop) Tick() {
	l.mu.Lock()
	l.tickLocked()
	l.mu.Unlock()
}

// Inject queues n extra silent blocks on ch, as a stalled consumer would see.
func (l *Loop) Inject(ch block.Channel, n int) {
	if ch < block.OEML || ch > block.IEMR {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for range n {
		b := l.allocLocked()
		clear(b)
		l.queues[ch] = append(l.queues[ch], b)
	}
}

// Played returns the number of blocks submitted to out so far.
func (l *Loop) Played(out transport.Output) int {
	if !out.Valid() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.played[out]
}

// Periods returns the number of simulated periods.
func (l *Loop) Periods() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.periods
}

func (l *Loop) drainedLocked() bool {
	for _, q := range l.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

func (l *Loop) allocLocked() block.Block {
	if n := len(l.free); n > 0 {
		b := l.free[n-1]
		l.free = l.free[:n-1]
		return b
	}
	return make(block.Block, l.blockSize)
}

// tickLocked plays the submitted blocks (silence elsewhere) and captures one
// block per microphone.
func (l *Loop) tickLocked() {
	for out, line := range l.lines {
		if !l.submitted[out] {
			clear(l.pending[out])
		}
		// Lengths were checked at construction and submission.
		_ = line.Store(l.pending[out])
		l.submitted[out] = false
	}

	for _, ch := range block.Mics {
		clear(l.mix)
		for _, p := range l.paths {
			if p.To != ch {
				continue
			}
			// The newest stored block ends one period before this capture
			// block does, hence the block is taken off the lag.
			_ = l.lines[p.From].Delayed(l.scratch, p.Delay-l.blockSize)
			g := p.Gain * l.volume
			for i, s := range l.scratch {
				l.mix[i] += g * float64(s)
			}
		}

		out := l.allocLocked()
		for i, v := range l.mix {
			if l.noise > 0 {
				v += float64(l.rng.IntN(2*l.noise+1) - l.noise)
			}
			out[i] = saturate(v)
		}
		if l.meter != nil {
			l.meter.Observe(ch, out)
		}
		l.queues[ch] = append(l.queues[ch], out)
	}
	l.periods++
}

func saturate(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

var (
	_ transport.CaptureSource = (*Loop)(nil)
	_ transport.PlaybackSink  = (*Loop)(nil)
	_ transport.GainControl   = (*Loop)(nil)
	_ transport.QueueControl  = (*Loop)(nil)
)
