// SPDX-License-Identifier: MIT
/*
Package audio drives the headset test fixture through PortAudio:
- One duplex stream, four microphone inputs and four loudspeaker outputs
- Bounded per-channel block queues between the stream callback and the measurement goroutine
- A level meter fed from every captured block
- WAV recording of the aligned analysis blocks

Thread Safety:
- The callback only touches pre-allocated buffers and the queue locks
- Volume and the armed flag are atomics
- Locks OS thread during audio processing
*/
package audio

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/config"
	"headset/internal/fault"
	applog "headset/internal/log"
	"headset/internal/transport"

	"github.com/gordonklaus/portaudio"
)

const (
	// captureQueueDepth leaves room past the backlog bound so the pipeline,
	// not the queue, notices a consumer that fell behind.
	captureQueueDepth  = 8
	playbackQueueDepth = 4
)

// inputChannels maps interleaved stream input channels to microphones, as
// wired on the fixture.
var inputChannels = [block.NumMics]block.Channel{block.OEMR, block.IEMR, block.OEML, block.IEML}

// outputChannels maps interleaved stream output channels to destinations.
var outputChannels = [transport.NumOutputs]transport.Output{
	transport.SpeakerLeft, transport.SpeakerRight, transport.CalibratorLeft, transport.CalibratorRight,
}

// Engine is the hardware transport. It satisfies transport.CaptureSource,
// transport.PlaybackSink, transport.GainControl and transport.QueueControl.
type Engine struct {
	// Core configuration and state.
	config    config.AudioConfig
	blockSize int

	// Stream handling.
	inputDevice   *portaudio.DeviceInfo
	outputDevice  *portaudio.DeviceInfo
	inputLatency  time.Duration
	outputLatency time.Duration
	stream        *portaudio.Stream

	// Queues between the callback and the pipeline.
	capture  [block.NumMics]*Queue
	playback [transport.NumOutputs]*Queue
	armed    atomic.Bool
	volume   atomic.Uint64 // math.Float64bits of the codec gain.

	meter *analysis.LevelMeter

	// Callback scratch, one block per stream channel.
	inScratch  [block.NumMics]block.Block
	outScratch [transport.NumOutputs]block.Block

	callbacks atomic.Uint64
	shortRuns atomic.Uint64 // Callbacks with an unexpected frame count.
}

// NewEngine resolves the configured devices and prepares the queues. PortAudio
// must be initialized. meter may be nil.
func NewEngine(cfg *config.Config, meter *analysis.LevelMeter) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}
	outputDevice, err := OutputDevice(cfg.Audio.OutputDevice)
	if err != nil {
		return nil, err
	}

	engine := newEngine(cfg.Audio, meter)
	engine.inputDevice = inputDevice
	engine.outputDevice = outputDevice

	if cfg.Audio.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
		engine.outputLatency = outputDevice.DefaultLowOutputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
		engine.outputLatency = outputDevice.DefaultHighOutputLatency
	}

	applog.Infof("Audio: input %q, output %q, %.0f Hz, %d frames per buffer",
		inputDevice.Name, outputDevice.Name, cfg.Audio.SampleRate, cfg.Audio.BlockSize)
	return engine, nil
}

// newEngine builds the device-independent part of an Engine.
func newEngine(cfg config.AudioConfig, meter *analysis.LevelMeter) *Engine {
	e := &Engine{
		config:    cfg,
		blockSize: cfg.BlockSize,
		meter:     meter,
	}
	for i := range e.capture {
		e.capture[i] = NewQueue(max(captureQueueDepth, cfg.MaxBacklog+1), cfg.BlockSize)
		e.inScratch[i] = make(block.Block, cfg.BlockSize)
	}
	for i := range e.playback {
		e.playback[i] = NewQueue(playbackQueueDepth, cfg.BlockSize)
		e.outScratch[i] = make(block.Block, cfg.BlockSize)
	}
	e.SetVolume(1)
	return e
}

// Start opens and starts the duplex stream.
func (e *Engine) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: block.NumMics,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: transport.NumOutputs,
			Device:   e.outputDevice,
			Latency:  e.outputLatency,
		},
		FramesPerBuffer: e.blockSize,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processStream)
	if err != nil {
		return err
	}
	e.stream = stream

	if err := e.stream.Start(); err != nil {
		e.stream.Close()
		e.stream = nil
		return err
	}

	return nil
}

// Stop stops and closes the stream.
func (e *Engine) Stop() error {
	if e.stream != nil {
		if err := e.stream.Stop(); err != nil {
			return err
		}

		if err := e.stream.Close(); err != nil {
			return err
		}

		e.stream = nil
	}

	return nil
}

// Close stops the stream and reports the queue statistics.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil {
		return err
	}
	var dropped uint64
	for _, q := range e.capture {
		dropped += q.Overflows()
	}
	applog.Debugf("Audio: %d callbacks, %d short, %d capture blocks dropped",
		e.callbacks.Load(), e.shortRuns.Load(), dropped)
	return nil
}

// Pending implements transport.CaptureSource.
func (e *Engine) Pending(ch block.Channel) int {
	if ch < block.OEML || ch > block.IEMR {
		return 0
	}
	return e.capture[ch].Pending()
}

// TakeBlock implements transport.CaptureSource.
func (e *Engine) TakeBlock(ch block.Channel, dst block.Block) bool {
	if ch < block.OEML || ch > block.IEMR || len(dst) != e.blockSize {
		return false
	}
	return e.capture[ch].Take(dst)
}

// SubmitBlock implements transport.PlaybackSink.
func (e *Engine) SubmitBlock(out transport.Output, b block.Block) error {
	if !out.Valid() {
		return fault.Newf("audio.submit", fault.ErrBadChannel, "output %d", int(out))
	}
	if len(b) != e.blockSize {
		return fault.Newf("audio.submit", fault.ErrBlockSize, "got %d samples, want %d", len(b), e.blockSize)
	}
	if !e.playback[out].Put(b) {
		return fault.Newf("audio.submit", fault.ErrPlayback, "%s queue full", out)
	}
	return nil
}

// SetVolume implements transport.GainControl. v is clamped to [0, 1].
func (e *Engine) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	e.volume.Store(math.Float64bits(v))
}

// Volume returns the current output gain.
func (e *Engine) Volume() float64 {
	return math.Float64frombits(e.volume.Load())
}

// Begin implements transport.QueueControl. Stale blocks are discarded and the
// capture queues start filling.
func (e *Engine) Begin() {
	for _, q := range e.capture {
		q.Clear()
	}
	for _, q := range e.playback {
		q.Clear()
	}
	e.armed.Store(true)
}

// End implements transport.QueueControl.
func (e *Engine) End() {
	e.armed.Store(false)
}

// processStream is the duplex stream callback. in and out are interleaved
// with one sample per channel per frame.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processStream(in, out []int16) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.callbacks.Add(1)
	if len(in) != e.blockSize*block.NumMics || len(out) != e.blockSize*transport.NumOutputs {
		e.shortRuns.Add(1)
		clear(out)
		return
	}

	e.processInput(in)
	e.processOutput(out)
}

func (e *Engine) processInput(in []int16) {
	const stride = block.NumMics
	armed := e.armed.Load()

	for c, ch := range inputChannels {
		dst := e.inScratch[c]
		for i := range dst {
			dst[i] = in[i*stride+c]
		}
		if e.meter != nil {
			e.meter.Observe(ch, dst)
		}
		if armed {
			e.capture[ch].Put(dst)
		}
	}
}

// processOutput plays one queued block per output scaled by the volume, or
// silence on outputs with nothing queued.
func (e *Engine) processOutput(out []int16) {
	const stride = transport.NumOutputs
	gain := e.Volume()

	for c, o := range outputChannels {
		src := e.outScratch[c]
		if !e.playback[o].Take(src) {
			for i := range src {
				out[i*stride+c] = 0
			}
			continue
		}
		for i, s := range src {
			out[i*stride+c] = int16(math.Round(float64(s) * gain))
		}
	}
}

var (
	_ transport.CaptureSource = (*Engine)(nil)
	_ transport.PlaybackSink  = (*Engine)(nil)
	_ transport.GainControl   = (*Engine)(nil)
	_ transport.QueueControl  = (*Engine)(nil)
)
