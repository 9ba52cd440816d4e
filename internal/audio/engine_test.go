// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"testing"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/config"
	"headset/internal/fault"
	"headset/internal/transport"
)

const engineBlock = 4

func newTestEngine(meter *analysis.LevelMeter) *Engine {
	return newEngine(config.AudioConfig{
		SampleRate: testSampleRate,
		BlockSize:  engineBlock,
		MaxBacklog: 2,
	}, meter)
}

// interleavedInput returns one callback of input where stream channel c
// carries c*100 + frame.
func interleavedInput() []int16 {
	in := make([]int16, engineBlock*block.NumMics)
	for i := range engineBlock {
		for c := range block.NumMics {
			in[i*block.NumMics+c] = int16(c*100 + i + 1)
		}
	}
	return in
}

func TestEngineDeinterleavesToMicrophones(t *testing.T) {
	engine := newTestEngine(nil)
	out := make([]int16, engineBlock*transport.NumOutputs)

	engine.Begin()
	engine.processStream(interleavedInput(), out)

	for c, ch := range inputChannels {
		if got := engine.Pending(ch); got != 1 {
			t.Fatalf("Pending(%s) = %d, want 1", ch, got)
		}
		dst := make(block.Block, engineBlock)
		if !engine.TakeBlock(ch, dst) {
			t.Fatalf("TakeBlock(%s) failed", ch)
		}
		for i, s := range dst {
			if want := int16(c*100 + i + 1); s != want {
				t.Errorf("%s[%d] = %d, want %d", ch, i, s, want)
			}
		}
	}
}

func TestEngineInputWiring(t *testing.T) {
	want := [block.NumMics]block.Channel{block.OEMR, block.IEMR, block.OEML, block.IEML}
	if inputChannels != want {
		t.Errorf("inputChannels = %v, want %v", inputChannels, want)
	}
}

func TestEngineQueuesOnlyWhileArmed(t *testing.T) {
	meter := analysis.NewLevelMeter()
	engine := newTestEngine(meter)
	out := make([]int16, engineBlock*transport.NumOutputs)

	engine.processStream(interleavedInput(), out)
	for _, ch := range block.Mics {
		if got := engine.Pending(ch); got != 0 {
			t.Errorf("Pending(%s) = %d before Begin, want 0", ch, got)
		}
	}
	if _, ok := meter.ReadAll(); !ok {
		t.Error("Level meter should observe blocks while disarmed")
	}

	engine.Begin()
	engine.processStream(interleavedInput(), out)
	engine.End()
	engine.processStream(interleavedInput(), out)
	if got := engine.Pending(block.OEML); got != 1 {
		t.Errorf("Pending after End = %d, want 1", got)
	}

	engine.Begin()
	if got := engine.Pending(block.OEML); got != 0 {
		t.Errorf("Begin should discard stale blocks, %d left", got)
	}
}

func TestEnginePlaysQueuedBlocksScaled(t *testing.T) {
	engine := newTestEngine(nil)
	engine.SetVolume(0.5)

	b := block.Block{1000, -1000, 2001, 0}
	if err := engine.SubmitBlock(transport.SpeakerRight, b); err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}

	out := make([]int16, engineBlock*transport.NumOutputs)
	for i := range out {
		out[i] = 99
	}
	engine.processStream(interleavedInput(), out)

	want := []int16{500, -500, 1001, 0}
	for i := range engineBlock {
		for c := range transport.NumOutputs {
			got := out[i*transport.NumOutputs+c]
			if c == int(transport.SpeakerRight) {
				if got != want[i] {
					t.Errorf("SPK_R[%d] = %d, want %d", i, got, want[i])
				}
			} else if got != 0 {
				t.Errorf("output %d frame %d = %d, want silence", c, i, got)
			}
		}
	}

	// The queue is drained, the next period is silent.
	engine.processStream(interleavedInput(), out)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("out[%d] = %d after drain, want 0", i, s)
		}
	}
}

func TestEngineShortCallbackIsSilent(t *testing.T) {
	engine := newTestEngine(nil)
	engine.Begin()

	out := []int16{1, 2, 3}
	engine.processStream(make([]int16, 3), out)

	if engine.shortRuns.Load() != 1 {
		t.Errorf("shortRuns = %d, want 1", engine.shortRuns.Load())
	}
	for _, s := range out {
		if s != 0 {
			t.Errorf("Short callback output not cleared: %v", out)
			break
		}
	}
	if engine.Pending(block.OEML) != 0 {
		t.Error("Short callback should not queue input")
	}
}

func TestEngineSubmitBlockErrors(t *testing.T) {
	engine := newTestEngine(nil)
	b := make(block.Block, engineBlock)

	tests := []struct {
		name  string
		out   transport.Output
		block block.Block
		want  error
	}{
		{"Unknown output", transport.Output(7), b, fault.ErrBadChannel},
		{"Short block", transport.SpeakerLeft, b[:2], fault.ErrBlockSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.SubmitBlock(tt.out, tt.block)
			if !errors.Is(err, tt.want) || !fault.IsFatal(err) {
				t.Errorf("SubmitBlock error = %v, want fault %v", err, tt.want)
			}
		})
	}

	t.Run("Full queue", func(t *testing.T) {
		for range playbackQueueDepth {
			if err := engine.SubmitBlock(transport.CalibratorLeft, b); err != nil {
				t.Fatalf("SubmitBlock: %v", err)
			}
		}
		if err := engine.SubmitBlock(transport.CalibratorLeft, b); !errors.Is(err, fault.ErrPlayback) {
			t.Errorf("SubmitBlock on full queue = %v, want ErrPlayback", err)
		}
	})
}

func TestEngineVolumeClamp(t *testing.T) {
	engine := newTestEngine(nil)

	for _, tt := range []struct{ in, want float64 }{{0.7, 0.7}, {-1, 0}, {3, 1}} {
		engine.SetVolume(tt.in)
		if got := engine.Volume(); got != tt.want {
			t.Errorf("SetVolume(%v) -> %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEngineCaptureBounds(t *testing.T) {
	engine := newTestEngine(nil)
	if engine.Pending(block.Reference) != 0 {
		t.Error("Reference is not a capture channel")
	}
	if engine.TakeBlock(block.Reference, make(block.Block, engineBlock)) {
		t.Error("TakeBlock on the reference should fail")
	}
	if engine.TakeBlock(block.OEML, make(block.Block, engineBlock-1)) {
		t.Error("TakeBlock with a short destination should fail")
	}
}

// TestProcessStreamHotPath verifies the callback does not allocate.
func TestProcessStreamHotPath(t *testing.T) {
	engine := newTestEngine(analysis.NewLevelMeter())
	in := interleavedInput()
	out := make([]int16, engineBlock*transport.NumOutputs)
	dst := make(block.Block, engineBlock)
	b := make(block.Block, engineBlock)

	engine.Begin()
	allocs := testing.AllocsPerRun(100, func() {
		_ = engine.SubmitBlock(transport.SpeakerLeft, b)
		engine.processStream(in, out)
		for _, ch := range block.Mics {
			engine.TakeBlock(ch, dst)
		}
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in stream callback, got %.1f", allocs)
	}
}

func TestQueueOverflow(t *testing.T) {
	q := NewQueue(2, engineBlock)
	b := make([]int16, engineBlock)

	if !q.Put(b) || !q.Put(b) {
		t.Fatal("Put into an empty queue failed")
	}
	if q.Put(b) {
		t.Error("Put into a full queue should fail")
	}
	if q.Overflows() != 1 {
		t.Errorf("Overflows = %d, want 1", q.Overflows())
	}
	if q.Put(b[:1]) {
		t.Error("Put with a short block should fail")
	}

	dst := make([]int16, engineBlock)
	if !q.Take(dst) || q.Pending() != 1 {
		t.Errorf("Take left %d blocks, want 1", q.Pending())
	}
	q.Clear()
	if q.Take(dst) {
		t.Error("Take after Clear should fail")
	}
}

func BenchmarkProcessStream(b *testing.B) {
	engine := newTestEngine(analysis.NewLevelMeter())
	in := interleavedInput()
	out := make([]int16, engineBlock*transport.NumOutputs)
	dst := make(block.Block, engineBlock)

	engine.Begin()
	b.ReportAllocs()

	for b.Loop() {
		engine.processStream(in, out)
		for _, ch := range block.Mics {
			engine.TakeBlock(ch, dst)
		}
	}
}
