// SPDX-License-Identifier: MIT
package block

import (
	"headset/internal/fault"
	"headset/pkg/bitint"
)

// DelayLine keeps a circular history of the generated reference so that the
// block played now can be correlated against what the microphones capture
// delay samples later.
//
// The history length is an exact multiple of the block size, so the write
// position is always block aligned and never drifts across wraparounds.
type DelayLine struct {
	blockSize int
	delay     int
	history   []int16
	write     int // Next write position, a multiple of blockSize.
	out       Block
}

// NewDelayLine sizes the history to the smallest multiple of blockSize that
// holds delay+blockSize samples.
func NewDelayLine(blockSize, delay int) (*DelayLine, error) {
	if blockSize <= 0 || delay < 0 {
		return nil, fault.Newf("block.delayline", fault.ErrBadConfig, "block %d, delay %d", blockSize, delay)
	}

	return &DelayLine{
		blockSize: blockSize,
		delay:     delay,
		history:   make([]int16, bitint.CeilMultiple(delay+blockSize, blockSize)),
		out:       make(Block, blockSize),
	}, nil
}

// Push stores b and returns the block generated delay samples before it. The
// returned slice is reused by the next call.
func (d *DelayLine) Push(b Block) (Block, error) {
	if err := d.Store(b); err != nil {
		return nil, err
	}
	if err := d.Delayed(d.out, d.delay); err != nil {
		return nil, err
	}
	return d.out, nil
}

// Store appends b to the history.
func (d *DelayLine) Store(b Block) error {
	if b == nil {
		return fault.New("block.delayline", fault.ErrNilBuffer)
	}
	if len(b) != d.blockSize {
		return fault.Newf("block.delayline", fault.ErrBlockSize, "got %d, want %d", len(b), d.blockSize)
	}

	copy(d.history[d.write:d.write+d.blockSize], b)
	d.write += d.blockSize
	if d.write == len(d.history) {
		d.write = 0
	}
	return nil
}

// Delayed fills dst with the block that ended lag samples before the end of
// the most recently stored block. lag may not exceed MaxLag.
func (d *DelayLine) Delayed(dst Block, lag int) error {
	if dst == nil {
		return fault.New("block.delayline", fault.ErrNilBuffer)
	}
	if len(dst) != d.blockSize {
		return fault.Newf("block.delayline", fault.ErrBlockSize, "got %d, want %d", len(dst), d.blockSize)
	}
	if lag < 0 || lag > d.MaxLag() {
		return fault.Newf("block.delayline", fault.ErrBadConfig, "lag %d outside [0, %d]", lag, d.MaxLag())
	}

	size := len(d.history)
	start := d.write - d.blockSize - lag
	for start < 0 {
		start += size
	}

	// At most one wrap inside a block read.
	n := copy(dst, d.history[start:])
	if n < len(dst) {
		copy(dst[n:], d.history)
	}
	return nil
}

// Delay returns the configured playback-to-mic delay in samples.
func (d *DelayLine) Delay() int {
	return d.delay
}

// MaxLag is the longest lag the history can serve.
func (d *DelayLine) MaxLag() int {
	return len(d.history) - d.blockSize
}

// Reset forgets all history; delayed output is silence until refilled.
func (d *DelayLine) Reset() {
	clear(d.history)
	d.write = 0
}
