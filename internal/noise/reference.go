// SPDX-License-Identifier: MIT
package noise

import (
	"headset/internal/block"
	"headset/internal/fault"
	"headset/internal/transport"
)

// Reference is the NoiseGenerator of the measurement pipeline: every live
// block it produces is kept in a delay line so that the copy the microphones
// hear later can be handed out for correlation.
type Reference struct {
	src   Source
	delay *block.DelayLine
}

// NewReference wraps src with a history long enough for lags up to maxLag
// samples.
func NewReference(src Source, blockSize, maxLag int) (*Reference, error) {
	if src == nil {
		return nil, fault.New("noise.reference", fault.ErrNilBuffer)
	}
	d, err := block.NewDelayLine(blockSize, maxLag)
	if err != nil {
		return nil, err
	}
	return &Reference{src: src, delay: d}, nil
}

// NextBlock fills dst with the next live block and records it.
func (r *Reference) NextBlock(dst block.Block) error {
	if dst == nil {
		return fault.New("noise.next", fault.ErrNilBuffer)
	}
	r.src.Fill(dst)
	return r.delay.Store(dst)
}

// DelayedBlock fills dst with the block generated lag samples before the
// latest live block. Before enough history exists it is silence.
func (r *Reference) DelayedBlock(dst block.Block, lag int) error {
	return r.delay.Delayed(dst, lag)
}

// Reset clears the history and rewinds the source when it supports it.
func (r *Reference) Reset() {
	r.delay.Reset()
	if rs, ok := r.src.(Restarter); ok {
		rs.Restart()
	}
}

// SetSource swaps the signal. History is kept; call Reset for a clean start.
func (r *Reference) SetSource(src Source) {
	if src != nil {
		r.src = src
	}
}

var _ transport.NoiseGenerator = (*Reference)(nil)
