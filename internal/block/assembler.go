// SPDX-License-Identifier: MIT
package block

import (
	"headset/internal/fault"
	"headset/pkg/bitint"
)

// Assembler accumulates blocks into one analysis window per channel.
//
// Windows are single-buffered: once Complete reports true the caller must
// consume (transform) every window before the next cycle starts overwriting
// the oldest block.
type Assembler struct {
	blockSize       int
	windowSize      int
	blocksPerWindow int

	windows  [NumChannels][]int16
	ingested [NumChannels]bool
	next     int  // Block slot written by the current cycle.
	complete bool // Set when next wraps to zero, cleared by Consume.
}

// NewAssembler allocates five windows of windowSize samples. windowSize must be
// a power of two and an integer multiple of blockSize.
func NewAssembler(blockSize, windowSize int) (*Assembler, error) {
	if blockSize <= 0 || !bitint.IsPowerOfTwo(windowSize) || windowSize%blockSize != 0 {
		return nil, fault.Newf("block.assembler", fault.ErrBadConfig,
			"window %d must be a power of two multiple of block %d", windowSize, blockSize)
	}

	a := &Assembler{
		blockSize:       blockSize,
		windowSize:      windowSize,
		blocksPerWindow: windowSize / blockSize,
	}
	for ch := range a.windows {
		a.windows[ch] = make([]int16, windowSize)
	}
	return a, nil
}

// Ingest copies b into the current cycle slot of channel ch.
func (a *Assembler) Ingest(ch Channel, b Block) error {
	if !ch.Valid() {
		return fault.Newf("block.ingest", fault.ErrBadChannel, "channel %d", int(ch))
	}
	if b == nil {
		return fault.New("block.ingest", fault.ErrNilBuffer)
	}
	if len(b) != a.blockSize {
		return fault.Newf("block.ingest", fault.ErrBlockSize, "got %d, want %d", len(b), a.blockSize)
	}

	offset := a.next * a.blockSize
	copy(a.windows[ch][offset:offset+a.blockSize], b)
	a.ingested[ch] = true
	return nil
}

// Commit closes the current cycle. Every channel must have been ingested since
// the previous commit. It returns true exactly once every blocksPerWindow
// cycles, on the cycle that fills the windows, whether or not the previous
// windows were consumed. Complete stays set until Consume.
func (a *Assembler) Commit() (bool, error) {
	for ch, ok := range a.ingested {
		if !ok {
			return false, fault.Newf("block.commit", fault.ErrNilBuffer, "channel %s not ingested", Channel(ch))
		}
	}
	a.ingested = [NumChannels]bool{}

	a.next = (a.next + 1) % a.blocksPerWindow
	if a.next != 0 {
		return false, nil
	}
	a.complete = true
	return true, nil
}

// Complete reports whether a full set of windows is waiting to be consumed.
func (a *Assembler) Complete() bool {
	return a.complete
}

// Consume acknowledges the completed windows.
func (a *Assembler) Consume() {
	a.complete = false
}

// Window returns the live window buffer of ch. The slice aliases internal
// storage and is only meaningful while Complete is true.
func (a *Assembler) Window(ch Channel) []int16 {
	return a.windows[ch]
}

// Offset returns the block slot the next cycle will write.
func (a *Assembler) Offset() int {
	return a.next
}

// BlocksPerWindow returns the number of cycles per analysis window.
func (a *Assembler) BlocksPerWindow() int {
	return a.blocksPerWindow
}

// Reset rewinds the cycle offset. Window contents are left in place; they are
// overwritten before the next completion.
func (a *Assembler) Reset() {
	a.next = 0
	a.complete = false
	a.ingested = [NumChannels]bool{}
}
