// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"headset/internal/block"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recordingBitDepth matches the 16-bit samples of the stream.
const recordingBitDepth = 16

// Recorder writes the aligned analysis blocks of every measuring cycle to a
// five-channel WAV file: the four microphones in channel order, then the
// delayed reference. It implements pipeline.Tap.
type Recorder struct {
	mu sync.Mutex

	sampleRate int
	blockSize  int

	isRecording bool
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
	frames      int
}

// NewRecorder returns an idle recorder for blocks of blockSize samples.
func NewRecorder(sampleRate float64, blockSize int) *Recorder {
	return &Recorder{
		sampleRate: int(sampleRate),
		blockSize:  blockSize,
	}
}

// StartRecording creates filename and starts accepting cycles.
func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording {
		return fmt.Errorf("already recording")
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file

	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, recordingBitDepth, block.NumChannels, 1)

	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: block.NumChannels,
			SampleRate:  r.sampleRate,
		},
		Data:           make([]int, r.blockSize*block.NumChannels),
		SourceBitDepth: recordingBitDepth,
	}
	r.frames = 0
	r.isRecording = true

	return nil
}

// WriteCycle interleaves one block per analysis path into the file. It is a
// no-op while not recording.
func (r *Recorder) WriteCycle(blocks *[block.NumChannels]block.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording {
		return nil
	}
	for ch, b := range blocks {
		if len(b) != r.blockSize {
			return fmt.Errorf("recording %s: got %d samples, want %d", block.Channel(ch), len(b), r.blockSize)
		}
		for i, sample := range b {
			r.sampleBuf.Data[i*block.NumChannels+ch] = int(sample)
		}
	}
	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("writing WAV frames: %w", err)
	}
	r.frames += r.blockSize
	return nil
}

// StopRecording finalizes the WAV header and closes the file.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording {
		return nil
	}
	r.isRecording = false

	var errs []error
	if r.wavEncoder != nil {
		errs = append(errs, r.wavEncoder.Close())
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		errs = append(errs, r.outputFile.Close())
		r.outputFile = nil
	}
	return errors.Join(errs...)
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRecording
}

// Frames returns the number of frames written to the current or last file.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close stops any recording in progress.
func (r *Recorder) Close() error {
	return r.StopRecording()
}
