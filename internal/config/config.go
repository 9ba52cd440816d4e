// SPDX-License-Identifier: MIT
package config

// Measurement constants of the reference rig. Every one can be overridden in
// config.yaml and is validated at start-up.
const (
	DefaultSampleRate   = 44100 // Hz
	DefaultBlockSize    = 128   // samples per transport block
	DefaultFFTSize      = 1024  // samples per analysis window
	DefaultDelaySamples = 660   // playback-to-microphone latency
	DefaultReadyBlocks  = 1     // blocks per mic required before a cycle runs
	DefaultMaxBacklog   = 2     // pending blocks per mic before the rig halts
	DefaultFFTWindow    = "hamming"

	DefaultPrimingSeconds = 1
	DefaultMeasureSeconds = 10 // tests 0, 1, 2A and 2B
	DefaultLeakSeconds    = 5  // test 3
	DefaultToneSeconds    = 5
	DefaultToneFrequency  = 4000.0

	DefaultVolume     = 0.7
	DefaultLeakVolume = 0.55

	// Hardware and processing limits.
	MinDeviceID   = -1 // system default device
	MinSampleRate = 8000
	MaxSampleRate = 192000
	MaxFFTSize    = 65536
)
