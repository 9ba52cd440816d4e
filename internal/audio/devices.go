// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"os"

	"headset/internal/block"
	"headset/internal/config"
	"headset/internal/transport"

	"github.com/gordonklaus/portaudio"
)

// PortAudio entry points, replaceable in tests.
var (
	paLibInitialize             = portaudio.Initialize
	paLibTerminate              = portaudio.Terminate
	paLibDevicesFunc            = portaudio.Devices
	paLibDefaultInputDeviceFunc = portaudio.DefaultInputDevice
	paLibDefaultOutputDevice    = portaudio.DefaultOutputDevice
	paDevicesFunc               = paDevices
)

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := paLibInitialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// InputDevice retrieves the capture device for the given device ID.
// If deviceID is MinDeviceID (-1), returns the system default input device.
// The device must expose all four microphone channels.
func InputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	var device *portaudio.DeviceInfo
	if deviceID == config.MinDeviceID {
		device, err = paLibDefaultInputDeviceFunc()
		if err != nil {
			return nil, err
		}
	} else {
		if deviceID < 0 || deviceID >= len(devices) {
			return nil, fmt.Errorf("invalid device ID: %d", deviceID)
		}
		device = devices[deviceID]
	}

	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) does not support input", deviceID, device.Name)
	}
	if device.MaxInputChannels < block.NumMics {
		return nil, fmt.Errorf("device %d (%s) has %d input channels, need %d",
			deviceID, device.Name, device.MaxInputChannels, block.NumMics)
	}
	return device, nil
}

// OutputDevice retrieves the playback device for the given device ID. It
// mirrors InputDevice and requires one channel per playback output.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	devices, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}

	var device *portaudio.DeviceInfo
	if deviceID == config.MinDeviceID {
		device, err = paLibDefaultOutputDevice()
		if err != nil {
			return nil, err
		}
	} else {
		if deviceID < 0 || deviceID >= len(devices) {
			return nil, fmt.Errorf("invalid device ID: %d", deviceID)
		}
		device = devices[deviceID]
	}

	if device.MaxOutputChannels == 0 {
		return nil, fmt.Errorf("device %d (%s) does not support output", deviceID, device.Name)
	}
	if device.MaxOutputChannels < transport.NumOutputs {
		return nil, fmt.Errorf("device %d (%s) has %d output channels, need %d",
			deviceID, device.Name, device.MaxOutputChannels, transport.NumOutputs)
	}
	return device, nil
}

// ListDevices prints information about all available audio devices to
// stdout, marking the ones that can host the measurement stream.
func ListDevices() error {
	return FprintDevices(os.Stdout)
}

// FprintDevices writes the device listing to w.
func FprintDevices(w io.Writer) error {
	devices, err := HostDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, device := range devices {
		mark := ""
		if device.Suitable() {
			mark = " *"
		}
		fmt.Fprintf(w, "[%d] %s (%s)%s\n", device.ID, device.Name, device.Kind(), mark)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", device.MaxInputChannels, device.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n",
			device.LowInputLatency.Seconds()*1000,
			device.HighInputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "* supports %d inputs and %d outputs\n", block.NumMics, transport.NumOutputs)

	return nil
}

// paDevices returns all available PortAudio devices, never nil.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []*portaudio.DeviceInfo{}
	}
	return devices, nil
}
