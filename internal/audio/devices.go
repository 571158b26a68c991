package audio

import (
	"fmt"
	"io"
	"time"

	"trackmix/internal/config"

	"github.com/gordonklaus/portaudio"
)

// Seams over the PortAudio binding, replaced in tests.
var (
	paLibInitialize              = portaudio.Initialize
	paLibTerminate               = portaudio.Terminate
	paLibDevicesFunc             = portaudio.Devices
	paLibDefaultInputDeviceFunc  = portaudio.DefaultInputDevice
	paLibDefaultOutputDeviceFunc = portaudio.DefaultOutputDevice
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
// This should be deferred immediately after Initialize().
func Terminate() error {
	if err := paLibTerminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Device is one entry of the device snapshot taken at startup. Devices are
// selected by their stable ID, the index into that snapshot.
type Device struct {
	ID                       int
	Name                     string
	HostAPI                  string
	MaxInputChannels         int
	MaxOutputChannels        int
	DefaultSampleRate        float64
	DefaultLowInputLatency   time.Duration
	DefaultHighInputLatency  time.Duration
	DefaultLowOutputLatency  time.Duration
	DefaultHighOutputLatency time.Duration

	info *portaudio.DeviceInfo
}

func newDevice(id int, info *portaudio.DeviceInfo) Device {
	d := Device{
		ID:                       id,
		Name:                     info.Name,
		MaxInputChannels:         info.MaxInputChannels,
		MaxOutputChannels:        info.MaxOutputChannels,
		DefaultSampleRate:        info.DefaultSampleRate,
		DefaultLowInputLatency:   info.DefaultLowInputLatency,
		DefaultHighInputLatency:  info.DefaultHighInputLatency,
		DefaultLowOutputLatency:  info.DefaultLowOutputLatency,
		DefaultHighOutputLatency: info.DefaultHighOutputLatency,
		info:                     info,
	}
	if info.HostApi != nil {
		d.HostAPI = info.HostApi.Name
	}
	return d
}

// Type describes the direction(s) the device supports.
func (d Device) Type() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	}
	return "None"
}

// HostDevices takes a snapshot of every device PortAudio reports.
func HostDevices() ([]Device, error) {
	infos, err := paDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = newDevice(i, info)
	}
	return devices, nil
}

// InputDevice resolves deviceID against the snapshot. MinDeviceID (-1)
// selects the system default input device.
func InputDevice(devices []Device, deviceID int) (Device, error) {
	if deviceID == config.MinDeviceID {
		info, err := paLibDefaultInputDeviceFunc()
		if err != nil {
			return Device{}, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		deviceID = indexOf(devices, info)
	}
	d, err := lookup(devices, deviceID)
	if err != nil {
		return Device{}, err
	}
	if d.MaxInputChannels <= 0 {
		return Device{}, fmt.Errorf("%w: [%d] %s", ErrNoInputConfig, d.ID, d.Name)
	}
	return d, nil
}

// OutputDevice resolves deviceID against the snapshot. MinDeviceID (-1)
// selects the system default output device.
func OutputDevice(devices []Device, deviceID int) (Device, error) {
	if deviceID == config.MinDeviceID {
		info, err := paLibDefaultOutputDeviceFunc()
		if err != nil {
			return Device{}, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		deviceID = indexOf(devices, info)
	}
	d, err := lookup(devices, deviceID)
	if err != nil {
		return Device{}, err
	}
	if d.MaxOutputChannels <= 0 {
		return Device{}, fmt.Errorf("%w: [%d] %s", ErrNoOutputConfig, d.ID, d.Name)
	}
	return d, nil
}

// FindByName returns the first input-capable device called name.
func FindByName(devices []Device, name string) (Device, bool) {
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, true
		}
	}
	return Device{}, false
}

func lookup(devices []Device, deviceID int) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}
	if deviceID < 0 || deviceID >= len(devices) {
		return Device{}, fmt.Errorf("%w: %d", ErrInvalidDevice, deviceID)
	}
	return devices[deviceID], nil
}

func indexOf(devices []Device, info *portaudio.DeviceInfo) int {
	if info == nil {
		return -2
	}
	for _, d := range devices {
		if d.info == info || (d.Name == info.Name && d.HostAPI == hostAPIName(info)) {
			return d.ID
		}
	}
	return -2
}

func hostAPIName(info *portaudio.DeviceInfo) string {
	if info.HostApi == nil {
		return ""
	}
	return info.HostApi.Name
}

// ListDevices writes a human readable table of the snapshot. For each
// device it shows the ID, name, direction, channel counts, default sample
// rate and latency range.
func ListDevices(w io.Writer, devices []Device) {
	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")

	for _, d := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.ID, d.Name, d.Type())
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", d.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n",
			d.DefaultLowInputLatency.Seconds()*1000,
			d.DefaultHighInputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}
}

// paDevices returns all available PortAudio devices, never nil.
func paDevices() ([]*portaudio.DeviceInfo, error) {
	devices, err := paLibDevicesFunc()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		return []*portaudio.DeviceInfo{}, nil
	}
	return devices, nil
}
