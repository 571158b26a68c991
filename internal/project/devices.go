package project

import (
	"fmt"

	"trackmix/internal/audio"
	"trackmix/internal/track"
)

// ListDevices returns the device snapshot taken at startup.
func (p *Project) ListDevices() []audio.Device {
	return p.devices
}

// Devices returns the selected input and output device IDs.
func (p *Project) Devices() (input, output int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input, p.output
}

// SetInputDevice selects the device used by new capture tracks.
func (p *Project) SetInputDevice(id int) error {
	return p.guard("set input device", func() error {
		dev, err := audio.InputDevice(p.devices, id)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDeviceIndex, err)
		}
		p.input = dev.ID
		p.log.Infof("input device [%d] %s", dev.ID, dev.Name)
		return nil
	})
}

// SetOutputDevice rebuilds the master sink on a new device. The new stream
// is opened first; then the old one is stopped, swapped out under the
// registry lock, the new one started and the old one closed. Gain, pan and
// any master recording carry over. If the new stream fails to start the
// old one is swapped back in and restarted, and the selection is unchanged.
func (p *Project) SetOutputDevice(id int) error {
	return p.guard("set output device", func() error {
		dev, err := audio.OutputDevice(p.devices, id)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDeviceIndex, err)
		}

		sink, err := p.openPlayback(dev, p.outputStreamConfig(), p.registry)
		if err != nil {
			return err
		}
		p.attachMeter(track.MasterName, sink)

		master := p.registry.Master()
		wasStreaming := master.Info().Streaming
		if old := master.Stream(); old != nil && wasStreaming {
			if err := old.Stop(); err != nil {
				p.log.Warnf("failed to stop old output: %v", err)
			}
		}

		old := p.registry.SwapMasterStream(sink)

		if wasStreaming {
			if err := master.Start(); err != nil {
				p.restoreOutput(old, sink)
				return err
			}
		}
		if old != nil {
			if err := old.Close(); err != nil {
				p.log.Warnf("failed to close old output: %v", err)
			}
		}

		p.output = dev.ID
		p.log.Infof("output device [%d] %s", dev.ID, dev.Name)
		return nil
	})
}

// restoreOutput puts the previous sink back when its replacement failed to
// start, then closes the replacement.
func (p *Project) restoreOutput(previous, failed audio.Stream) {
	if previous != nil {
		p.registry.SwapMasterStream(previous)
		p.attachMeter(track.MasterName, previous)
		if err := p.registry.Master().Start(); err != nil {
			p.log.Errorf("failed to restart previous output %s: %v", previous.Name(), err)
		}
	}
	if err := failed.Close(); err != nil {
		p.log.Warnf("failed to close output %s: %v", failed.Name(), err)
	}
}
