package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the mixing engine.
const (
	DefaultLogLevel        = "info"
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultSampleRate      = 0           // 0 uses the device's default rate
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultChannels        = 2           // Stereo
	DefaultLowLatency      = false
	DefaultRingSeconds     = 2.0 // Seconds of audio each track buffers
	DefaultRecordingDir    = "./recordings"
	DefaultDrainInterval   = 20 * time.Millisecond
	DefaultMeterInterval   = 33 * time.Millisecond // ~30Hz
	DefaultMeterTransport  = "websocket"
	DefaultWebSocketAddr   = ":8080"
	DefaultUDPTarget       = "127.0.0.1:9090"

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer (power of 2)
	MaxChannels     = 8
)

// Meter transports understood by the engine.
const (
	TransportWebSocket = "websocket"
	TransportUDP       = "udp"
	TransportLog       = "log"
)
