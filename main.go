package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"text/tabwriter"

	"trackmix/cmd"
	"trackmix/internal/audio"
	"trackmix/internal/config"
	"trackmix/internal/log"
	"trackmix/internal/meter"
	"trackmix/internal/project"
	"trackmix/internal/track"
	"trackmix/internal/transport"
	"trackmix/internal/transport/udp"
	"trackmix/internal/tui"
	"trackmix/pkg/build"
)

// main is the entry point for the mixer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Execute one-off commands if requested
//   - Initialize PortAudio and take the device snapshot
//   - Build the project, load a saved one and add startup tracks
//
// 2. Concurrent Phase (Hot Path):
//   - Start the master output and every monitored track
//   - Publish level meters if enabled
//   - Run the terminal UI, or block until a signal in headless mode
//
// 3. Shutdown Phase (Cold Path):
//   - Stop every stream, finalizing recordings
//   - Save the project in headless mode
//   - Release devices and PortAudio
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Initialize build information including version, commit hash, and build time.
	// Development builds carry on without it.
	if err := build.Initialize(); err != nil {
		log.Debugf("%v", err)
	}

	// Limit OS threads: device callbacks run on PortAudio's own threads,
	// everything else is control, drain and UI work.
	runtime.GOMAXPROCS(2)

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if opts.Command == "" {
		// cobra printed help or the version
		return
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if level, ok := log.ParseLevel(cfg.LogLevel); ok {
		log.SetLevel(level)
	} else {
		log.Warnf("unknown log level %q, keeping %s", cfg.LogLevel, log.GetLevel())
	}

	// Inspecting a project never touches the audio devices
	if opts.Command == cmd.CommandInspect {
		if err := inspect(opts.InspectDir); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	// Initialize PortAudio subsystem
	if err := audio.Initialize(); err != nil {
		log.Fatalf("%v", err)
	}
	defer audio.Terminate()

	devices, err := audio.HostDevices()
	if err != nil {
		log.Fatalf("%v", err)
	}

	if opts.Command == cmd.CommandList {
		audio.ListDevices(os.Stdout, devices)
		return
	}

	if err := run(cfg, devices, opts); err != nil {
		log.Errorf("%v", err)
		audio.Terminate()
		os.Exit(1)
	}
}

func run(cfg *config.Config, devices []audio.Device, opts *cmd.Options) error {
	var hub *meter.Hub
	if cfg.Meter.Enabled {
		t, err := newMeterTransport(cfg.Meter)
		if err != nil {
			return err
		}
		if hub, err = meter.NewHub(t, cfg.Meter.Interval, 0); err != nil {
			t.Close()
			return err
		}
		defer hub.Close()
	}

	p, err := project.New(project.Options{
		Config:  *cfg,
		Devices: devices,
		Meter:   hub,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if dir := cfg.Project.Dir; dir != "" {
		switch err := p.LoadProject(dir); {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			log.Infof("no saved project in %s, starting fresh", dir)
		default:
			return err
		}
	}

	for _, spec := range opts.Tracks {
		name, err := p.AddTrack("", spec)
		if err != nil {
			return err
		}
		if err := p.UpdateTrack(name, track.Monitor(true)); err != nil {
			return err
		}
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := p.StartStream(); err != nil {
		return err
	}
	if hub != nil {
		hub.Start()
	}

	if opts.NoTUI {
		headless(p, cfg.Project.Dir)
	} else if err := runTUI(p, cfg); err != nil {
		return err
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := p.StopStream(); err != nil {
		log.Warnf("stopping streams: %v", err)
	}
	return nil
}

// headless blocks until SIGINT/SIGTERM, then saves the project if a
// directory was given.
func headless(p *project.Project, dir string) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	log.Infof("running headless, press Ctrl+C to stop")
	<-done

	if dir == "" {
		return
	}
	if err := p.StopStream(); err != nil {
		log.Warnf("stopping streams: %v", err)
	}
	if err := p.SaveProject(dir); err != nil {
		log.Errorf("saving project: %v", err)
	}
}

// runTUI moves logging to a file while the terminal belongs to the UI.
func runTUI(p *project.Project, cfg *config.Config) error {
	logPath := filepath.Join(os.TempDir(), build.GetBuildFlags().Name+".log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	defer func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}()

	return tui.Run(p, cfg.Project.Dir)
}

func newMeterTransport(m config.MeterConfig) (transport.Transport, error) {
	switch m.Transport {
	case config.TransportWebSocket:
		return transport.NewWebSocketTransport(m.WebSocketAddr), nil
	case config.TransportUDP:
		return udp.Dial(m.UDPTargetAddress)
	default:
		return transport.NewLoggingTransport(), nil
	}
}

// inspect prints the tracks saved in dir.
func inspect(dir string) error {
	s, err := project.ReadSnapshot(dir)
	if err != nil {
		return err
	}

	fmt.Printf("project %s, %d tracks\n\n", s.ID, len(s.Tracks))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSOURCE\tGAIN\tPAN\tFLAGS")
	for _, rec := range s.Tracks {
		source := "-"
		switch rec.Source {
		case audio.KindFile:
			source = "file " + rec.Path
		case audio.KindDevice:
			source = "device " + rec.Device
		}
		a := rec.Attrs
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%+.2f\t%s\n",
			rec.Name, rec.Kind, source, a.Gain, a.Pan, flagString(a))
	}
	return w.Flush()
}

func flagString(a track.Attributes) string {
	f := []byte("----")
	if a.Mute {
		f[0] = 'M'
	}
	if a.Solo {
		f[1] = 'S'
	}
	if a.Monitor {
		f[2] = 'I'
	}
	if a.Record {
		f[3] = 'R'
	}
	return string(f)
}
