package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"trackmix/internal/config"
	"trackmix/internal/project"
	"trackmix/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected by ParseArgs. An empty Command means cobra already
// handled the invocation (help or version) and there is nothing to run.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandInspect = "inspect"
)

// Options is the parsed command line. Zero values mean "use the config".
type Options struct {
	Command    string
	ConfigPath string
	InspectDir string

	InputDevice  int
	OutputDevice int
	ProjectDir   string
	Tracks       []project.SourceSpec
	NoTUI        bool
	Verbose      bool

	changed map[string]bool
}

// Apply copies every flag the user set onto cfg.
func (o *Options) Apply(cfg *config.Config) {
	if o.changed["input"] {
		cfg.Audio.InputDevice = o.InputDevice
	}
	if o.changed["output"] {
		cfg.Audio.OutputDevice = o.OutputDevice
	}
	if o.changed["project"] {
		cfg.Project.Dir = o.ProjectDir
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
}

// ParseTrack reads a --track value: "dev:<id>" for a capture device,
// "file:<path>" or a bare path for a WAV file.
func ParseTrack(v string) (project.SourceSpec, error) {
	kind, rest, found := strings.Cut(v, ":")
	switch {
	case found && kind == "dev":
		id, err := strconv.Atoi(rest)
		if err != nil || id < config.MinDeviceID {
			return project.SourceSpec{}, fmt.Errorf("invalid device in --track %q", v)
		}
		return project.DeviceSource(id), nil
	case found && kind == "file":
		v = rest
	}
	if v == "" {
		return project.SourceSpec{}, fmt.Errorf("empty --track value")
	}
	return project.FileSource(v), nil
}

// ParseArgs parses args (without the program name).
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{
		InputDevice:  config.DefaultDeviceID,
		OutputDevice: config.DefaultDeviceID,
	}
	var tracks []string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Multi-track audio mixer and recorder",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, v := range tracks {
				spec, err := ParseTrack(v)
				if err != nil {
					return err
				}
				options.Tracks = append(options.Tracks, spec)
			}
			options.changed = map[string]bool{}
			for _, name := range []string{"input", "output", "project"} {
				options.changed[name] = cmd.Flags().Changed(name)
			}
			options.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetVersionTemplate(buildInfo.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	}
	rootCmd.AddCommand(listCmd)

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   CommandInspect + " <project-dir>",
		Short: "Print the tracks saved in a project without opening any device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandInspect
			options.InspectDir = args[0]
		},
	}
	rootCmd.AddCommand(inspectCmd)

	rootCmd.PersistentFlags().StringVarP(&options.ConfigPath, "config", "c", "",
		"Path to the YAML config file (default: ./config.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	// Audio Device Configuration
	rootCmd.Flags().IntVarP(&options.InputDevice, "input", "i", config.DefaultDeviceID,
		"Input device ID for new capture tracks. Use 'list' command to see available devices.")
	rootCmd.Flags().IntVarP(&options.OutputDevice, "output", "o", config.DefaultDeviceID,
		"Output device ID for the master track")

	// Project Configuration
	rootCmd.Flags().StringVarP(&options.ProjectDir, "project", "p", "",
		"Project directory to load at startup and save to")
	rootCmd.Flags().StringArrayVarP(&tracks, "track", "t", nil,
		"Add a track at startup: dev:<id>, file:<path> or a WAV path (repeatable)")
	rootCmd.Flags().BoolVar(&options.NoTUI, "no-tui", false,
		"Run headless until interrupted")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}
