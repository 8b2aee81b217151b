package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ayusman/nosegoes/internal/capture"
)

type Config struct {
	bind      string
	port      int
	camera    int
	width     int
	height    int
	fps       int
	rate      float64
	dataDir   string
	pluginDir string
	webDir    string
	logFile   string
	verbose   bool
	tray      bool
	mock      bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.camera < 0 {
		return fmt.Errorf("invalid camera index: %d", c.camera)
	}
	if c.width < 1 || c.height < 1 {
		return fmt.Errorf("invalid capture size: %dx%d", c.width, c.height)
	}
	if c.fps < 1 {
		return fmt.Errorf("invalid fps: %d", c.fps)
	}
	if c.rate <= 0 {
		return fmt.Errorf("invalid detection rate: %v", c.rate)
	}
	return nil
}

func (c *Config) cameraConfig() capture.Config {
	return capture.Config{
		DeviceID: c.camera,
		Width:    c.width,
		Height:   c.height,
		FPS:      c.fps,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("NOSEGOES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "nosegoes",
		Short:         "First to touch their nose wins. A camera party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: NOSEGOES_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: NOSEGOES_PORT)")
	fs.IntVar(&cfg.camera, "camera", 0, "camera device index (env: NOSEGOES_CAMERA)")
	fs.IntVar(&cfg.width, "width", capture.DefaultWidth, "requested capture width (env: NOSEGOES_WIDTH)")
	fs.IntVar(&cfg.height, "height", capture.DefaultHeight, "requested capture height (env: NOSEGOES_HEIGHT)")
	fs.IntVar(&cfg.fps, "fps", capture.DefaultFPS, "requested capture frame rate (env: NOSEGOES_FPS)")
	fs.Float64Var(&cfg.rate, "rate", 30, "maximum detection passes per second (env: NOSEGOES_RATE)")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "directory for the settings database, defaults to ~/.nosegoes (env: NOSEGOES_DATA_DIR)")
	fs.StringVar(&cfg.pluginDir, "plugin-dir", "", "directory scanned for feedback plugins (env: NOSEGOES_PLUGIN_DIR)")
	fs.StringVar(&cfg.webDir, "web-dir", "", "directory with the game screen assets (env: NOSEGOES_WEB_DIR)")
	fs.StringVar(&cfg.logFile, "log-file", "", "also write logs to this file, rotated (env: NOSEGOES_LOG_FILE)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: NOSEGOES_VERBOSE)")
	fs.BoolVar(&cfg.tray, "tray", false, "show a system tray menu (env: NOSEGOES_TRAY)")
	fs.BoolVar(&cfg.mock, "mock", false, "run without camera or models, for trying the screen (env: NOSEGOES_MOCK)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("nosegoes v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
