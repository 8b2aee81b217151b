package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/nosegoes/internal/app"
	"github.com/ayusman/nosegoes/internal/capture"
	"github.com/ayusman/nosegoes/internal/detector"
	"github.com/ayusman/nosegoes/internal/logging"
	"github.com/ayusman/nosegoes/internal/server"
	"github.com/ayusman/nosegoes/internal/store"
	"github.com/ayusman/nosegoes/internal/tray"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func run(ctx context.Context, cfg *Config) error {
	log := logging.New(logging.Options{File: cfg.logFile, Verbose: cfg.verbose})
	log.WithField("version", releaseVersion).Info("nose goes starting")

	dataDir, err := resolveDataDir(cfg.dataDir)
	if err != nil {
		return err
	}

	st, err := store.New(filepath.Join(dataDir, "nosegoes.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	camera, faces, hands, err := devices(cfg)
	if err != nil {
		return err
	}

	pluginDir := cfg.pluginDir
	if pluginDir == "" {
		pluginDir = findDir("plugins", dataDir)
	}

	a, err := app.New(app.Config{
		Camera:      camera,
		Faces:       faces,
		Hands:       hands,
		Store:       st,
		PluginDir:   pluginDir,
		Logger:      log,
		RefreshRate: cfg.rate,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.LoadModels(ctx); err != nil {
			log.WithError(err).Error("landmark models failed to load")
		}
	}()

	webDir := cfg.webDir
	if webDir == "" {
		webDir = findDir("web", dataDir)
	}
	if webDir != "" {
		log.WithField("dir", webDir).Info("serving game screen")
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		App:       a,
		Logger:    log,
	})
	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))

	if !cfg.tray {
		return srv.Run(ctx, addr)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Run(ctx, addr)
		stop()
	}()

	runTray(ctx, stop, a, "http://"+net.JoinHostPort("localhost", strconv.Itoa(cfg.port))+"/", log)
	stop()
	return <-errs
}

// runTray blocks on the tray menu until Quit is chosen or ctx ends.
func runTray(ctx context.Context, stop func(), a *app.App, url string, log logrus.FieldLogger) {
	t := tray.New()
	t.OnStart(a.Start)
	t.OnReset(a.Reset)
	t.OnOpen(func() {
		if err := openBrowser(url); err != nil {
			log.WithError(err).Warn("open browser")
		}
	})
	t.OnQuit(stop)
	a.Subscribe(t.Listen)

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

// devices opens the capture and landmark backends, or in-memory stand-ins
// with --mock.
func devices(cfg *Config) (capture.Camera, detector.FaceLandmarker, detector.HandLandmarker, error) {
	if cfg.mock {
		m := detector.NewMockLandmarker()
		return capture.NewBlankCamera(cfg.width, cfg.height), m, m, nil
	}

	dc := detector.DefaultConfig()
	faces, err := detector.NewMediaPipeFaces(dc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("face landmarker: %w", err)
	}
	hands, err := detector.NewMediaPipeHands(dc)
	if err != nil {
		faces.Close()
		return nil, nil, nil, fmt.Errorf("hand landmarker: %w", err)
	}
	return capture.NewCamera(cfg.cameraConfig()), faces, hands, nil
}

func resolveDataDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("find home directory: %w", err)
		}
		dir = filepath.Join(home, ".nosegoes")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// findDir looks for name in the working directory, its parents up to two
// levels, and then in dataDir. It returns "" when none exists.
func findDir(name, dataDir string) string {
	candidates := []string{
		name,
		filepath.Join("..", name),
		filepath.Join("..", "..", name),
		filepath.Join(dataDir, name),
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
