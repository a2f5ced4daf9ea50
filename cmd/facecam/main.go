package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/facecam/internal/app"
	"github.com/ayusman/facecam/internal/capture"
	"github.com/ayusman/facecam/internal/config"
	"github.com/ayusman/facecam/internal/detector"
	"github.com/ayusman/facecam/internal/logging"
	"github.com/ayusman/facecam/internal/server"
	"github.com/ayusman/facecam/internal/server/api"
	"github.com/ayusman/facecam/internal/store"
	"github.com/ayusman/facecam/internal/tray"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// .env and FACECAM_* variables set the flag defaults.
	cfg, loadErr := config.Load(".env")
	if loadErr != nil {
		cfg = config.Default()
	}

	root := &cobra.Command{
		Use:           "facecam",
		Short:         "Facecam - live face detection overlay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the camera overlay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(serve.Flags())

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "facecam", version)
		},
	})
	return root
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Dir: cfg.LogDir()})
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")
	log.WithField("version", version).Info("Facecam - live face detection overlay")

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	appCfg := cfg.App()
	appCfg.Log = logger
	a := app.New(appCfg, capture.NewCamera(cfg.Camera), detector.NewLoader(detector.Open(cfg.Models())))
	defer a.Close()

	if err := api.RestoreSettings(st, a); err != nil {
		log.WithError(err).Warn("saved settings ignored")
	}
	a.Load(ctx)

	webDir := cfg.FindWebDir()
	if webDir != "" {
		log.WithField("dir", webDir).Info("serving static files")
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		App:       a,
		StreamFPS: cfg.StreamFPS,
		Log:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(cfg.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Tray {
		// The tray owns the main goroutine until it quits.
		t := tray.New(a)
		t.OnSettings(func() { openBrowser(settingsURL(cfg.Addr), log) })
		t.OnQuit(stop)
		go func() {
			<-gctx.Done()
			t.Quit()
		}()
		t.Run()
		stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// settingsURL turns a listen address into a browsable URL.
func settingsURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string, log logrus.FieldLogger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.WithError(err).Warn("open browser failed")
		return
	}
	go cmd.Wait()
}
