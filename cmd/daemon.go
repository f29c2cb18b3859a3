// Package cmd defines the locmux command line: the daemon lifecycle
// commands and the version command.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/locmux/clock"
	"github.com/grovetools/locmux/internal/daemon/feed"
	"github.com/grovetools/locmux/internal/daemon/pidfile"
	"github.com/grovetools/locmux/internal/daemon/server"
	"github.com/grovetools/locmux/logging"
	"github.com/grovetools/locmux/manager"
	"github.com/grovetools/locmux/settings"
	"github.com/grovetools/locmux/support"
)

// NewDaemonCmd returns the locmuxd daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Location multiplexer daemon",
		Long:  "Runs a location provider behind the multiplexer and serves subscribers over HTTP.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var (
		listenAddr   string
		settingsPath string
		replayPath   string
		startLat     float64
		startLng     float64
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the locmux daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("locmuxd")
			pidPath := pidfile.DefaultPath()

			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			// Settings: a live-reloading file when given, otherwise an
			// in-memory store with location enabled for the primary user.
			var store settings.Store
			if settingsPath != "" {
				fs, err := settings.NewFileStore(settingsPath)
				if err != nil {
					return fmt.Errorf("failed to load settings: %w", err)
				}
				defer fs.Close()
				store = fs
			} else {
				static := settings.NewStatic()
				static.SetLocationEnabled(0, true)
				store = static
			}

			clk := clock.Real()
			perms := support.NewPermissions()

			var (
				provider manager.Provider
				replay   *feed.Replay
				walk     *feed.Walk
			)
			if replayPath != "" {
				replay = feed.NewReplay(replayPath, clk)
				provider = replay
			} else {
				walk = feed.NewWalk(clk, startLat, startLng)
				provider = walk
			}

			mgr := manager.New(manager.Config{
				Name:        manager.GPSProvider,
				Clock:       clk,
				Settings:    store,
				Permissions: perms,
			}, provider)
			mgr.StartManager()

			if replay != nil {
				go func() {
					if err := replay.Run(); err != nil {
						logger.WithError(err).Error("Replay driver failed")
					}
				}()
			}

			srv := server.New(logger, mgr, perms)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			go func() {
				<-stop
				logger.Info("Received stop signal")

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()

				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}

				if replay != nil {
					replay.Stop()
				}
				if walk != nil {
					walk.Stop()
				}
				mgr.StopManager()

				// release explicitly; the deferred release never runs on Exit
				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(listenAddr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "127.0.0.1:8750", "Address to serve the HTTP API on")
	cmd.Flags().StringVarP(&settingsPath, "settings", "s", "", "Path to a YAML or TOML settings file (live-reloaded)")
	cmd.Flags().StringVarP(&replayPath, "replay", "r", "", "Replay fixes from a JSON-lines file instead of the synthetic walk")
	cmd.Flags().Float64Var(&startLat, "lat", 47.6062, "Starting latitude for the synthetic walk")
	cmd.Flags().Float64Var(&startLng, "lng", -122.3321, "Starting longitude for the synthetic walk")

	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := pidfile.DefaultPath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}

			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := pidfile.DefaultPath()
			running, pid, err := pidfile.IsRunning(pidPath)

			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("Running (PID: %d)\n", pid)
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // non-zero for stopped, useful in scripts
			}
			return nil
		},
	}
}
