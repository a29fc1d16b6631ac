// Command mirrorserver runs the Velox-Air LAN screen-mirroring server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/config"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/logging"
	"github.com/jonesdeveloperchung-pixel/Velox-Air/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		stateDir   string
		staticDir  string
		logPath    string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "mirrorserver",
		Short: "Velox-Air LAN screen-mirroring server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start capturing and serving the mirrored display",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.New(logging.Config{FilePath: logPath, Debug: debug})

			if stateDir == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate executable: %w", err)
				}
				stateDir = filepath.Dir(exe)
			}

			srv, err := server.New(cfg, logger, stateDir)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			wg.Add(1)
			var runErr error
			go func() {
				defer wg.Done()
				runErr = srv.Run(ctx, staticDir)
			}()
			wg.Wait()

			return runErr
		},
	}

	serveCmd.Flags().StringVar(&configPath, "config", "config.v6.toml", "path to the TOML configuration file")
	serveCmd.Flags().StringVar(&stateDir, "state-dir", "", "directory for runtime_state.json (default: the executable's directory)")
	serveCmd.Flags().StringVar(&staticDir, "static-dir", "", "directory of viewer web assets")
	serveCmd.Flags().StringVar(&logPath, "log-file", "", "optional rotating log file path")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd)
	return root
}
