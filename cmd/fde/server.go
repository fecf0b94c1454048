package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fde-io/fde/pkg/chunks"
	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/deploy"
	"github.com/fde-io/fde/pkg/server"
	"github.com/fde-io/fde/pkg/storage"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the fde server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fde server",
	Long: `Start the HTTP server that receives uploads and runs deploy
commands. The same config file the client uses drives the server: each
environment's uploadPath and deployCommand describe what arrives and
what runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		chunkDir, _ := cmd.Flags().GetString("chunk-dir")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if chunkDir == "" {
			chunkDir = filepath.Join(os.TempDir(), chunks.DefaultRootName)
		}
		chunkStore, err := chunks.NewStore(chunkDir)
		if err != nil {
			return fmt.Errorf("failed to open chunk store: %w", err)
		}

		results, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		defer results.Close()

		deployMgr := deploy.NewManager(results)
		srv := server.New(cfg, chunkStore, deployMgr)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(listen)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.AddCommand(serverStartCmd)

	serverStartCmd.Flags().String("listen", ":8080", "Listen address")
	serverStartCmd.Flags().String("data-dir", "./fde-data", "Data directory for deploy history")
	serverStartCmd.Flags().String("chunk-dir", "", "Chunk staging directory (default: <tmp>/fde-chunks)")
}
