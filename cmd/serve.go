package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stackharvest/internal/api"
	"github.com/JakeFAU/stackharvest/internal/checkpoint"
	"github.com/JakeFAU/stackharvest/internal/harvest"
	"github.com/JakeFAU/stackharvest/internal/storage/local"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve analyses over a harvested checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().String("checkpoint", "", "checkpoint file to serve (default the harvest output file)")
	cmd.Flags().String("output", "", "harvest output file, used when --checkpoint is unset")
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := cfg.Server.Checkpoint
	if path == "" {
		path = cfg.Output.File
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(path)})
	if err != nil {
		return fmt.Errorf("open checkpoint directory: %w", err)
	}
	name := filepath.Base(path)

	server, err := api.NewServer(api.Config{
		Source: path,
		Load: func(ctx context.Context) ([]harvest.Question, error) {
			return checkpoint.Load(ctx, store, name)
		},
		Logger: logger.Named("api"),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if _, err := server.Reload(ctx); err != nil {
		logger.Warn("no dataset loaded yet; POST /api/reload once the checkpoint exists",
			zap.String("checkpoint", path), zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
