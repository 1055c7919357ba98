package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/couchcast/internal/config"
	"github.com/stwalsh4118/couchcast/internal/db"
	"github.com/stwalsh4118/couchcast/internal/logger"
	"github.com/stwalsh4118/couchcast/internal/queue"
	"github.com/stwalsh4118/couchcast/internal/server"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "couchcast",
		Short:         "couchcast plays a shared video queue on the living room screen",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newMigrateCmd(), newPlaylistCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API, the player and the downloader",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Log.Info().Msg("couchcast starting")
			if err := server.New(cfg, database).Run(ctx); err != nil {
				logger.Log.Error().Err(err).Msg("couchcast stopped with error")
				return err
			}
			logger.Log.Info().Msg("couchcast stopped")
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, database, err := bootstrap()
			if err != nil {
				return err
			}
			return database.Close()
		},
	}
}

func newPlaylistCmd() *cobra.Command {
	playlist := &cobra.Command{
		Use:   "playlist",
		Short: "Manage playlists",
	}

	var (
		userName string
		name     string
		keep     bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a playlist, creating its user on first use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, database, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.Close()

			service := queue.NewService(db.NewRepositories(database), nil)
			created, err := service.CreatePlaylist(cmd.Context(), userName, name, !keep)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", created.ID)
			return nil
		},
	}
	create.Flags().StringVar(&userName, "user", "", "display name of the playlist owner")
	create.Flags().StringVar(&name, "name", "", "playlist name")
	create.Flags().BoolVar(&keep, "keep", false, "keep items in the queue after they play")
	_ = create.MarkFlagRequired("user")
	_ = create.MarkFlagRequired("name")

	playlist.AddCommand(create)
	return playlist
}

// bootstrap loads configuration, initializes logging, opens the database and migrates it
func bootstrap() (*config.Config, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Pretty:     cfg.Logging.Pretty,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectionTimeout)
	defer cancel()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Health(ctx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("database not healthy: %w", err)
	}

	sqlDB, err := database.GetSQLDB()
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	if err := db.RunMigrations(sqlDB, cfg.Database.MigrationsPath); err != nil {
		_ = database.Close()
		return nil, nil, err
	}

	logger.Log.Info().
		Str("path", cfg.Database.Path).
		Msg("Database ready")

	return cfg, database, nil
}
