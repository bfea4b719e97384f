package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/api"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/db"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/digest"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/encryption"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/storage"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/sync"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/token"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "cloud-dms",
		Short:   "OneDrive connector for yacht document management",
		Long:    `Connects per-yacht OneDrive accounts and syncs their documents into storage and the ingestion pipeline.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A .env file is optional; real deployments set the environment directly.
			_ = godotenv.Load()

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		syncCmd(),
		statusCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// services bundles everything a command needs once config is loaded.
type services struct {
	cfg        *config.Config
	database   *db.DB
	tokens     *token.Manager
	objects    *storage.Store
	notifier   *digest.Client
	classifier *classify.Classifier
	runner     *sync.Runner
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cipher, err := encryption.NewCipher(cfg.Encryption.Key)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	objects, err := storage.NewStore(&cfg.Storage)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	classifier := classify.New()
	if cfg.Sync.RulesFile != "" {
		classifier, err = classify.LoadRules(cfg.Sync.RulesFile)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to load classification rules: %w", err)
		}
	}

	tokens := token.NewManager(database, cipher, &cfg.Azure)
	notifier := digest.NewClient(&cfg.Digest)
	runner := sync.NewRunner(database, tokens, objects, notifier, classifier, &cfg.Sync)

	return &services{
		cfg:        cfg,
		database:   database,
		tokens:     tokens,
		objects:    objects,
		notifier:   notifier,
		classifier: classifier,
		runner:     runner,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long:  `Starts the API server used by the dashboard: OAuth connect/callback, OneDrive browsing, and sync control.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			svc, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer svc.database.Close()

			if err := svc.database.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if err := svc.objects.EnsureBucket(ctx); err != nil {
				return fmt.Errorf("failed to prepare bucket: %w", err)
			}

			server := api.NewServer(svc.database, svc.tokens, svc.runner, svc.classifier, &svc.cfg.Server)

			httpSrv := &http.Server{
				Addr:    fmt.Sprintf("%s:%d", svc.cfg.Server.Host, svc.cfg.Server.Port),
				Handler: server.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("http server listening", "addr", httpSrv.Addr)
				errCh <- httpSrv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigCh:
				slog.Info("shutting down...")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func syncCmd() *cobra.Command {
	var yachtID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync job for a yacht, then exit",
		Long:  `Runs a full sync of the yacht's selected OneDrive folders and exits. The yacht must already be connected via the dashboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, err := buildServices(ctx)
			if err != nil {
				return err
			}
			defer svc.database.Close()

			conn, err := svc.database.GetActiveConnection(ctx, yachtID)
			if err != nil {
				return fmt.Errorf("failed to look up connection: %w", err)
			}
			if conn == nil {
				return fmt.Errorf("no active connection for yacht %q", yachtID)
			}

			job, err := svc.runner.CreateJob(ctx, conn)
			if err != nil {
				return err
			}

			var bar *progressbar.ProgressBar
			svc.runner.SetProgress(func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Syncing files"),
						progressbar.OptionShowCount(),
						progressbar.OptionSetWidth(40),
					)
				}
				bar.Set(done)
			})

			if err := svc.runner.Run(ctx, conn, job); err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if bar != nil {
				bar.Finish()
			}

			final, err := svc.database.GetSyncJob(ctx, job.ID)
			if err != nil {
				return err
			}
			fmt.Printf("\nSync completed: %d succeeded, %d failed of %d files.\n",
				final.FilesSucceeded, final.FilesFailed, final.TotalFiles)
			return nil
		},
	}

	cmd.Flags().StringVar(&yachtID, "yacht", "", "yacht identifier")
	cmd.MarkFlagRequired("yacht")
	return cmd
}

func statusCmd() *cobra.Command {
	var yachtID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection and sync status",
		Long:  `Shows database connectivity and, for a given yacht, the OneDrive connection and recent sync jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				fmt.Printf("Database Status: Disconnected\n")
				fmt.Printf("Error: %v\n", err)
				return nil
			}
			defer database.Close()

			fmt.Println("=== Cloud-DMS Status ===")
			fmt.Printf("Database Status: Connected\n")
			fmt.Printf("  Host: %s\n", cfg.Database.Host)
			fmt.Printf("  Database: %s\n", cfg.Database.Database)

			if yachtID == "" {
				return nil
			}

			conn, err := database.GetActiveConnection(ctx, yachtID)
			if err != nil {
				return fmt.Errorf("failed to look up connection: %w", err)
			}
			fmt.Println()
			if conn == nil {
				fmt.Printf("Yacht %q: not connected\n", yachtID)
				return nil
			}

			fmt.Printf("Yacht %q: connected\n", yachtID)
			fmt.Printf("  Account: %s\n", conn.UserPrincipalName)
			fmt.Printf("  Token expires: %s\n", conn.TokenExpiresAt.Format(time.RFC3339))
			if conn.LastSyncAt != nil {
				fmt.Printf("  Last sync: %s\n", conn.LastSyncAt.Format(time.RFC3339))
			}
			if len(conn.SelectedFolders) > 0 {
				fmt.Printf("  Selected folders: %v\n", conn.SelectedFolders)
			}

			jobs, err := database.ListSyncJobs(ctx, conn.ID, 5)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if len(jobs) > 0 {
				fmt.Println("\nRecent sync jobs:")
				for _, j := range jobs {
					fmt.Printf("  %s  %-9s  %d/%d ok, %d failed\n",
						j.CreatedAt.Format("2006-01-02 15:04"),
						j.Status, j.FilesSucceeded, j.TotalFiles, j.FilesFailed)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&yachtID, "yacht", "", "yacht identifier")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Runs all pending database migrations. Migrations are embedded in the binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			database, err := db.New(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer database.Close()

			if err := database.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations completed successfully.")
			return nil
		},
	}
}
