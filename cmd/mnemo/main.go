package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/mnemo/internal/profile"
	"github.com/hrygo/mnemo/internal/version"
	"github.com/hrygo/mnemo/mcos"
	"github.com/hrygo/mnemo/mcos/model"
	"github.com/hrygo/mnemo/mcos/observability/logging"
	"github.com/hrygo/mnemo/mcos/observability/metrics"
	"github.com/hrygo/mnemo/store"
	"github.com/hrygo/mnemo/store/db/postgres"
	"github.com/hrygo/mnemo/store/db/sqlite"
	"github.com/hrygo/mnemo/store/object"
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Memory and context orchestration service for conversational assistants.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Ignore a missing .env; env vars win either way.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		logger := logging.Default()
		if err := instanceProfile.Validate(); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
		if err := run(instanceProfile, logger); err != nil {
			logger.Error("service failed", "error", err)
			os.Exit(1)
		}
	},
}

func run(p *profile.Profile, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !p.IsModelEnabled() {
		return errors.New("MNEMO_MODEL_API_KEY is required")
	}
	adapter, err := model.NewOpenAIAdapter(model.Config{
		APIKey:         p.ModelAPIKey,
		BaseURL:        p.ModelBaseURL,
		ChatModel:      p.ModelChatModel,
		EmbeddingModel: p.ModelEmbeddingModel,
		EmbedDim:       p.ModelEmbedDim,
		Timeout:        time.Duration(p.ModelTimeout) * time.Second,
		RequestsPerSec: p.ModelRequestsPerSec,
	})
	if err != nil {
		return err
	}

	vectors, profiles, closeDB, err := openStores(ctx, p)
	if err != nil {
		return err
	}
	defer closeDB()

	objects, err := object.New(p.ObjectDir)
	if err != nil {
		return err
	}

	exporter := metrics.NewExporter(metrics.Config{})
	adapter.WithStats(func(_ string, stats model.CallStats) {
		exporter.AddModelTokens(stats.PromptTokens, stats.CompletionTokens)
	})

	svc, err := mcos.New(mcos.DefaultConfig(), mcos.Options{
		VectorStore: vectors,
		ProfileDocs: profiles,
		Adapter:     adapter,
		Objects:     objects,
		Logger:      logger,
		Metrics:     exporter,
	})
	if err != nil {
		return err
	}
	svc.StartJanitor(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", p.Addr, p.Port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	printGreetings(p)

	// Trigger graceful shutdown on SIGINT or SIGTERM. SIGTERM is what most
	// process managers (systemd, kubernetes) send.
	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	select {
	case <-c:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	if err := svc.Close(30 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

// openStores builds the storage drivers for the configured backend. Postgres
// carries both vectors and profiles; sqlite carries profiles only and needs
// MNEMO_VECTOR_DSN pointing at a pgvector database.
func openStores(ctx context.Context, p *profile.Profile) (store.VectorStore, store.ProfileDocStore, func(), error) {
	switch p.Driver {
	case "postgres":
		db, err := postgres.NewDB(p.DSN, p.ModelEmbedDim)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db.Records(), db.Profiles(), func() { db.Close() }, nil

	case "sqlite":
		vectorDSN := os.Getenv("MNEMO_VECTOR_DSN")
		if vectorDSN == "" {
			return nil, nil, nil, errors.New("sqlite driver needs MNEMO_VECTOR_DSN for vector search (pgvector)")
		}
		pg, err := postgres.NewDB(vectorDSN, p.ModelEmbedDim)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		lite, err := sqlite.NewDB(p.DSN)
		if err != nil {
			pg.Close()
			return nil, nil, nil, err
		}
		if err := lite.Migrate(ctx); err != nil {
			pg.Close()
			lite.Close()
			return nil, nil, nil, err
		}
		return pg.Records(), lite, func() { pg.Close(); lite.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown driver %q", p.Driver)
	}
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("Mnemo %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.Addr == "" {
		fmt.Printf("Listening on port %d\n", p.Port)
	} else {
		fmt.Printf("Listening on %s:%d\n", p.Addr, p.Port)
	}
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "postgres")
	viper.SetDefault("port", 28091)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28091, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("mnemo")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
