package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mentora-ai/mentora/internal/config"
	"github.com/mentora-ai/mentora/internal/executor"
	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/internal/server"
	"github.com/mentora-ai/mentora/internal/storage"
	"github.com/mentora-ai/mentora/internal/supervisor"
	"github.com/mentora-ai/mentora/internal/syllabus"
	"github.com/mentora-ai/mentora/internal/tool"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Mentora session core",
	Long: `Start the session core as an HTTP server: message ingress, snapshot
introspection and SSE streams for learner clients.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory for project config")
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; real environment always wins.
	_ = godotenv.Load()

	workDir := serveDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		workDir = wd
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	store := storage.New(paths.StoragePath())

	syl := syllabus.Default()
	if cfg.SyllabusPath != "" {
		loaded, err := syllabus.Load(cfg.SyllabusPath)
		if err != nil {
			return err
		}
		if err := loaded.Watch(); err != nil {
			logging.Warn().Err(err).Msg("syllabus hot reload unavailable")
		}
		defer loaded.Close()
		syl = loaded
	}

	var toolset tool.Toolset = tool.Static{}
	if cfg.Provider != nil && cfg.Provider.APIKey != "" {
		toolset = tool.NewOpenAI(*cfg.Provider)
		logging.Info().Str("model", cfg.Provider.Model).Msg("using LLM toolset")
	} else {
		logging.Warn().Msg("no provider configured, using offline toolset")
	}

	exec := executor.New(toolset, cfg.ExecutorConcurrencyCap, cfg.ExecutorQueueCap)
	defer exec.Close()

	sup := supervisor.New(supervisor.Params{
		Config:   cfg,
		Executor: exec,
		Syllabus: syl,
		Store:    store,
	})

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	srv := server.New(serverConfig, sup, syl)

	go func() {
		logging.Info().Int("port", servePort).Str("version", Version).Msg("mentora listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}
	sup.Shutdown(shutdownCtx)

	logging.Info().Msg("stopped")
	return nil
}
