package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/api"
	"github.com/lailoo/vibe-blog/internal/config"
	"github.com/lailoo/vibe-blog/internal/documents"
	"github.com/lailoo/vibe-blog/internal/files"
	"github.com/lailoo/vibe-blog/internal/gitrepo"
	"github.com/lailoo/vibe-blog/internal/imagegen"
	"github.com/lailoo/vibe-blog/internal/knowledge"
	"github.com/lailoo/vibe-blog/internal/llm"
	"github.com/lailoo/vibe-blog/internal/logging"
	"github.com/lailoo/vibe-blog/internal/parser"
	"github.com/lailoo/vibe-blog/internal/review"
	"github.com/lailoo/vibe-blog/internal/search"
	"github.com/lailoo/vibe-blog/internal/store"
	"github.com/lailoo/vibe-blog/internal/tasks"
)

const (
	shutdownTimeout = 10 * time.Second
	taskRetention   = time.Hour
	janitorInterval = 10 * time.Minute
)

func main() {
	root := &cobra.Command{
		Use:           "backend",
		Short:         "Blog generation backend with the tutorial reviewer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), healthcheckCmd())
	// bare invocation serves, as the container entrypoint expects
	root.RunE = serveCmd().RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := config.Load()
			if err := settings.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(settings)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, logger.Sugar())
		},
	}
}

func serve(ctx context.Context, s *config.Settings, sugar *zap.SugaredLogger) error {
	for _, dir := range []string{s.OutputFolder, s.UploadFolder, s.ReposDir, filepath.Dir(s.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tuning := config.NewState()
	if err := config.WatchFile(ctx, s.ReviewerConfig, sugar, tuning.ApplyNewConfig); err != nil {
		sugar.Warnw("reviewer config watcher disabled", "path", s.ReviewerConfig, "error", err)
	}

	db, err := store.Open(ctx, s.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	model, err := llm.New(ctx, s, sugar)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	var searcher search.Searcher
	if ws := search.New(s.ZAISearchAPIKey, s.ZAISearchAPIBase, sugar); ws.Configured() {
		searcher = ws
	} else {
		sugar.Infow("web search disabled, ZAI_SEARCH_API_KEY not set")
	}

	repos := gitrepo.NewSyncer(s.ReposDir, sugar)
	repos.AllowLocal = s.AllowLocalRepos
	repos.Timeouts = func() (time.Duration, time.Duration) {
		g := tuning.Current().Git
		return g.CloneTimeout, g.PullTimeout
	}

	reviewer := review.NewService(review.Options{
		Store:  db,
		Repos:  repos,
		Agents: review.NewAgents(model, sugar),
		Search: searcher,
		Tuning: tuning,
		Logger: sugar,

		AllowLocalRepos: s.AllowLocalRepos,
	})

	registry := tasks.NewRegistry(sugar, taskRetention)
	registry.StartJanitor(ctx, janitorInterval)

	var conv parser.Converter
	if m := parser.NewMinerU(s.MinerUToken, s.MinerUAPIBase, s.UploadFolder, sugar); m.Configured() {
		conv = m
	} else {
		sugar.Infow("PDF conversion disabled, MINERU_TOKEN not set")
	}
	docs := documents.NewService(documents.Options{
		Store:     db,
		Parser:    parser.New(conv, sugar),
		Model:     model,
		Search:    searcher,
		Knowledge: knowledge.New(s.KnowledgeMaxContentLength, s.KnowledgeMaxDocItems, sugar),
		UploadDir: s.UploadFolder,
		Logger:    sugar,
	})

	var images api.ImageGenerator
	if g := imagegen.New(s.DashScopeAPIKey, s.DashScopeAPIBase, s.OutputFolder, sugar); g.Configured() {
		images = g
	} else {
		sugar.Infow("image generation disabled, DASHSCOPE_API_KEY not set")
	}

	maxUpload := int64(s.MaxUploadSize.Bytes())
	fileServer := files.NewServer([]files.Root{
		{Name: "outputs", Dir: s.OutputFolder, ReadOnly: true},
		{Name: "uploads", Dir: s.UploadFolder},
	}, maxUpload, sugar)

	router := api.NewRouter(api.Deps{
		Review:        reviewer,
		Tasks:         registry,
		Documents:     docs,
		Images:        images,
		Files:         fileServer,
		OutputDir:     s.OutputFolder,
		UploadDir:     s.UploadFolder,
		APIToken:      s.APIToken,
		RateLimitRPS:  s.RateLimitRPS,
		MaxUploadSize: maxUpload,
		Logger:        sugar,
	})

	srv := &http.Server{Addr: s.Addr(), Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("backend listening", "addr", srv.Addr, "provider", model.Model(), "env", s.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		registry.Close()
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	sugar.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown incomplete", "error", err)
	}
	registry.Close()
	return nil
}
