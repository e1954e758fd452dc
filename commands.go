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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	handler "multisource-digest/api"
	artifact "multisource-digest/api/artifact"
	cache "multisource-digest/api/cache"
	config "multisource-digest/api/config"
	constants "multisource-digest/api/constants"
	knowledge "multisource-digest/api/knowledge"
	llm "multisource-digest/api/llm"
	metrics "multisource-digest/api/metrics"
	mindmap "multisource-digest/api/mindmap"
	models "multisource-digest/api/models"
	podcast "multisource-digest/api/podcast"
	processor "multisource-digest/api/processor"
	router "multisource-digest/api/router"
	scraper "multisource-digest/api/scraper"
	workflow "multisource-digest/api/workflow"
)

func runCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one prompt through the workflow and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.workflow.Run(ctx, strings.Join(args, " "))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			opts := []handler.Option{handler.WithArtifacts(a.cfg.Output.Dir)}
			if a.cache != nil {
				opts = append(opts, handler.WithEvictor(a.cache, a.cfg.Cache.Retention, a.cfg.Server.UpdateKey))
			}
			if a.metrics != nil {
				opts = append(opts, handler.WithMetricsHandler(a.metrics.Handler()))
			}
			srv, err := handler.NewServer(a.workflow, opts...)
			if err != nil {
				return err
			}

			httpServer := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				constants.Logger.Info("Server starting", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				constants.Logger.Info("Server shutting down")
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return serve
}

func evictCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Remove cache entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			constants.SetLogLevel(cfg.Log.Level)

			c, err := openCache(cmd.Context(), cfg.Cache)
			if err != nil {
				return err
			}
			if c == nil {
				return errors.New("cache is disabled")
			}
			defer c.Close()

			n, err := c.EvictExpired(cmd.Context(), cfg.Cache.Retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d entries\n", n)
			return nil
		},
	}
}

// app holds every wired collaborator of one process.
type app struct {
	cfg       *config.Config
	workflow  *workflow.Workflow
	cache     *cache.Cache
	knowledge *knowledge.Store
	metrics   *metrics.Metrics
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	constants.SetLogLevel(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	a := &app{cfg: cfg}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	client, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens))
	if err != nil {
		return nil, err
	}
	speech, err := llm.NewSpeech(cfg.Speech.APIKey,
		llm.WithSpeechBaseURL(cfg.Speech.BaseURL),
		llm.WithSpeechModel(cfg.Speech.ModelID),
		llm.WithSampleRate(cfg.Speech.SampleRate),
		llm.WithSpeechHTTPClient(&http.Client{Timeout: cfg.Speech.Timeout}))
	if err != nil {
		return nil, err
	}

	var r router.Router = router.Local{}
	if cfg.Router.Mode == "assisted" {
		if r, err = router.NewAssisted(client); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: constants.ScrapeTimeout}
	a.knowledge, err = knowledge.NewStore(
		knowledge.WithHTTPClient(httpClient),
		knowledge.WithChunking(cfg.Knowledge.ChunkSize, cfg.Knowledge.Overlap))
	if err != nil {
		return nil, err
	}

	processors, err := newProcessors(cfg, client, a.knowledge, httpClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	dialogue, err := podcast.NewGenerator(client)
	if err != nil {
		a.Close()
		return nil, err
	}
	synth, err := podcast.NewSynthesizer(speech, cfg.Output.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	maps, err := mindmap.NewGenerator(client, cfg.Output.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []workflow.Option{
		workflow.WithPodcast(dialogue, synth, podcast.Voices{A: cfg.Speech.VoiceA, B: cfg.Speech.VoiceB}),
		workflow.WithMindmap(maps),
		workflow.WithMetrics(a.metrics),
	}

	a.cache, err = openCache(ctx, cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.cache != nil {
		opts = append(opts, workflow.WithCache(a.cache, cfg.Cache.Retention, cfg.Cache.CacheFailures))
	}

	if cfg.Artifact.Bucket != "" {
		uploader, err := artifact.New(ctx, artifact.Config{
			Bucket:    cfg.Artifact.Bucket,
			Endpoint:  cfg.Artifact.Endpoint,
			PublicURL: cfg.Artifact.PublicURL,
			Region:    cfg.Artifact.Region,
			Prefix:    cfg.Artifact.Prefix,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, workflow.WithUploader(uploader))
	}

	a.workflow, err = workflow.New(r, processors, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	constants.Logger.Info("Workflow ready",
		"router", cfg.Router.Mode,
		"cache", cfg.Cache.Driver,
		"upload", cfg.Artifact.Bucket != "",
		"metrics", cfg.Metrics.Enabled)
	return a, nil
}

func newProcessors(cfg *config.Config, client *llm.Client, store *knowledge.Store, httpClient *http.Client) (map[models.Bucket]processor.Processor, error) {
	pdf, err := processor.NewPDF(store, client, cfg.Knowledge.TopK)
	if err != nil {
		return nil, err
	}
	video, err := processor.NewVideo(scraper.NewTranscripts(httpClient), client)
	if err != nil {
		return nil, err
	}
	web, err := processor.NewWeb(scraper.NewPages(httpClient), client)
	if err != nil {
		return nil, err
	}
	text, err := processor.NewText(client)
	if err != nil {
		return nil, err
	}
	return map[models.Bucket]processor.Processor{
		models.BucketPDF:   pdf,
		models.BucketVideo: video,
		models.BucketWeb:   web,
		models.BucketText:  text,
	}, nil
}

// openCache returns nil when the cache is disabled.
func openCache(ctx context.Context, cfg config.CacheConfig) (*cache.Cache, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		store, err = cache.OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		store, err = cache.OpenPostgres(ctx, cfg.DSN)
	case "redis":
		store, err = cache.OpenRedis(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Driver, err)
	}
	return cache.New(store)
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			constants.Logger.Warn("Failed to close cache", "error", err)
		}
	}
	if a.knowledge != nil {
		if err := a.knowledge.Close(); err != nil {
			constants.Logger.Warn("Failed to close knowledge store", "error", err)
		}
	}
}
