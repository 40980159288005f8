// Command server runs the mailbox intelligence engine: the supervised
// pipeline, its HTTP API, and the event stream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/ignite/mailmind/internal/analyst"
	"github.com/ignite/mailmind/internal/analyzer"
	"github.com/ignite/mailmind/internal/api"
	"github.com/ignite/mailmind/internal/archive"
	"github.com/ignite/mailmind/internal/config"
	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/enricher"
	"github.com/ignite/mailmind/internal/extractor"
	"github.com/ignite/mailmind/internal/ingest"
	"github.com/ignite/mailmind/internal/llm"
	"github.com/ignite/mailmind/internal/mailsource"
	"github.com/ignite/mailmind/internal/organizer"
	"github.com/ignite/mailmind/internal/pipeline"
	"github.com/ignite/mailmind/internal/pkg/logger"
	"github.com/ignite/mailmind/internal/store/postgres"
	"github.com/ignite/mailmind/internal/supervisor"
	"github.com/ignite/mailmind/internal/synthesizer"
)

func main() {
	configPath := "config/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	accountID := os.Getenv("MAILMIND_ACCOUNT_ID")
	ownerAddress := os.Getenv("MAILMIND_OWNER_ADDRESS")
	if accountID != "" && ownerAddress != "" {
		if err := store.EnsureAccount(ctx, accountID, ownerAddress); err != nil {
			log.Fatalf("ensure account: %v", err)
		}
	}

	// Redis backs the rate limiter, per-account locks, and the event stream.
	// Everything degrades to in-process equivalents without it.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("parse redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-process limits", "error", err)
			redisClient = nil
		}
	}

	source := mailsource.NewGmail(cfg.Mail.BaseURL, gmailTokenSource(), cfg.Mail.Timeout(), cfg.Mail.PageSize)

	bedrock, err := llm.NewBedrock(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("init bedrock: %v", err)
	}

	var limiter analyst.Limiter
	var sink supervisor.EventSink
	var locks pipeline.LockFactory
	if redisClient != nil {
		limiter = analyst.NewRedisLimiter(redisClient, cfg.Pool.RatePerMinute, cfg.Pool.RateBurst)
		sink = supervisor.NewRedisSink(redisClient)
		locks = pipeline.NewRedisLockFactory(redisClient)
	} else {
		limiter = analyst.NewLocalLimiter(cfg.Pool.RatePerMinute, cfg.Pool.RateBurst)
	}

	super := supervisor.New(store, sink, cfg.Job)

	deps := pipeline.Deps{
		Store:     store,
		Super:     super,
		Extractor: extractor.New(source, store, cfg.Extractor),
		Ingester:  ingest.New(source, store, cfg.Ingest),
		Analyzer:  analyzer.NewRunner(analyzerStore{store}, store, cfg.Analyzer, nil),
		Organizer: organizer.New(cfg.Organizer, nil),
		Pool:      analyst.NewPool(bedrock, limiter, cfg.LLM, cfg.Pool),
		Synth:     synthesizer.New(nil),
		Locks:     locks,
		Config:    cfg,
	}
	if cfg.Enricher.Enabled {
		deps.Enricher = enricher.New(store, time.Duration(cfg.Enricher.TimeoutSeconds)*time.Second)
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" {
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			log.Fatalf("init archiver: %v", err)
		}
		deps.Archiver = archiver
	}

	pipe := pipeline.New(deps)
	server := api.NewServer(api.NewHandlers(pipe, super, store))

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		log.Fatalf("http server: %v", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// analyzerStore narrows the store's message filter to the analyzer's query.
type analyzerStore struct {
	*postgres.Store
}

func (s analyzerStore) GetMessages(ctx context.Context, accountID string, q analyzer.MessageQuery) ([]domain.Message, error) {
	return s.Store.GetMessages(ctx, accountID, postgres.MessageFilter{ContactEmail: q.ContactEmail})
}

// gmailTokenSource builds the OAuth token source for the Gmail API. A static
// access token serves development; a refresh token keeps production sessions
// alive.
func gmailTokenSource() oauth2.TokenSource {
	if refresh := os.Getenv("GMAIL_REFRESH_TOKEN"); refresh != "" {
		conf := &oauth2.Config{
			ClientID:     os.Getenv("GMAIL_CLIENT_ID"),
			ClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		}
		return conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refresh})
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: os.Getenv("GMAIL_ACCESS_TOKEN")})
}
