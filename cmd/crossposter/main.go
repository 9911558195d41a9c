package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/agent"
	"github.com/crossposter/crossposter/internal/api"
	"github.com/crossposter/crossposter/internal/atproto"
	"github.com/crossposter/crossposter/internal/config"
	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/events"
	"github.com/crossposter/crossposter/internal/llm"
	"github.com/crossposter/crossposter/internal/logging"
	"github.com/crossposter/crossposter/internal/mentions"
	"github.com/crossposter/crossposter/internal/search"
	"github.com/crossposter/crossposter/internal/secrets"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/store/memory"
	"github.com/crossposter/crossposter/internal/store/postgres"
	"github.com/crossposter/crossposter/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = config.Load
	newLogger  = logging.New
	newBroker  = events.NewBroker
	newStore   = func(cfg config.Config) (store.Store, func() error, error) {
		if cfg.StoreDriver == "memory" {
			return memory.New(), func() error { return nil }, nil
		}
		st, err := postgres.New(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	parseSecretsKey    = secrets.ParseKey
	newDraftPipeline   = buildDraftPipeline
	dialTemporal       = client.Dial
	newWorkflowService = func(c client.Client, taskQueue string) api.WorkflowService {
		return workflows.NewService(c, taskQueue)
	}
	newServer = func(deps api.Dependencies, cfg config.Config) server {
		return api.NewServer(deps, cfg)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	key, err := parseSecretsKey(cfg.CredentialsSecretsKey)
	if err != nil {
		return err
	}
	sealer, err := secrets.NewSealer(key)
	if err != nil {
		return err
	}

	workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}

	deps := api.Dependencies{
		Store:       st,
		Broker:      newBroker(),
		Workflows:   newWorkflowService(workflowClient, cfg.TemporalTaskQueue),
		Credentials: credentials.NewService(st, sealer),
		Logger:      logger,
	}
	drafts, err := newDraftPipeline(cfg, logger)
	if err != nil {
		logger.Warn("drafting disabled", zap.Error(err))
	} else {
		deps.Drafts = drafts
	}

	srv := newServer(deps, cfg)
	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("crossposter listening", zap.String("addr", addr), zap.String("store", cfg.StoreDriver))
	return srv.Start(ctx, addr)
}

func buildDraftPipeline(cfg config.Config, logger *zap.Logger) (api.DraftGenerator, error) {
	provider, err := llm.NewProvider(llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		GeminiAPIKey:     cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, err
	}
	tool, err := search.NewTool(search.Config{
		Provider: cfg.SearchProvider,
		APIKey:   cfg.SerpAPIKey,
		BaseURL:  cfg.SearchBaseURL,
	})
	if err != nil {
		return nil, err
	}
	runner := agent.NewRunner(provider, tool,
		agent.WithMaxTurns(cfg.AgentMaxTurns),
		agent.WithMaxResults(cfg.SearchMaxResults),
		agent.WithLogger(logger.Named("agent")),
	)
	resolver := mentions.NewResolver(runner, provider,
		mentions.WithResolveTimeout(cfg.ResolveTimeout),
		mentions.WithResolveConcurrency(cfg.ResolveConcurrency),
		mentions.WithResolverLogger(logger.Named("resolver")),
	)
	composer := mentions.NewComposer(provider,
		mentions.WithTruncateOverflow(cfg.BlueskyTruncateOverflow),
		mentions.WithComposerLogger(logger.Named("composer")),
	)
	directory := atproto.NewDirectory(cfg.DIDDirectoryURL, nil)
	return mentions.NewPipeline(
		mentions.NewExtractor(provider, cfg.OperatorName),
		resolver,
		composer,
		mentions.Strategies(directory),
		logger.Named("drafts"),
	), nil
}
