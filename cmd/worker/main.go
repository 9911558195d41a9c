package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/crossposter/crossposter/internal/config"
	"github.com/crossposter/crossposter/internal/credentials"
	"github.com/crossposter/crossposter/internal/logging"
	"github.com/crossposter/crossposter/internal/publish"
	"github.com/crossposter/crossposter/internal/secrets"
	"github.com/crossposter/crossposter/internal/store"
	"github.com/crossposter/crossposter/internal/store/memory"
	"github.com/crossposter/crossposter/internal/store/postgres"
	"github.com/crossposter/crossposter/internal/workflows"
)

var (
	loadConfig   = config.Load
	newLogger    = logging.New
	dialTemporal = client.Dial
	newStore     = func(cfg config.Config) (store.Store, func() error, error) {
		if cfg.StoreDriver == "memory" {
			return memory.New(), func() error { return nil }, nil
		}
		st, err := postgres.New(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	parseSecretsKey = secrets.ParseKey
	newActivities   = workflows.NewPublishActivities
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

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

	activities := newActivities(st, credentials.NewService(st, sealer), publish.Options{
		Logger:            logger.Named("publish"),
		TwitterAPIURL:     cfg.TwitterAPIURL,
		TwitterUploadURL:  cfg.TwitterUploadURL,
		LinkedInAPIURL:    cfg.LinkedInAPIURL,
		BlueskyServiceURL: cfg.BlueskyServiceURL,
	}, cfg.ControlPlaneURL, workflows.WithActivitiesLogger(logger.Named("activities")))

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PublishWorkflow)
	w.RegisterActivity(activities)

	logger.Info("crossposter worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	return w.Run(workerInterrupt())
}
