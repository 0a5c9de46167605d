package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-fanout-service/internal/fanout"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-fanout-service/internal/platform/web"
	"github.com/tinywideclouds/go-fanout-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-fanout-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-fanout-service/pkg/store"

	"github.com/tinywideclouds/go-fanout-service/fanoutservice"
	"github.com/tinywideclouds/go-fanout-service/fanoutservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-fanout-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores (Decorated) ---
	docStore := fsStore.NewStore(fsClient)
	var users store.UserReader = docStore
	var scrubber store.TokenScrubber = docStore
	logger.Info("Document store initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cached := cache.NewCachedUserReader(users, scrubber, redisClient, 24*time.Hour)
		users, scrubber = cached, cached
		logger.Info("User reads upgraded", "type", "redis_cached_firestore")
	}

	// --- Push Gateway (FCM) ---
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	gateway := fcm.NewGateway(fcmMessaging, logger)

	// --- Web Push (optional) ---
	opts := fanout.Options{
		GatherConcurrency: cfg.Fanout.GatherConcurrency,
		CallTimeout:       cfg.Fanout.CallTimeout,
	}
	if cfg.Vapid.PrivateKey != "" && cfg.Vapid.PublicKey != "" {
		opts.Web = web.NewDispatcher(cfg.Vapid, logger)
		logger.Info("Web push enabled", "public_key", cfg.Vapid.PublicKey)
	} else {
		logger.Warn("VAPID keys missing; web push disabled.")
	}

	// --- Pipeline & Service ---
	handler := fanout.New(fanout.Stores{
		Containers: docStore,
		Users:      users,
		Messages:   docStore,
		Scrubber:   scrubber,
	}, gateway, logger, opts)

	consumer, err := newTriggerConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Trigger consumer failed", "err", err)
		os.Exit(1)
	}

	service, err := fanoutservice.New(cfg, consumer, handler, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newTriggerConsumer ensures the trigger subscription exists (with its DLQ
// policy) and wraps it as a pipeline consumer.
func newTriggerConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
