package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LinguaCrew/lingua-notify/config"
	"github.com/LinguaCrew/lingua-notify/internal/apiclient"
	"github.com/LinguaCrew/lingua-notify/internal/channel"
	"github.com/LinguaCrew/lingua-notify/internal/events"
	"github.com/LinguaCrew/lingua-notify/internal/push"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/services"
	"github.com/LinguaCrew/lingua-notify/store"
	"github.com/LinguaCrew/lingua-notify/types"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer logger.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Persistent cache when a path is configured, otherwise in-memory.
	var notificationStore store.NotificationStore
	if cfg.Cache.Path != "" {
		sqliteStore, err := store.NewSQLiteStore(cfg.Cache.Path, cfg.Sync.RetentionCap)
		if err != nil {
			log.Warnw("Falling back to in-memory store", "path", cfg.Cache.Path, "error", err)
			notificationStore = store.NewMemoryStore(cfg.Sync.RetentionCap)
		} else {
			defer sqliteStore.Close()
			notificationStore = sqliteStore
		}
	} else {
		notificationStore = store.NewMemoryStore(cfg.Sync.RetentionCap)
	}

	bus := events.NewBus(events.DefaultBufferSize)

	// Optional cross-process mirror for companion processes.
	var broadcaster *events.RedisBroadcaster
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warnw("Redis unreachable, running without cross-process broadcast", "error", err)
		} else {
			broadcaster = events.NewRedisBroadcaster(rdb)
			go mirrorToRedis(bus, broadcaster)
		}
		cancel()
		defer rdb.Close()
	}

	api := apiclient.NewClient(
		cfg.Server.APIBaseURL,
		os.Getenv("NOTIFY_CREDENTIAL"),
		apiclient.WithTimeout(cfg.Server.RequestTimeout()),
	)
	if csrf := os.Getenv("NOTIFY_CSRF_TOKEN"); csrf != "" {
		api.SetCSRFToken(csrf)
	}

	pushManager := push.NewManager(push.UnsupportedPlatform{}, api, types.DeviceTypeWeb)

	pool := services.NewWorkerPool(cfg.WorkerPool)
	pool.Start()

	coordinator := services.NewCoordinator(*cfg, notificationStore, api, pushManager, bus, pool,
		func(onNotification func(*types.Notification), onState func(channel.State)) services.RealtimeChannel {
			chCfg := channel.DefaultConfig(cfg.Server.ChannelURL)
			chCfg.Backoff.Initial = cfg.Backoff.InitialDelay()
			chCfg.Backoff.Max = cfg.Backoff.MaxDelay()
			chCfg.Backoff.Factor = cfg.Backoff.Factor
			chCfg.MaxAttempts = cfg.Backoff.MaxAttempts
			return channel.NewChannel(chCfg, onNotification, onState)
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Initialize(ctx, os.Getenv("NOTIFY_CREDENTIAL")); err != nil {
		log.Fatalf("Failed to initialize coordinator: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.WorkerPool.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Coordinator shutdown incomplete", "error", err)
	}
	if broadcaster != nil {
		if err := broadcaster.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Broadcaster shutdown incomplete", "error", err)
		}
	}
	if err := bus.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Event bus shutdown incomplete", "error", err)
	}
}

// mirrorToRedis relays feed events onto the Redis channel so companion
// processes observe the same feed changes.
func mirrorToRedis(bus *events.Bus, broadcaster *events.RedisBroadcaster) {
	sub, err := bus.Subscribe(context.Background(),
		types.EventTypeNotificationCreated,
		types.EventTypeNotificationUpdated,
		types.EventTypeNotificationRead,
		types.EventTypeNotificationsCleared,
		types.EventTypeInlineAlert,
	)
	if err != nil {
		return
	}
	defer sub.Unsubscribe()

	for event := range sub.Events() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := broadcaster.Publish(ctx, event); err != nil {
			logger.GetLogger().Debugw("Redis mirror publish failed", "error", err)
		}
		cancel()
	}
}
