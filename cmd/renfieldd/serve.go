package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ebongard/renfield/internal/agent"
	"github.com/ebongard/renfield/internal/agentrouter"
	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/bus"
	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/devices"
	"github.com/ebongard/renfield/internal/feedback"
	"github.com/ebongard/renfield/internal/httpapi"
	"github.com/ebongard/renfield/internal/intent"
	"github.com/ebongard/renfield/internal/knowledge"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/memory"
	"github.com/ebongard/renfield/internal/notify"
	"github.com/ebongard/renfield/internal/orchestrator"
	"github.com/ebongard/renfield/internal/outputrouter"
	"github.com/ebongard/renfield/internal/ratelimit"
	"github.com/ebongard/renfield/internal/roomprefs"
	"github.com/ebongard/renfield/internal/session"
	"github.com/ebongard/renfield/internal/store/pg"
	"github.com/ebongard/renfield/internal/tracing"
	"github.com/google/uuid"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Renfield core daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	snap := cfg.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerShutdown, err := tracing.Setup(ctx, snap.Telemetry)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer tracerShutdown(context.Background())

	clock := clockcfg.SystemClock{}

	pool, err := pg.Open(ctx, snap.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: maxInt(snap.Breaker.FailureThreshold, 3),
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}, clock, log)

	gw := llm.NewOllamaGateway(cfg, breakers, log)

	convo := pg.NewConversationStore(pool)
	mem := memory.New(pool, gw, cfg, clock)
	kb := knowledge.New(pool, gw, cfg)
	fb := feedback.New(pool, clock)
	agentRouter := agentrouter.New(gw, cfg, agentrouter.DefaultRoleManifest())

	secrets := map[string]string{}
	hub := mcphub.New(cfg, breakers, log, secrets)
	if err := hub.Start(ctx); err != nil {
		log.Warn("mcphub start failed", "error", err)
	}
	defer hub.Stop()
	classifier := intent.New(gw, hub, fb)
	agentLoop := agent.New(gw, hub, cfg)

	rooms := pg.NewRoomStore(pool)
	roomCache := roomprefs.New()
	if err := roomCache.Reload(ctx, rooms.LoadAll); err != nil {
		log.Warn("room preference load failed", "error", err)
	}

	heartbeatTimeout := 90 * time.Second
	if d, perr := time.ParseDuration(snap.Gateway.HeartbeatTimeout); perr == nil && d > 0 {
		heartbeatTimeout = d
	}
	deviceMgr := devices.New(clock, heartbeatTimeout, roomprefs.DeviceManagerSource{Cache: roomCache})

	sessions := session.New(clock, snap.Gateway.MaxAudioBufferBytes)
	roomResolver := session.NewRoomResolver(sessions)

	router := outputrouter.New(roomprefs.OutputRouterSource{Cache: roomCache}, deviceMgr, deviceMgr, nil, nil, nil)

	var redisClient *redis.Client
	if snap.RateLimit.RedisURL != "" {
		opt, perr := redis.ParseURL(snap.RateLimit.RedisURL)
		if perr != nil {
			log.Warn("invalid rate limit redis url, falling back to in-process limiting", "error", perr)
		} else {
			redisClient = redis.NewClient(opt)
		}
	}

	var notifyStore notify.Store = pg.NewNotificationStore(pool)
	if redisClient != nil {
		notifyStore = notify.NewRedisDedupCache(notifyStore, redisClient)
	}
	suppression := pg.NewSuppressionRuleStore(pool, sessions)

	suppressionWindow := 10 * time.Minute
	if d, perr := time.ParseDuration(snap.Proactive.SuppressionWindow); perr == nil && d > 0 {
		suppressionWindow = d
	}
	notificationTTL := 24 * time.Hour
	if d, perr := time.ParseDuration(snap.Proactive.NotificationTTL); perr == nil && d > 0 {
		notificationTTL = d
	}
	notifySvc := notify.New(notifyStore, suppression, deviceMgr, router, nil, gw, clock, func() string { return uuid.NewString() }, notify.Config{
		SuppressionWindow:      suppressionWindow,
		SemanticDedupEnabled:   snap.Proactive.SemanticDedupEnabled,
		SemanticDedupThreshold: snap.Proactive.SemanticDedupThreshold,
		UrgencyAutoEnabled:     snap.Proactive.UrgencyAutoEnabled,
		EnrichmentEnabled:      snap.Proactive.EnrichmentEnabled,
		NotificationTTL:        notificationTTL,
		TTSDefault:             snap.Proactive.TTSDefault,
	}, log)

	if snap.Proactive.PollerEnabled {
		poller := notify.NewPoller(hub, notifySvc, log)
		go poller.Run(ctx)
	}

	reminderInterval := 30 * time.Second
	if d, perr := time.ParseDuration(snap.Proactive.ReminderCheckInterval); perr == nil && d > 0 {
		reminderInterval = d
	}
	reminders := notify.NewReminderScheduler(pg.NewReminderStore(pool), roomResolver, notifySvc, clock, notify.ParseSchedule(snap.Proactive.ReminderCheckInterval, reminderInterval), log)
	go reminders.Run(ctx)

	orch := orchestrator.New(orchestrator.Deps{
		Convo:      convo,
		Memories:   mem,
		MemRecon:   mem,
		Knowledge:  kb,
		Feedback:   fb,
		Classifier: classifier,
		AgentRoute: agentRouter,
		AgentLoop:  agentLoop,
		Tools:      hub,
		Catalog:    hub,
		Router:     router,
		Gateway:    gw,
	}, orchestrator.DefaultConfig(), log)

	limiter := ratelimit.New(ratelimit.RulesFromConfig(
		snap.RateLimit.RESTDefaultPerMin, snap.RateLimit.RESTAuthPerMin, snap.RateLimit.RESTVoicePerMin,
		snap.RateLimit.RESTChatPerMin, snap.RateLimit.RESTAdminPerMin, snap.RateLimit.WSMessagesPerSec, snap.RateLimit.WSMessagesPerMin,
	), redisClient)

	chatHub := bus.New(log)
	chatHandler := httpapi.NewChatHandler(orch, sessions, chatHub, log)
	deviceHandler := httpapi.NewDeviceHandler(deviceMgr, log)
	notifHandler := httpapi.NewNotificationHandler(notifySvc, httpapi.NewRotatableToken(snap.Proactive.WebhookToken), log)
	mcpHandler := httpapi.NewMCPStatusHandler(hub)
	metricsHandler := httpapi.NewMetricsHandler(breakers)

	srv := httpapi.New(cfg, limiter, chatHandler, deviceHandler, notifHandler, mcpHandler, metricsHandler, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("renfieldd shutdown initiated", "signal", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("httpapi shutdown error", "error", err)
		}
		cancel()
	}()

	log.Info("renfieldd starting", "version", Version, "addr", fmt.Sprintf("%s:%d", snap.Gateway.Host, snap.Gateway.Port))
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
