package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/battle-replay/internal/api"
	"github.com/annel0/battle-replay/internal/app"
	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/eventbus"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/middleware"
	"github.com/annel0/battle-replay/internal/observability"
	"github.com/annel0/battle-replay/internal/recording"
	"github.com/annel0/battle-replay/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (по умолчанию $REPLAY_CONFIG)")
	demo := flag.Int("demo", 0, "Сколько демонстрационных боёв записать при старте")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := logging.InitDefaultLoggerWithOptions("server", app.LoggingOptions(cfg.Logging)); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎬 Запуск Battle Replay Server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТРАССИРОВКА ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Warn("⚠️ Трассировка отключена: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ХРАНИЛИЩЕ ===
	nodeID := uuid.NewString()
	storage, err := app.OpenStorage(ctx, cfg, registry, nodeID)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		logging.Error("❌ Ошибка подключения к шине событий: %v", err)
		log.Fatalf("❌ Ошибка подключения к шине событий: %v", err)
	}

	busLog := logging.GetEventBusLogger()
	logSub, err := eventbus.StartLoggingListener(ctx, bus, busLog)
	if err != nil {
		logging.Warn("⚠️ Логгер шины не подписан: %v", err)
	}

	exporter := eventbus.NewMetricsExporter(bus, registry)
	exporter.Start(5 * time.Second)

	var forwarder *eventbus.WebhookForwarder
	var hookSub eventbus.Subscription
	if targets := eventbus.TargetsFromConfig(cfg.EventBus.Webhooks); len(targets) > 0 {
		forwarder = eventbus.NewWebhookForwarder(targets, nil)
		if hookSub, err = forwarder.Attach(ctx, bus); err != nil {
			logging.Warn("⚠️ Webhook не подключены: %v", err)
		} else {
			logging.Info("🔗 Webhook получателей: %d", len(targets))
		}
	}

	publisher := eventbus.NewReplayPublisher(bus, storage.Codec, eventbus.WithQueueSize(cfg.EventBus.Buffer))

	// === REST API ===
	restAddr := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	restServer := api.NewRestServer(api.Config{
		Port:      restAddr,
		Replays:   storage.Adapter,
		Codec:     storage.Codec,
		JWTSecret: cfg.Auth.JWTSecret,
		Registry:  registry,
	})

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
		}
	}()

	// Отдельный порт для сборщика метрик
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	metricsRouter := gin.New()
	middleware.NewPrometheusMiddleware("replay_metrics", nil).RegisterMetricsEndpoint(metricsRouter, registry)
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsRouter, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка сервера метрик: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restAddr)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", metricsAddr)
	logging.Info("   💾 Хранилище: %s, кеш: %s", cfg.Storage.Backend, cfg.Cache.Backend)
	if cfg.Auth.JWTSecret == "" {
		logging.Warn("⚠️ REPLAY_JWT_SECRET не задан, загрузка реплеев без авторизации")
	}

	if *demo > 0 {
		recMetrics := recording.NewMetrics(registry)
		go recordDemo(ctx, cfg, storage, *demo, recording.WithObserver(publisher), recording.WithMetrics(recMetrics))
	}

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	cancel()

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	logging.Debug("Остановка REST API...")
	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}

	publisher.Close()
	if hookSub != nil {
		hookSub.Unsubscribe()
	}
	if forwarder != nil {
		forwarder.Close()
	}
	if logSub != nil {
		logSub.Unsubscribe()
	}
	exporter.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия шины: %v", err)
	}

	if err := storage.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия хранилища: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки трассировки: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// recordDemo записывает n смоделированных боёв и сохраняет их
func recordDemo(ctx context.Context, cfg *config.Config, storage *app.Storage, n int, opts ...recording.Option) {
	for i := 0; i < n; i++ {
		simCfg := sim.DefaultConfig()
		simCfg.Seed = time.Now().UnixNano() + int64(i)
		simCfg.Recording.Highlights = recording.ConfigFrom(cfg).Highlights

		simulator := sim.NewSimulator(simCfg, opts...)
		session, err := simulator.Run(ctx)
		if err != nil {
			logging.Warn("⚠️ Демо-бой прерван: %v", err)
			return
		}

		id, err := storage.Adapter.Save(ctx, session).Await(ctx)
		if err != nil {
			logging.Error("❌ Не удалось сохранить демо-бой: %v", err)
			continue
		}
		logging.Info("🎞️ Демо-бой %s записан: %d событий, %.1fс", id, len(session.Events), session.Duration)
	}
}
