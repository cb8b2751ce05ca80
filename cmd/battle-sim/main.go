package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/annel0/battle-replay/internal/app"
	"github.com/annel0/battle-replay/internal/config"
	"github.com/annel0/battle-replay/internal/eventbus"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/persistence"
	"github.com/annel0/battle-replay/internal/recording"
	"github.com/annel0/battle-replay/internal/sim"
)

func main() {
	def := sim.DefaultConfig()

	configPath := flag.String("config", "", "Путь к YAML конфигурации")
	seed := flag.Int64("seed", def.Seed, "Зерно генератора боя")
	waves := flag.Int("waves", def.Waves, "Количество волн атакующих")
	waveSize := flag.Int("wave-size", def.WaveSize, "Юнитов в волне")
	defenders := flag.Int("defenders", def.Defenders, "Количество защитников")
	towers := flag.Int("towers", def.Towers, "Количество башен")
	maxDuration := flag.Float64("duration", def.MaxDuration, "Максимальная длительность боя, секунд")
	territory := flag.String("territory", def.TerritoryID, "ID территории")
	out := flag.String("out", "", "Записать документ сессии в файл")
	save := flag.Bool("save", false, "Сохранить сессию в хранилище из конфигурации")
	verbose := flag.Bool("v", false, "Печатать события боя")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := logging.InitDefaultLoggerWithOptions("battle-sim", app.LoggingOptions(cfg.Logging)); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	simCfg := def
	simCfg.Seed = *seed
	simCfg.Waves = *waves
	simCfg.WaveSize = *waveSize
	simCfg.Defenders = *defenders
	simCfg.Towers = *towers
	simCfg.MaxDuration = *maxDuration
	simCfg.TerritoryID = *territory
	simCfg.Recording.Highlights = highlight.ConfigFrom(cfg.Highlights)

	codec := persistence.NewCodec(simCfg.Recording.Highlights)

	// Локальная шина: события боя уходят в лог
	bus := eventbus.NewMemoryBus(cfg.EventBus.Buffer)
	defer bus.Close()
	if *verbose {
		if _, err := eventbus.StartLoggingListener(ctx, bus, logging.Default()); err != nil {
			log.Fatalf("❌ Ошибка подписки на шину: %v", err)
		}
	}
	publisher := eventbus.NewReplayPublisher(bus, codec, eventbus.WithSource("battle-sim"))

	logging.Info("⚔️ Симуляция боя: seed=%d, волн=%d×%d, защитников=%d, башен=%d",
		simCfg.Seed, simCfg.Waves, simCfg.WaveSize, simCfg.Defenders, simCfg.Towers)

	simulator := sim.NewSimulator(simCfg, recording.WithObserver(publisher))
	session, err := simulator.Run(ctx)
	publisher.Close()
	if err != nil {
		log.Fatalf("❌ Бой прерван: %v", err)
	}

	winner := "защитники"
	if session.AttackerWon {
		winner = "атакующие"
	}
	fmt.Printf("Сессия %s: %.1fс, %d событий, победили %s\n", session.ID, session.Duration, len(session.Events), winner)
	fmt.Printf("  Атакующие: урон %.0f, потеряно %d/%d\n",
		session.Stats.Attacker.DamageDealt, session.Stats.Attacker.UnitsLost, session.Stats.Attacker.UnitsDeployed)
	fmt.Printf("  Защитники: урон %.0f, потеряно %d/%d, зданий разрушено %d\n",
		session.Stats.Defender.DamageDealt, session.Stats.Defender.UnitsLost, session.Stats.Defender.UnitsDeployed,
		session.Stats.BuildingsDestroyed)
	for _, h := range session.Highlights {
		fmt.Printf("  ★ %6.1fс %-16s %s\n", h.Timestamp, h.Type, h.Description)
	}

	if *out != "" {
		data, err := codec.EncodeSession(session)
		if err != nil {
			log.Fatalf("❌ Ошибка кодирования сессии: %v", err)
		}
		if err := os.WriteFile(*out, data, 0644); err != nil {
			log.Fatalf("❌ Ошибка записи %s: %v", *out, err)
		}
		logging.Info("💾 Документ сессии записан в %s", *out)
	}

	if *save {
		storage, err := app.OpenStorage(ctx, cfg, nil, uuid.NewString())
		if err != nil {
			log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
		}
		defer storage.Close()

		id, err := storage.Adapter.Save(ctx, session).Await(ctx)
		if err != nil {
			log.Fatalf("❌ Ошибка сохранения: %v", err)
		}
		logging.Info("💾 Сессия %s сохранена (%s)", id, cfg.Storage.Backend)
	}
}
