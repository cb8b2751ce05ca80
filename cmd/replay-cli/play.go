package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/playback"
)

// consoleListener печатает переходы воспроизведения
type consoleListener struct {
	playback.NopListener
	w     io.Writer
	ended chan struct{}
}

func (l *consoleListener) OnPlaybackStateChanged(from, to playback.State) {
	fmt.Fprintf(l.w, "⏯  %s → %s\n", from, to)
}

func (l *consoleListener) OnSeek(t float64, state battle.BattlefieldState) {
	fmt.Fprintf(l.w, "⏩ %.2fс: юнитов %d, зданий %d\n", t, len(state.ActiveUnits), len(state.ActiveBuildings))
}

func (l *consoleListener) OnReplayEnded() {
	select {
	case <-l.ended:
	default:
		close(l.ended)
	}
}

// playSession проигрывает сессию в реальном времени с множителем speed,
// печатая события и яркие моменты по мере их наступления.
func playSession(ctx context.Context, w io.Writer, s *battle.Session, speed, seek float64, tick time.Duration) error {
	listener := &consoleListener{w: w, ended: make(chan struct{})}
	ctrl := playback.NewController(playback.DefaultConfig(), playback.WithListener(listener))
	if err := ctrl.Load(s); err != nil {
		return err
	}
	if _, err := ctrl.SetSpeed(speed); err != nil {
		return err
	}
	if seek > 0 {
		if err := ctrl.SeekTo(seek); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "🎬 Реплей %s: %.1fс, %d событий, скорость %.2gx\n", s.ID, s.Duration, len(s.Events), ctrl.Speed())
	if err := ctrl.Play(); err != nil {
		return err
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	moments := append([]battle.HighlightMoment(nil), s.Highlights...)
	sort.SliceStable(moments, func(i, j int) bool { return moments[i].Timestamp < moments[j].Timestamp })
	next := 0
	for next < len(moments) && moments[next].Timestamp < ctrl.CurrentTime() {
		next++
	}

	for {
		select {
		case <-ctx.Done():
			ctrl.Stop()
			return ctx.Err()
		case <-listener.ended:
			fmt.Fprintf(w, "🏁 Конец реплея на %.2fс\n", ctrl.CurrentTime())
			return nil
		case <-ticker.C:
			for _, ev := range ctrl.Tick(tick.Seconds()) {
				printEvent(w, ev)
			}
			// моменты печатаются вслед за событиями своего шага
			for ; next < len(moments) && moments[next].Timestamp <= ctrl.CurrentTime(); next++ {
				fmt.Fprintf(w, "  ★ %s: %s\n", moments[next].Type, moments[next].Description)
			}
		}
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(w io.Writer, ev battle.BattleEvent) {
	side := "DEF"
	if ev.IsAttackerSide {
		side = "ATK"
	}
	fmt.Fprintf(w, "[%7.2f] %s %-20s", ev.Timestamp, side, ev.Type)

	switch ev.Type {
	case battle.EventUnitSpawned, battle.EventUnitMoved:
		fmt.Fprintf(w, " %s (%s) @ %.1f,%.1f", ev.UnitID, ev.UnitType, ev.Position.X, ev.Position.Z)
	case battle.EventUnitAttacked, battle.EventDefenseFired, battle.EventBuildingDamaged:
		fmt.Fprintf(w, " %s → %s: %.0f", ev.SourceID, ev.TargetID, ev.Value)
		if ev.AbilityType != "" {
			fmt.Fprintf(w, " [%s]", ev.AbilityType)
		}
	case battle.EventUnitDied:
		fmt.Fprintf(w, " %s убит %s", ev.UnitID, ev.SourceID)
	case battle.EventBuildingDestroyed:
		fmt.Fprintf(w, " %s разрушено", ev.TargetID)
	case battle.EventSpecialAbilityUsed:
		fmt.Fprintf(w, " %s: %s", ev.SourceID, ev.AbilityType)
	case battle.EventResourceCaptured:
		fmt.Fprintf(w, " %s +%.0f", ev.UnitID, ev.Value)
	}
	fmt.Fprintln(w)
}
