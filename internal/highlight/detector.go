// Package highlight находит яркие моменты боя одним проходом по логу событий.
package highlight

import (
	"fmt"
	"sort"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/config"
)

// Config пороги детектора
type Config struct {
	StreakWindow           float64 // максимальный интервал между убийствами серии, секунды
	MinStreak              int     // минимальная серия, которая становится моментом
	MassiveDamageThreshold float64 // порог для самого сильного удара сессии
	CriticalAbility        string  // AbilityType, помечающий критический удар
}

// DefaultConfig возвращает пороги по умолчанию
func DefaultConfig() Config {
	return Config{
		StreakWindow:           2.0,
		MinStreak:              3,
		MassiveDamageThreshold: 100,
		CriticalAbility:        "Critical",
	}
}

// ConfigFrom переносит пороги из файла конфигурации
func ConfigFrom(hc config.HighlightsConfig) Config {
	return Config{
		StreakWindow:           hc.StreakWindowSeconds,
		MinStreak:              hc.MinStreak,
		MassiveDamageThreshold: hc.MassiveDamageThreshold,
		CriticalAbility:        hc.CriticalAbility,
	}.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.StreakWindow <= 0 {
		c.StreakWindow = d.StreakWindow
	}
	if c.MinStreak <= 0 {
		c.MinStreak = d.MinStreak
	}
	if c.MassiveDamageThreshold <= 0 {
		c.MassiveDamageThreshold = d.MassiveDamageThreshold
	}
	if c.CriticalAbility == "" {
		c.CriticalAbility = d.CriticalAbility
	}
	return c
}

// candidate момент вместе с номером события, на котором он возник
type candidate struct {
	moment battle.HighlightMoment
	seq    int
}

// Detector потоковая свёртка по упорядоченным событиям.
// Один экземпляр обрабатывает один лог; для повторного прогона создаётся новый.
type Detector struct {
	cfg Config
	seq int

	lastKillTime float64
	streakCount  int
	streakSlot   int // индекс момента текущей серии в pending, -1 если его нет

	maxHit    battle.BattleEvent
	maxHitSeq int
	hasMaxHit bool

	pending []candidate
}

// NewDetector создаёт детектор
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.normalized(), streakSlot: -1}
}

// Observe обрабатывает следующее событие лога
func (d *Detector) Observe(ev battle.BattleEvent) {
	seq := d.seq
	d.seq++

	switch ev.Type {
	case battle.EventUnitDied:
		d.observeKill(ev, seq)

	case battle.EventUnitAttacked:
		if ev.AbilityType == d.cfg.CriticalAbility {
			d.push(battle.HighlightMoment{
				Type:        battle.HighlightCriticalHit,
				Timestamp:   ev.Timestamp,
				Description: fmt.Sprintf("Critical hit for %.0f damage", ev.Value),
				Importance:  2,
				EntityID:    ev.SourceID,
				Position:    ev.Position,
			}, seq)
		}
		if !d.hasMaxHit || ev.Value > d.maxHit.Value {
			d.maxHit = ev
			d.maxHitSeq = seq
			d.hasMaxHit = true
		}

	case battle.EventBuildingDestroyed:
		d.push(battle.HighlightMoment{
			Type:        battle.HighlightStructureLoss,
			Timestamp:   ev.Timestamp,
			Description: structureLossText(ev),
			Importance:  3,
			EntityID:    ev.TargetID,
			Position:    ev.Position,
		}, seq)

	case battle.EventSpecialAbilityUsed:
		d.push(battle.HighlightMoment{
			Type:        battle.HighlightSpecialAbility,
			Timestamp:   ev.Timestamp,
			Description: abilityText(ev),
			Importance:  4,
			EntityID:    ev.SourceID,
			Position:    ev.Position,
		}, seq)

	case battle.EventBattleEnded:
		desc := "Defenders held the territory"
		if ev.Value > 0 {
			desc = "Attackers are victorious"
		}
		d.push(battle.HighlightMoment{
			Type:        battle.HighlightBattleOutcome,
			Timestamp:   ev.Timestamp,
			Description: desc,
			Importance:  5,
			Position:    ev.Position,
		}, seq)
	}
}

func (d *Detector) observeKill(ev battle.BattleEvent, seq int) {
	if d.streakCount > 0 && ev.Timestamp-d.lastKillTime <= d.cfg.StreakWindow {
		d.streakCount++
	} else {
		d.streakCount = 1
		d.streakSlot = -1
	}
	d.lastKillTime = ev.Timestamp

	if d.streakCount < d.cfg.MinStreak {
		return
	}

	moment := battle.HighlightMoment{
		Type:        battle.HighlightMultiKill,
		Timestamp:   ev.Timestamp,
		Description: StreakName(d.streakCount),
		Importance:  min(d.streakCount, 5),
		EntityID:    ev.SourceID,
		Position:    ev.Position,
	}

	// растущая серия обновляет свой же момент
	if d.streakSlot >= 0 {
		d.pending[d.streakSlot] = candidate{moment: moment, seq: seq}
		return
	}
	d.streakSlot = len(d.pending)
	d.push(moment, seq)
}

func (d *Detector) push(m battle.HighlightMoment, seq int) {
	d.pending = append(d.pending, candidate{moment: m, seq: seq})
}

// CurrentStreak возвращает длину текущей серии убийств
func (d *Detector) CurrentStreak() int { return d.streakCount }

// Finish возвращает моменты, отсортированные по убыванию важности;
// при равной важности сохраняется порядок событий. Состояние детектора не меняется.
func (d *Detector) Finish() []battle.HighlightMoment {
	all := make([]candidate, len(d.pending), len(d.pending)+1)
	copy(all, d.pending)

	if d.hasMaxHit && d.maxHit.Value > d.cfg.MassiveDamageThreshold {
		all = append(all, candidate{
			moment: battle.HighlightMoment{
				Type:        battle.HighlightMassiveDamage,
				Timestamp:   d.maxHit.Timestamp,
				Description: fmt.Sprintf("Massive hit: %.0f damage", d.maxHit.Value),
				Importance:  3,
				EntityID:    d.maxHit.SourceID,
				Position:    d.maxHit.Position,
			},
			seq: d.maxHitSeq,
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].moment.Importance != all[j].moment.Importance {
			return all[i].moment.Importance > all[j].moment.Importance
		}
		return all[i].seq < all[j].seq
	})

	out := make([]battle.HighlightMoment, len(all))
	for i, c := range all {
		out[i] = c.moment
	}
	return out
}

// Detect прогоняет детектор по всему логу
func Detect(events []battle.BattleEvent, cfg Config) []battle.HighlightMoment {
	d := NewDetector(cfg)
	for _, ev := range events {
		d.Observe(ev)
	}
	return d.Finish()
}

// StreakName подпись серии убийств для UI
func StreakName(n int) string {
	switch {
	case n <= 1:
		return "Kill"
	case n == 2:
		return "Double Kill"
	case n == 3:
		return "Triple Kill"
	case n == 4:
		return "Quadra Kill"
	default:
		return fmt.Sprintf("Rampage! %d kills", n)
	}
}

func structureLossText(ev battle.BattleEvent) string {
	if ev.UnitType != "" {
		return fmt.Sprintf("%s destroyed", ev.UnitType)
	}
	return "Structure destroyed"
}

func abilityText(ev battle.BattleEvent) string {
	if ev.AbilityType != "" {
		return fmt.Sprintf("%s unleashed", ev.AbilityType)
	}
	return "Special ability used"
}
