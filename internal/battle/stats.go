package battle

// SideStats агрегаты одной стороны боя
type SideStats struct {
	DamageDealt       float64 `json:"damageDealt"`
	DPS               float64 `json:"dps"`
	UnitsDeployed     int     `json:"unitsDeployed"`
	UnitsLost         int     `json:"unitsLost"`
	AbilitiesUsed     int     `json:"abilitiesUsed"`
	ResourcesCaptured float64 `json:"resourcesCaptured"`
}

// SessionStats производная статистика сессии
type SessionStats struct {
	Attacker           SideStats `json:"attacker"`
	Defender           SideStats `json:"defender"`
	BuildingsDestroyed int       `json:"buildingsDestroyed"`
	TotalEvents        int       `json:"totalEvents"`
}

func (st *SessionStats) side(attacker bool) *SideStats {
	if attacker {
		return &st.Attacker
	}
	return &st.Defender
}

// StatsAccumulator собирает статистику по одному событию за раз,
// чтобы её можно было считать в том же проходе, что и другие свёртки.
type StatsAccumulator struct {
	st SessionStats
}

// Add учитывает событие. Урон засчитывается стороне источника,
// спавн и гибель: стороне самого юнита.
func (a *StatsAccumulator) Add(ev BattleEvent) {
	a.st.TotalEvents++
	side := a.st.side(ev.IsAttackerSide)
	switch ev.Type {
	case EventUnitAttacked, EventBuildingDamaged, EventDefenseFired:
		side.DamageDealt += ev.Value
	case EventUnitSpawned:
		side.UnitsDeployed++
	case EventUnitDied:
		side.UnitsLost++
	case EventBuildingDestroyed:
		a.st.BuildingsDestroyed++
	case EventSpecialAbilityUsed:
		side.AbilitiesUsed++
	case EventResourceCaptured:
		side.ResourcesCaptured += ev.Value
	}
}

// Result возвращает статистику; DPS считается по длительности боя
func (a *StatsAccumulator) Result(duration float64) SessionStats {
	st := a.st
	if duration > 0 {
		st.Attacker.DPS = st.Attacker.DamageDealt / duration
		st.Defender.DPS = st.Defender.DamageDealt / duration
	}
	return st
}

// ComputeStats считает статистику за один проход по событиям
func ComputeStats(events []BattleEvent, duration float64) SessionStats {
	var acc StatsAccumulator
	for _, ev := range events {
		acc.Add(ev)
	}
	return acc.Result(duration)
}
