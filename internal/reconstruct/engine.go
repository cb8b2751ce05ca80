// Package reconstruct восстанавливает состояние поля боя в произвольный момент
// времени по логу событий сессии.
package reconstruct

import (
	"math"
	"sort"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/vec"
)

// sample точка трека юнита
type sample struct {
	ts   float64
	pos  vec.Vec3Float
	kind battle.EventKind
}

// Engine держит индекс треков позиций для одной финализированной сессии.
// Сессия не меняется, поэтому индекс строится один раз и переиспользуется.
type Engine struct {
	session *battle.Session
	tracks  map[string][]sample
}

// NewEngine строит индекс треков для сессии
func NewEngine(s *battle.Session) *Engine {
	tracks := make(map[string][]sample)
	for _, ev := range s.Events {
		switch ev.Type {
		case battle.EventUnitSpawned, battle.EventUnitMoved:
			tracks[ev.UnitID] = append(tracks[ev.UnitID], sample{ts: ev.Timestamp, pos: ev.Position, kind: ev.Type})
		case battle.EventUnitDied:
			id := unitSubject(ev)
			if _, ok := tracks[id]; ok {
				tracks[id] = append(tracks[id], sample{ts: ev.Timestamp, kind: ev.Type})
			}
		}
	}
	return &Engine{session: s, tracks: tracks}
}

// Session возвращает сессию движка
func (e *Engine) Session() *battle.Session { return e.session }

// At восстанавливает состояние на момент t
func (e *Engine) At(t float64) battle.BattlefieldState {
	f := e.NewFolder()
	f.AdvanceTo(t)
	return f.State()
}

// Reconstruct чистая функция (session, t) -> состояние.
// Для частых вызовов по одной сессии выгоднее держать Engine.
func Reconstruct(s *battle.Session, t float64) battle.BattlefieldState {
	return NewEngine(s).At(t)
}

// nextMove возвращает следующий семпл перемещения после t, если он относится
// к той же жизни юнита (между ними нет смерти или повторного спавна).
func (e *Engine) nextMove(unitID string, t float64) (sample, bool) {
	track := e.tracks[unitID]
	i := sort.Search(len(track), func(i int) bool { return track[i].ts > t })
	if i >= len(track) || track[i].kind != battle.EventUnitMoved {
		return sample{}, false
	}
	return track[i], true
}

// unitFold свёрнутое дискретное состояние юнита
type unitFold struct {
	state      battle.UnitState
	sampleTime float64
}

// Folder инкрементальная свёртка лога. Свёртка до t1 и затем до t2
// даёт то же состояние, что и свёртка сразу до t2.
type Folder struct {
	engine    *Engine
	cursor    int
	clock     float64
	units     map[string]*unitFold
	buildings map[string]battle.BuildingState
	resources [2]float64 // 0: защитники, 1: атакующие
}

// NewFolder создаёт свёртку, засеянную начальными зданиями
func (e *Engine) NewFolder() *Folder {
	f := &Folder{
		engine:    e,
		units:     make(map[string]*unitFold),
		buildings: make(map[string]battle.BuildingState, len(e.session.InitialBuildings)),
	}
	for _, b := range e.session.InitialBuildings {
		f.buildings[b.ID] = battle.BuildingState{
			Type:      b.Type,
			Position:  b.Position,
			Health:    b.Health,
			MaxHealth: b.MaxHealth,
		}
	}
	return f
}

// Cursor индекс первого ещё не применённого события
func (f *Folder) Cursor() int { return f.cursor }

// Clock время, до которого выполнена свёртка
func (f *Folder) Clock() float64 { return f.clock }

// AdvanceTo применяет все события с Timestamp <= t, начиная с курсора,
// и возвращает применённые события. При t >= длительности сессии
// применяется весь лог, иначе при t <= 0 ничего не применяется.
// Конец сессии проверяется первым: у сессии нулевой длительности t=0 и есть конец.
// Возвращаемый срез ссылается на лог сессии и только читается.
func (f *Folder) AdvanceTo(t float64) []battle.BattleEvent {
	events := f.engine.session.Events
	if t > f.clock {
		f.clock = t
	}

	var limit float64
	switch {
	case t < 0:
		return nil
	case t >= f.engine.session.Duration:
		limit = math.Inf(1)
	case t == 0:
		return nil
	default:
		limit = t
	}

	start := f.cursor
	for f.cursor < len(events) && events[f.cursor].Timestamp <= limit {
		f.Apply(events[f.cursor])
		f.cursor++
	}
	return events[start:f.cursor:f.cursor]
}

// Apply применяет эффект одного события. Ссылки на неизвестные сущности игнорируются.
func (f *Folder) Apply(ev battle.BattleEvent) {
	switch ev.Type {
	case battle.EventUnitSpawned:
		f.units[ev.UnitID] = &unitFold{
			state: battle.UnitState{
				UnitType:       ev.UnitType,
				Position:       ev.Position,
				Health:         ev.Value,
				MaxHealth:      ev.Value,
				IsAttackerSide: ev.IsAttackerSide,
			},
			sampleTime: ev.Timestamp,
		}

	case battle.EventUnitMoved:
		if u, ok := f.units[ev.UnitID]; ok {
			u.state.Position = ev.Position
			u.sampleTime = ev.Timestamp
		}

	case battle.EventUnitAttacked, battle.EventDefenseFired:
		if u, ok := f.units[ev.TargetID]; ok {
			u.state.Health = math.Max(0, u.state.Health-ev.Value)
		}

	case battle.EventUnitDied:
		delete(f.units, unitSubject(ev))

	case battle.EventBuildingDamaged:
		id := buildingSubject(ev)
		if b, ok := f.buildings[id]; ok {
			b.Health = math.Max(0, b.Health-ev.Value)
			f.buildings[id] = b
		}

	case battle.EventBuildingDestroyed:
		delete(f.buildings, buildingSubject(ev))

	case battle.EventResourceCaptured:
		if ev.IsAttackerSide {
			f.resources[1] += ev.Value
		} else {
			f.resources[0] += ev.Value
		}
	}
}

// State возвращает состояние на время свёртки с интерполяцией позиций юнитов
func (f *Folder) State() battle.BattlefieldState {
	st := battle.NewBattlefieldState()
	st.Time = f.clock
	st.DefenderResources = f.resources[0]
	st.AttackerResources = f.resources[1]

	for id, b := range f.buildings {
		st.ActiveBuildings[id] = b
	}

	for id, u := range f.units {
		us := u.state
		if next, ok := f.engine.nextMove(id, f.clock); ok && next.ts > u.sampleTime {
			alpha := (f.clock - u.sampleTime) / (next.ts - u.sampleTime)
			us.Position = u.state.Position.Lerp(next.pos, alpha)
		}
		st.ActiveUnits[id] = us
	}
	return st
}

func unitSubject(ev battle.BattleEvent) string {
	if ev.UnitID != "" {
		return ev.UnitID
	}
	return ev.TargetID
}

func buildingSubject(ev battle.BattleEvent) string {
	if ev.TargetID != "" {
		return ev.TargetID
	}
	return ev.UnitID
}
