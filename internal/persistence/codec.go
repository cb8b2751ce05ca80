package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/battle-replay/internal/battle"
	"github.com/annel0/battle-replay/internal/highlight"
	"github.com/annel0/battle-replay/internal/logging"
	"github.com/annel0/battle-replay/internal/vec"
)

// sessionDoc формат хранения сессии
type sessionDoc struct {
	ID               string         `json:"id"`
	TerritoryID      string         `json:"territoryId"`
	TerritoryName    string         `json:"territoryName"`
	AttackerID       string         `json:"attackerId"`
	AttackerName     string         `json:"attackerName"`
	DefenderID       string         `json:"defenderId"`
	DefenderName     string         `json:"defenderName"`
	StartTime        string         `json:"startTime"`
	Duration         float64        `json:"duration"`
	AttackerWon      bool           `json:"attackerWon"`
	InitialBuildings []buildingDoc  `json:"initialBuildings"`
	Events           []eventDoc     `json:"events"`
	Highlights       []highlightDoc `json:"highlights"`
	Stats            statsDoc       `json:"stats"`
}

type buildingDoc struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Position  vec.Vec3Float `json:"position"`
	Rotation  vec.Vec3Float `json:"rotation"`
	Scale     vec.Vec3Float `json:"scale"`
	Health    float64       `json:"health"`
	MaxHealth float64       `json:"maxHealth"`
}

type eventDoc struct {
	Type           string        `json:"type"`
	Timestamp      float64       `json:"timestamp"`
	UnitID         string        `json:"unitId"`
	SourceID       string        `json:"sourceId"`
	TargetID       string        `json:"targetId"`
	UnitType       string        `json:"unitType"`
	AbilityType    string        `json:"abilityType"`
	Position       vec.Vec3Float `json:"position"`
	Value          float64       `json:"value"`
	IsAttackerSide bool          `json:"isAttackerSide"`
}

type highlightDoc struct {
	Type        string        `json:"type"`
	Timestamp   float64       `json:"timestamp"`
	Description string        `json:"description"`
	Importance  int           `json:"importance"`
	EntityID    string        `json:"entityId"`
	Position    vec.Vec3Float `json:"position"`
}

type sideStatsDoc struct {
	DamageDealt       float64 `json:"damageDealt"`
	DPS               float64 `json:"dps"`
	UnitsDeployed     int     `json:"unitsDeployed"`
	UnitsLost         int     `json:"unitsLost"`
	AbilitiesUsed     int     `json:"abilitiesUsed"`
	ResourcesCaptured float64 `json:"resourcesCaptured"`
}

type statsDoc struct {
	Attacker           sideStatsDoc `json:"attacker"`
	Defender           sideStatsDoc `json:"defender"`
	BuildingsDestroyed int          `json:"buildingsDestroyed"`
	TotalEvents        int          `json:"totalEvents"`
}

// DecodeReport что пришлось исправить при разборе документа
type DecodeReport struct {
	DroppedEvents     int  `json:"droppedEvents"`
	DroppedHighlights int  `json:"droppedHighlights"`
	Resorted          bool `json:"resorted"`
	RecomputedStats   bool `json:"recomputedStats"`
	RecomputedMoments bool `json:"recomputedMoments"`
}

// Codec переводит сессию в JSON-документ и обратно.
// Разбор терпим к неполным документам: отсутствующие или неверные поля
// получают значения по умолчанию, ошибкой считается только неразбираемый документ.
type Codec struct {
	highlights highlight.Config
	log        *logging.Logger
}

// NewCodec создаёт кодек; cfg нужен для пересчёта отсутствующих моментов
func NewCodec(cfg highlight.Config) *Codec {
	return &Codec{highlights: cfg, log: logging.GetStorageLogger()}
}

// EncodeSession сериализует сессию
func (c *Codec) EncodeSession(s *battle.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("encode: nil session")
	}
	return json.Marshal(toDoc(s))
}

// EncodeEvent сериализует одно событие в формате документа
func (c *Codec) EncodeEvent(ev battle.BattleEvent) ([]byte, error) {
	return json.Marshal(eventToDoc(ev))
}

// DecodeEvent разбирает одно событие; неизвестный тип: ошибка
func (c *Codec) DecodeEvent(data []byte) (battle.BattleEvent, error) {
	f, ok := parseFields(data)
	if !ok {
		return battle.BattleEvent{}, &MalformedSessionError{Err: fmt.Errorf("event is not an object")}
	}
	ev, ok := eventFromFields(f)
	if !ok {
		return battle.BattleEvent{}, fmt.Errorf("unknown event type %q", f.str("type"))
	}
	return ev, nil
}

// DecodeSession разбирает документ и финализирует сессию
func (c *Codec) DecodeSession(data []byte) (*battle.Session, error) {
	s, report, err := c.DecodeSessionReport(data)
	if err != nil {
		return nil, err
	}
	if report.DroppedEvents > 0 || report.DroppedHighlights > 0 || report.Resorted {
		c.log.Warn("Сессия %s разобрана с исправлениями: отброшено событий %d, моментов %d, пересортировка %v",
			s.ID, report.DroppedEvents, report.DroppedHighlights, report.Resorted)
	}
	return s, nil
}

// DecodeSessionReport как DecodeSession, но дополнительно возвращает отчёт об исправлениях
func (c *Codec) DecodeSessionReport(data []byte) (*battle.Session, DecodeReport, error) {
	var report DecodeReport

	f, ok := parseFields(data)
	if !ok {
		var probe any
		err := json.Unmarshal(data, &probe)
		if err == nil {
			err = fmt.Errorf("document is %T, want object", probe)
		}
		return nil, report, &MalformedSessionError{Err: err}
	}

	s := &battle.Session{
		ID:            f.str("id"),
		TerritoryID:   f.str("territoryId"),
		TerritoryName: f.str("territoryName"),
		AttackerID:    f.str("attackerId"),
		AttackerName:  f.str("attackerName"),
		DefenderID:    f.str("defenderId"),
		DefenderName:  f.str("defenderName"),
		StartTime:     f.time("startTime"),
		Duration:      f.num("duration"),
		AttackerWon:   f.boolean("attackerWon"),
	}

	for _, raw := range f.list("initialBuildings") {
		b, ok := parseFields(raw)
		if !ok {
			continue
		}
		s.InitialBuildings = append(s.InitialBuildings, battle.BuildingSnapshot{
			ID:        b.str("id"),
			Type:      b.str("type"),
			Position:  b.vec("position"),
			Rotation:  b.vec("rotation"),
			Scale:     b.vec("scale"),
			Health:    b.num("health"),
			MaxHealth: b.num("maxHealth"),
		})
	}

	events := f.list("events")
	s.Events = make([]battle.BattleEvent, 0, len(events))
	for _, raw := range events {
		e, ok := parseFields(raw)
		if !ok {
			report.DroppedEvents++
			continue
		}
		ev, ok := eventFromFields(e)
		if !ok {
			report.DroppedEvents++
			continue
		}
		s.Events = append(s.Events, ev)
	}

	if !sort.SliceIsSorted(s.Events, func(i, j int) bool { return s.Events[i].Timestamp < s.Events[j].Timestamp }) {
		sort.SliceStable(s.Events, func(i, j int) bool { return s.Events[i].Timestamp < s.Events[j].Timestamp })
		report.Resorted = true
	}
	if n := len(s.Events); n > 0 && s.Events[n-1].Timestamp > s.Duration {
		s.Duration = s.Events[n-1].Timestamp
	}

	// после потери или перестановки событий сохранённые моменты и статистика
	// могут ссылаться на чужой журнал
	eventsChanged := report.DroppedEvents > 0 || report.Resorted

	if f.has("highlights") && !eventsChanged {
		for _, raw := range f.list("highlights") {
			h, ok := parseFields(raw)
			if !ok {
				report.DroppedHighlights++
				continue
			}
			kind, ok := battle.ParseHighlightKind(h.str("type"))
			if !ok {
				report.DroppedHighlights++
				continue
			}
			s.Highlights = append(s.Highlights, battle.HighlightMoment{
				Type:        kind,
				Timestamp:   h.num("timestamp"),
				Description: h.str("description"),
				Importance:  clampImportance(h.int("importance")),
				EntityID:    h.str("entityId"),
				Position:    h.vec("position"),
			})
		}
	} else {
		s.Highlights = highlight.Detect(s.Events, c.highlights)
		report.RecomputedMoments = true
	}

	if st, ok := parseFields(f["stats"]); ok && report.DroppedEvents == 0 {
		s.Stats = battle.SessionStats{
			Attacker:           sideStatsFromFields(st.object("attacker")),
			Defender:           sideStatsFromFields(st.object("defender")),
			BuildingsDestroyed: st.int("buildingsDestroyed"),
			TotalEvents:        st.int("totalEvents"),
		}
	} else {
		s.Stats = battle.ComputeStats(s.Events, s.Duration)
		report.RecomputedStats = true
	}

	s.Freeze()
	return s, report, nil
}

func clampImportance(v int) int {
	return max(1, min(v, 5))
}

func eventFromFields(e fields) (battle.BattleEvent, bool) {
	kind, ok := battle.ParseEventKind(e.str("type"))
	if !ok {
		return battle.BattleEvent{}, false
	}
	return battle.BattleEvent{
		Type:           kind,
		Timestamp:      e.num("timestamp"),
		UnitID:         e.str("unitId"),
		SourceID:       e.str("sourceId"),
		TargetID:       e.str("targetId"),
		UnitType:       e.str("unitType"),
		AbilityType:    e.str("abilityType"),
		Position:       e.vec("position"),
		Value:          e.num("value"),
		IsAttackerSide: e.boolean("isAttackerSide"),
	}, true
}

func sideStatsFromFields(f fields) battle.SideStats {
	return battle.SideStats{
		DamageDealt:       f.num("damageDealt"),
		DPS:               f.num("dps"),
		UnitsDeployed:     f.int("unitsDeployed"),
		UnitsLost:         f.int("unitsLost"),
		AbilitiesUsed:     f.int("abilitiesUsed"),
		ResourcesCaptured: f.num("resourcesCaptured"),
	}
}

func toDoc(s *battle.Session) sessionDoc {
	doc := sessionDoc{
		ID:               s.ID,
		TerritoryID:      s.TerritoryID,
		TerritoryName:    s.TerritoryName,
		AttackerID:       s.AttackerID,
		AttackerName:     s.AttackerName,
		DefenderID:       s.DefenderID,
		DefenderName:     s.DefenderName,
		Duration:         s.Duration,
		AttackerWon:      s.AttackerWon,
		InitialBuildings: make([]buildingDoc, len(s.InitialBuildings)),
		Events:           make([]eventDoc, len(s.Events)),
		Highlights:       make([]highlightDoc, len(s.Highlights)),
		Stats: statsDoc{
			Attacker:           sideStatsToDoc(s.Stats.Attacker),
			Defender:           sideStatsToDoc(s.Stats.Defender),
			BuildingsDestroyed: s.Stats.BuildingsDestroyed,
			TotalEvents:        s.Stats.TotalEvents,
		},
	}
	if !s.StartTime.IsZero() {
		doc.StartTime = s.StartTime.UTC().Format(time.RFC3339Nano)
	}
	for i, b := range s.InitialBuildings {
		doc.InitialBuildings[i] = buildingDoc(b)
	}
	for i, ev := range s.Events {
		doc.Events[i] = eventToDoc(ev)
	}
	for i, h := range s.Highlights {
		doc.Highlights[i] = highlightDoc{
			Type:        h.Type.String(),
			Timestamp:   h.Timestamp,
			Description: h.Description,
			Importance:  h.Importance,
			EntityID:    h.EntityID,
			Position:    h.Position,
		}
	}
	return doc
}

func eventToDoc(ev battle.BattleEvent) eventDoc {
	return eventDoc{
		Type:           ev.Type.String(),
		Timestamp:      ev.Timestamp,
		UnitID:         ev.UnitID,
		SourceID:       ev.SourceID,
		TargetID:       ev.TargetID,
		UnitType:       ev.UnitType,
		AbilityType:    ev.AbilityType,
		Position:       ev.Position,
		Value:          ev.Value,
		IsAttackerSide: ev.IsAttackerSide,
	}
}

func sideStatsToDoc(st battle.SideStats) sideStatsDoc {
	return sideStatsDoc(st)
}

// fields объект документа с терпимым чтением полей
type fields map[string]json.RawMessage

func parseFields(raw []byte) (fields, bool) {
	var f fields
	if len(raw) == 0 || json.Unmarshal(raw, &f) != nil || f == nil {
		return nil, false
	}
	return f, true
}

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f fields) str(key string) string {
	var s string
	if json.Unmarshal(f[key], &s) != nil {
		return ""
	}
	return s
}

func (f fields) num(key string) float64 {
	var n float64
	if json.Unmarshal(f[key], &n) != nil {
		return 0
	}
	return n
}

func (f fields) int(key string) int {
	return int(f.num(key))
}

func (f fields) boolean(key string) bool {
	var b bool
	if json.Unmarshal(f[key], &b) != nil {
		return false
	}
	return b
}

func (f fields) object(key string) fields {
	sub, ok := parseFields(f[key])
	if !ok {
		return fields{}
	}
	return sub
}

func (f fields) vec(key string) vec.Vec3Float {
	p := f.object(key)
	return vec.Vec3Float{X: p.num("x"), Y: p.num("y"), Z: p.num("z")}
}

func (f fields) list(key string) []json.RawMessage {
	var items []json.RawMessage
	if json.Unmarshal(f[key], &items) != nil {
		return nil
	}
	return items
}

// time принимает RFC 3339 или unix-время в миллисекундах
func (f fields) time(key string) time.Time {
	if s := f.str(key); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		return time.Time{}
	}
	if ms := f.num(key); ms > 0 {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}
